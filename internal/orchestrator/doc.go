// Package orchestrator implements the fabric's task orchestrator and
// kernel registry, documented in detail alongside the Orchestrator and
// KernelRegistry types in orchestrator.go.
package orchestrator
