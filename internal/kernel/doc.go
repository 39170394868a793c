// Package kernel implements the fabric's worker kernel, documented in
// detail alongside the Kernel interface and its concrete implementation
// in kernel.go.
package kernel
