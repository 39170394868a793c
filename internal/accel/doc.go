// Package accel implements the fabric's accelerator shim, documented in
// detail alongside the Shim interface in shim.go.
package accel
