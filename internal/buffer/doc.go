// Package buffer provides the scratch-buffer pool the accelerator shim
// allocates operand and result vectors from, documented alongside BytePool
// in pool.go.
package buffer
