// Package preload implements the fabric's preload manager, documented in
// detail alongside the Manager type in manager.go.
package preload
