// Package threadpool implements the fabric's thread pool, documented in
// detail alongside the Pool type in pool.go.
package threadpool
