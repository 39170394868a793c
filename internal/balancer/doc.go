// Package balancer implements the fabric's load balancer, documented in
// detail alongside the Balancer type in balancer.go.
package balancer
