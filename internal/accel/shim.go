// Package accel implements the fabric's accelerator shim: a uniform
// copy/add/mul/custom(op) contract over byte vectors with capability
// flags, grounded on the teacher's internal/buffer.BytePool for scratch
// buffer pooling. The portable implementation operates byte-wise; it is a
// contract, not a SIMD implementation.
package accel

import (
	"github.com/kernelfabric/fabric/internal/buffer"
	"github.com/kernelfabric/fabric/pkg/fabricerr"
)

// Capability is a bitset of operations a Shim supports.
type Capability uint8

const (
	CapCopy Capability = 1 << iota
	CapAdd
	CapMul
	CapCustom
)

// Has reports whether c includes all bits set in want.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Shim is the uniform operation surface a kernel drives compute through.
type Shim interface {
	Copy(src []byte) []byte
	Add(a, b []byte) ([]byte, error)
	Mul(a, b []byte) ([]byte, error)
	Custom(op string, operands ...[]byte) ([]byte, error)
	Capabilities() Capability
}

// CustomOp is a named byte-wise operation a PortableShim can dispatch
// through Custom.
type CustomOp func(operands ...[]byte) ([]byte, error)

// PortableShim implements Shim with plain byte-wise arithmetic, pooling
// scratch buffers from a buffer.BytePool.
type PortableShim struct {
	pool    *buffer.BytePool
	custom  map[string]CustomOp
}

// New creates a PortableShim. pool may be nil, in which case a private
// BytePool is allocated.
func New(pool *buffer.BytePool) *PortableShim {
	if pool == nil {
		pool = buffer.NewBytePool()
	}
	return &PortableShim{
		pool:   pool,
		custom: make(map[string]CustomOp),
	}
}

// RegisterCustom installs op under name, extending Custom/Capabilities
// with CapCustom once at least one op is registered.
func (s *PortableShim) RegisterCustom(name string, op CustomOp) {
	s.custom[name] = op
}

// Copy returns a pooled copy of src.
func (s *PortableShim) Copy(src []byte) []byte {
	dst := s.pool.Get(len(src))
	copy(dst, src)
	return dst
}

func equalLength(a, b []byte) error {
	if len(a) != len(b) {
		return fabricerr.Newf(fabricerr.CapabilityUnavailable, "operand length mismatch: %d != %d", len(a), len(b))
	}
	return nil
}

// Add returns a[i]+b[i] for each byte, wrapping on overflow.
func (s *PortableShim) Add(a, b []byte) ([]byte, error) {
	if err := equalLength(a, b); err != nil {
		return nil, err
	}
	out := s.pool.Get(len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out, nil
}

// Mul returns a[i]*b[i] for each byte, wrapping on overflow.
func (s *PortableShim) Mul(a, b []byte) ([]byte, error) {
	if err := equalLength(a, b); err != nil {
		return nil, err
	}
	out := s.pool.Get(len(a))
	for i := range a {
		out[i] = a[i] * b[i]
	}
	return out, nil
}

// Custom dispatches op to a registered CustomOp. Unsupported ops return
// CapabilityUnavailable; the shim itself does not retry or fall back —
// callers fall back to a portable path themselves.
func (s *PortableShim) Custom(op string, operands ...[]byte) ([]byte, error) {
	fn, ok := s.custom[op]
	if !ok {
		return nil, fabricerr.Newf(fabricerr.CapabilityUnavailable, "custom op %q not supported", op)
	}
	return fn(operands...)
}

// Capabilities reports CapCopy|CapAdd|CapMul always, plus CapCustom once
// at least one custom op is registered.
func (s *PortableShim) Capabilities() Capability {
	caps := CapCopy | CapAdd | CapMul
	if len(s.custom) > 0 {
		caps |= CapCustom
	}
	return caps
}

var _ Shim = (*PortableShim)(nil)
