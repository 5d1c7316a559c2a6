package simulator

import (
	"math"
	"sync/atomic"
)

// source is a lightweight per-stock pseudo-random generator. Each tracked
// stock owns one, so concurrent ticks across stocks never share generator
// state and sequences cannot lock-step. The splitmix64 step advances the
// state with a single atomic add, safe under concurrent advancement.
type source struct {
	state atomic.Uint64
}

func newSource(seed uint64) *source {
	s := &source{}
	s.state.Store(seed)
	return s
}

// next returns the next 64-bit value (splitmix64).
func (s *source) next() uint64 {
	z := s.state.Add(0x9e3779b97f4a7c15)
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// uniform returns a draw in the open interval (0, 1).
func (s *source) uniform() float64 {
	for {
		u := float64(s.next()>>11) / (1 << 53)
		if u > 0 {
			return u
		}
	}
}

// normal returns a standard normal draw via the Box-Muller transform over two
// independent uniforms.
func (s *source) normal() float64 {
	u1 := s.uniform()
	u2 := s.uniform()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}
