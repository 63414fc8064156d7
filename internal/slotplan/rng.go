package slotplan

// RNG is a splitmix32 generator. The same seed always yields the same
// sequence, which is what makes a regenerated plan reproducible.
type RNG struct {
	state uint32
}

func NewRNG(seed int64) *RNG {
	return &RNG{state: uint32(seed)}
}

// Uint32 advances the generator.
func (r *RNG) Uint32() uint32 {
	r.state += 0x9e3779b9
	t := r.state ^ (r.state >> 16)
	t *= 0x21f0aaad
	t ^= t >> 15
	t *= 0x735a2d97
	t ^= t >> 15
	return t
}

// Float returns a value in [0, 1).
func (r *RNG) Float() float64 {
	return float64(r.Uint32()) / 4294967296.0
}

// Intn returns a value in [0, n). n must be positive.
func (r *RNG) Intn(n int) int {
	i := int(r.Float() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}
