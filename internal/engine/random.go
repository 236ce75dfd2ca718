package engine

// randState is the per-worker pseudo-random generator. One instance is
// owned exclusively by a single pixel's logical thread and carried across
// all of that pixel's sub-ray samples within a frame; two workers never
// touch the same state. The integer hash matches the GLSL kernel in the
// GPU backend bit for bit, so both backends draw comparable sequences.
type randState struct {
	s uint32
}

// hashU32 is a small avalanche hash (lowbias32 variant).
func hashU32(x uint32) uint32 {
	x ^= x >> 17
	x *= 0xed5ad4bb
	x ^= x >> 11
	x *= 0xac4c1b51
	x ^= x >> 15
	x *= 0x31848bab
	x ^= x >> 14
	return x
}

func newRandState(seed uint32) randState {
	// Нулевое зерно дало бы вырожденную последовательность.
	if seed == 0 {
		seed = 0x9e3779b9
	}
	return randState{s: seed}
}

// Float32 returns the next sample in [0,1).
func (r *randState) Float32() float32 {
	r.s = hashU32(r.s)
	return f32FromBits(r.s)
}

// f32FromBits maps a 32-bit draw onto [0,1) from its top 24 bits — the
// exact mantissa width of float32. Dividing the full 32-bit value by 2^32
// would round states near 2^32 up to exactly 1.
func f32FromBits(u uint32) float32 {
	return float32(u>>8) * (1.0 / (1 << 24))
}

// Float64 returns the next sample in [0,1) with two draws of entropy.
func (r *randState) Float64() float64 {
	hi := uint64(r.nextU32())
	lo := uint64(r.nextU32())
	return float64(hi<<21|lo>>11) / float64(1<<53)
}

func (r *randState) nextU32() uint32 {
	r.s = hashU32(r.s)
	return r.s
}
