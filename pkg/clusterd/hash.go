package clusterd

// Hash is the deterministic, seed-initialized 32-bit mixer used by the sticky
// balancing policy. It is bit-exact with the mixer this package's routing
// behavior was ported from: additions wrap modulo 2^31, not 2^32, and the
// final value is returned as an unsigned 32-bit integer. Collision resistance
// is not a goal; stability of (seed, input) within one master's lifetime is.
func Hash(seed uint32, input []byte) uint32 {
	const mod31 = 1 << 31

	h := uint64(seed)
	for _, b := range input {
		h = (h + uint64(b)) % mod31
		h = (h + (h << 10)) % mod31
		h ^= h >> 6
	}
	h = (h + (h << 3)) % mod31
	h ^= h >> 11
	h = (h + (h << 15)) % mod31

	return uint32(h)
}
