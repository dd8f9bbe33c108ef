package mathx

import "math"

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Hash2 returns a stable hash for a 2D lattice coordinate under seed.
func Hash2(seed int64, x, y int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

// Unit maps a hash to [0,1].
func Unit(h uint64) float64 {
	return float64(h>>11) / float64(1<<53-1)
}

// DeriveSeed mixes a layer salt into a world seed so each noise layer is independent.
func DeriveSeed(seed int64, salt uint64) int64 {
	return int64(mix64(uint64(seed) ^ (salt * 0xc2b2ae3d27d4eb4f)))
}

func Clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// Smoothstep eases t in [0,1] with 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	return t * t * (3 - 2*t)
}
