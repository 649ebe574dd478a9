package tgcrypt

import (
	"fmt"
	"math/bits"
)

func mulMod(a, b, m uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	return bits.Rem64(hi, lo, m)
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// brent runs Pollard-Brent rho with polynomial y^2+c and returns a divisor
// of n, which may be n itself on failure.
func brent(n, c uint64) uint64 {
	const m = 128
	f := func(y uint64) uint64 {
		return (mulMod(y, y, n) + c) % n
	}
	y, r, q, g := uint64(2), uint64(1), uint64(1), uint64(1)
	var x, ys uint64
	for g == 1 {
		x = y
		for i := uint64(0); i < r; i++ {
			y = f(y)
		}
		for k := uint64(0); k < r && g == 1; k += m {
			ys = y
			for i := uint64(0); i < min(m, r-k); i++ {
				y = f(y)
				q = mulMod(q, absDiff(x, y), n)
			}
			g = gcd(q, n)
		}
		r *= 2
	}
	if g == n {
		for {
			ys = f(ys)
			g = gcd(absDiff(x, ys), n)
			if g > 1 {
				break
			}
		}
	}
	return g
}

// Factorize splits pq into two factors p < q, as required by resPQ.
func Factorize(pq uint64) (p, q uint64, err error) {
	if pq < 4 {
		return 0, 0, fmt.Errorf("can't factorize %d", pq)
	}
	if pq%2 == 0 {
		return 2, pq / 2, nil
	}
	for c := uint64(1); c < 64; c++ {
		g := brent(pq, c)
		if g == 1 || g == pq {
			continue
		}
		p, q = g, pq/g
		if p > q {
			p, q = q, p
		}
		return p, q, nil
	}
	return 0, 0, fmt.Errorf("can't factorize %d", pq)
}
