package engine

import (
	"math"
	"math/bits"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, protocol.ErrOverflow
	}
	return sum, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, protocol.ErrOverflow
	}
	return diff, nil
}

func checkedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, protocol.ErrOverflow
	}
	return lo, nil
}

// checkedPow2 returns 2^n.
func checkedPow2(n uint64) (uint64, error) {
	if n >= 64 {
		return 0, protocol.ErrOverflow
	}
	return 1 << n, nil
}

func saturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

func saturatingMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

// saturatingPow2 returns 2^n, or MaxUint64 when it does not fit.
func saturatingPow2(n uint64) uint64 {
	if n >= 64 {
		return math.MaxUint64
	}
	return 1 << n
}

func saturatingAddInt(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}

func saturatingSubInt(a, b int64) int64 {
	if b == math.MinInt64 {
		if a >= 0 {
			return math.MaxInt64
		}
		return a - b
	}
	return saturatingAddInt(a, -b)
}

// mulDiv computes a*b/d with a 128-bit intermediate.
func mulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, protocol.ErrOverflow
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, protocol.ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}
