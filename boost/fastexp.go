package boost

import (
	"math"

	"github.com/klauspost/cpuid/v2"
)

// Schraudolph-style approximate exponential working directly on the
// IEEE-754 binary64 bit layout. Relative error is below 3%; underflow
// saturates to 0 and overflow to +Inf. The float-to-bits round trip goes
// through math.Float64frombits, never unsafe casts.

const (
	fastExpA = (1 << 52) / 0.6931471805599453
	fastExpB = (1 << 52) * (1023 - 0.04367744890362246)
	fastExpC = (1 << 52) * 2047
)

func fastExp(x float64) float64 {
	x = fastExpA*x + fastExpB

	// if underflow, return 0
	if x < 0 {
		x = 0
	}
	// if overflow, return positive infinity
	if x > fastExpC {
		x = fastExpC
	}

	return math.Float64frombits(uint64(int64(x)))
}

// wide vector units make the four-lane block profitable; checked once at
// startup
var hasWideVectors = cpuid.CPU.Supports(cpuid.AVX2)

// fastExpBlock4 computes dst[i] = fastExp(src[i]) four lanes at a time.
// len(dst) must equal len(src).
func fastExpBlock4(dst, src []float64) {
	i := 0
	for ; i+4 <= len(src); i += 4 {
		x0 := fastExpA*src[i] + fastExpB
		x1 := fastExpA*src[i+1] + fastExpB
		x2 := fastExpA*src[i+2] + fastExpB
		x3 := fastExpA*src[i+3] + fastExpB
		x0 = math.Min(math.Max(x0, 0), fastExpC)
		x1 = math.Min(math.Max(x1, 0), fastExpC)
		x2 = math.Min(math.Max(x2, 0), fastExpC)
		x3 = math.Min(math.Max(x3, 0), fastExpC)
		dst[i] = math.Float64frombits(uint64(int64(x0)))
		dst[i+1] = math.Float64frombits(uint64(int64(x1)))
		dst[i+2] = math.Float64frombits(uint64(int64(x2)))
		dst[i+3] = math.Float64frombits(uint64(int64(x3)))
	}
	for ; i < len(src); i++ {
		dst[i] = fastExp(src[i])
	}
}
