package benchmark

import (
	"math"
	mrand "math/rand"
	"sync/atomic"
)

// KeyDistribution defines how keys are accessed during a loadtest run.
type KeyDistribution string

const (
	DistUniform    KeyDistribution = "uniform"    // all keys equally likely
	DistZipfian    KeyDistribution = "zipfian"    // 80/20 rule (realistic)
	DistSequential KeyDistribution = "sequential" // sequential access
	DistLatest     KeyDistribution = "latest"     // recent keys weighted heavier
)

// KeyGenerator generates uint32 keys over [0, numKeys) according to a
// distribution.
type KeyGenerator struct {
	numKeys      uint32
	distribution KeyDistribution
	rng          *mrand.Rand

	zipf *mrand.Zipf

	seqCounter atomic.Uint32
}

func NewKeyGenerator(numKeys uint32, distribution KeyDistribution, seed int64) *KeyGenerator {
	rng := mrand.New(mrand.NewSource(seed))

	kg := &KeyGenerator{
		numKeys:      numKeys,
		distribution: distribution,
		rng:          rng,
	}

	if distribution == DistZipfian {
		kg.zipf = mrand.NewZipf(rng, 1.1, 1, uint64(numKeys)-1)
	}

	return kg
}

// NextKey returns the next key in [0, numKeys) per the configured
// distribution.
func (kg *KeyGenerator) NextKey() uint32 {
	switch kg.distribution {
	case DistUniform:
		return uint32(kg.rng.Intn(int(kg.numKeys)))

	case DistZipfian:
		return uint32(kg.zipf.Uint64())

	case DistSequential:
		return kg.seqCounter.Add(1) % kg.numKeys

	case DistLatest:
		rangeSize := int(kg.numKeys) / 10
		if rangeSize < 1 {
			rangeSize = 1
		}
		offset := int(math.Abs(kg.rng.NormFloat64()) * float64(rangeSize))
		keyNum := int(kg.numKeys) - 1 - offset
		if keyNum < 0 {
			keyNum = 0
		}
		return uint32(keyNum)

	default:
		return uint32(kg.rng.Intn(int(kg.numKeys)))
	}
}

// GenerateSequential returns the nth key in deterministic sequential order,
// used for preloading a known key set before the measured phase.
func (kg *KeyGenerator) GenerateSequential(n uint32) uint32 {
	return n % kg.numKeys
}
