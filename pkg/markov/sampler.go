package markov

import "math/rand/v2"

// Sampler draws weighted choices from distributions using an injected random
// source. A Sampler is not safe for concurrent use.
type Sampler struct {
	rng *rand.Rand
}

// NewSampler returns a Sampler drawing from src. A nil src uses a randomly
// seeded PCG source.
func NewSampler(src rand.Source) *Sampler {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Sampler{rng: rand.New(src)}
}

// NewSeededSampler returns a Sampler whose draws are reproducible for a given seed.
func NewSeededSampler(seed uint64) *Sampler {
	return NewSampler(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Choose returns a key of d with probability proportional to its count. Keys
// are visited in sorted order, so a fixed seed always yields the same key.
// It returns false if d is nil or empty.
func (s *Sampler) Choose(d *Distribution) (string, bool) {
	if d.Len() == 0 || d.Total() <= 0 {
		return "", false
	}

	// Draw in [0, total) and seek to the key whose cumulative count passes it.
	draw := s.rng.Float64() * float64(d.total)
	var sum float64
	keys := d.sortedKeys()
	for _, key := range keys {
		sum += float64(d.counts[key])
		if draw < sum {
			return key, true
		}
	}
	// Only reachable through float rounding on the last key.
	return keys[len(keys)-1], true
}

// Chance reports true with probability p.
func (s *Sampler) Chance(p float64) bool {
	return p > 0 && s.rng.Float64() < p
}
