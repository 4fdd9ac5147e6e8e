package sample

import (
	"fmt"
	"math"
	"math/rand"
)

// Sampler generates Gamma- and Beta-distributed variates from an injected
// randomness source. Callers that need determinism pass a seeded source.
type Sampler struct {
	rng *rand.Rand
}

// NewSampler creates a sampler backed by the given source.
func NewSampler(src rand.Source) *Sampler {
	return &Sampler{rng: rand.New(src)}
}

// Gamma draws from Gamma(shape, 1) using the Marsaglia-Tsang method.
// For shape < 1 the shape is boosted by 1 and the draw is corrected
// with U^(1/shape). shape must be positive.
func (s *Sampler) Gamma(shape float64) (float64, error) {
	if shape <= 0 || math.IsNaN(shape) {
		return 0, fmt.Errorf("gamma shape must be positive, got %v", shape)
	}

	if shape < 1 {
		g, err := s.Gamma(shape + 1)
		if err != nil {
			return 0, err
		}
		u := s.uniform()
		return g * math.Pow(u, 1/shape), nil
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)

	for {
		x := s.normal()
		v := 1.0 + c*x
		v = v * v * v
		if v <= 0 {
			continue
		}

		u := s.uniform()
		x2 := x * x

		// Squeeze check avoids the log for most accepted draws
		if u < 1.0-0.0331*x2*x2 {
			return d * v, nil
		}
		if math.Log(u) < 0.5*x2+d*(1-v+math.Log(v)) {
			return d * v, nil
		}
	}
}

// Beta draws from Beta(alpha, beta) via two Gamma draws:
// G1/(G1+G2). alpha and beta must be positive.
func (s *Sampler) Beta(alpha, beta float64) (float64, error) {
	if alpha <= 0 || beta <= 0 || math.IsNaN(alpha) || math.IsNaN(beta) {
		return 0, fmt.Errorf("beta parameters must be positive, got alpha=%v beta=%v", alpha, beta)
	}

	g1, err := s.Gamma(alpha)
	if err != nil {
		return 0, err
	}
	g2, err := s.Gamma(beta)
	if err != nil {
		return 0, err
	}

	denom := g1 + g2
	if denom == 0 {
		// Both gamma draws underflowed; retry once with fresh draws
		return s.Beta(alpha, beta)
	}
	return g1 / denom, nil
}

// uniform returns a draw in (0, 1), never exactly zero so that
// math.Log is always defined.
func (s *Sampler) uniform() float64 {
	for {
		u := s.rng.Float64()
		if u > 0 {
			return u
		}
	}
}

// normal returns a standard normal draw via the Box-Muller transform.
func (s *Sampler) normal() float64 {
	u1 := s.uniform()
	u2 := s.uniform()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// Float64 exposes a uniform [0,1) draw for callers that share the
// sampler's source (epsilon-greedy exploration).
func (s *Sampler) Float64() float64 {
	return s.rng.Float64()
}
