package scheduler

import "math"

// betaSample draws one Beta(alpha, beta) sample via two Gamma(shape, 1)
// draws (X/(X+Y)), the standard construction. Both alpha and beta start
// at 1 and only ever increment by whole successes/failures (spec.md
// §4.6), so shape is always >= 1 and the Marsaglia-Tsang Gamma sampler
// applies directly without the small-shape correction.
func betaSample(rng randSource, alpha, beta float64) float64 {
	x := gammaSample(rng, alpha)
	y := gammaSample(rng, beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// randSource is the minimal surface scheduler needs from *rand.Rand,
// letting tests inject a deterministic source.
type randSource interface {
	Float64() float64
	NormFloat64() float64
}

// gammaSample implements the Marsaglia-Tsang method for shape >= 1.
func gammaSample(rng randSource, shape float64) float64 {
	if shape < 1 {
		// shape in (0,1): boost via shape+1 then correct, standard trick.
		u := rng.Float64()
		return gammaSample(rng, shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// beta tracks one link's Thompson-sampling success/failure counts.
type beta struct {
	alpha, beta float64
}

func newBeta() beta { return beta{alpha: 1, beta: 1} }

func (b *beta) onSuccess() { b.alpha++ }
func (b *beta) onFailure() { b.beta++ }
