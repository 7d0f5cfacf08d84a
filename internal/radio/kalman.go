// Package radio implements the Kalman-filtered composite link health score
// of spec.md §4.4: per-signal two-state ([value, velocity]) filters over
// SINR, RSRQ, loss and jitter, combined into a 0-100 composite score that
// the congestion controller and scheduler read.
package radio

// KalmanFilter2 is a minimal two-state (value, velocity) linear Kalman
// filter, the standard constant-velocity model used to track a noisy
// scalar signal and its rate of change. Grounded directly on spec.md
// §4.4; no example repo in the pack implements Kalman filtering, so this
// is hand-written irreducible domain math (see DESIGN.md).
type KalmanFilter2 struct {
	// state
	value    float64
	velocity float64

	// covariance matrix P = [[p00,p01],[p10,p11]]
	p00, p01, p10, p11 float64

	processNoise     float64 // Q, per-tick process noise
	measurementNoise float64 // R, measurement noise

	initialized bool
}

// NewKalmanFilter2 creates a filter with the given process/measurement
// noise presets (spec.md §4.4: "tuned per signal type").
func NewKalmanFilter2(processNoise, measurementNoise float64) *KalmanFilter2 {
	return &KalmanFilter2{
		processNoise:     processNoise,
		measurementNoise: measurementNoise,
		p00:              1, p01: 0, p10: 0, p11: 1,
	}
}

// Update feeds one measurement taken dt ticks (nominally 1) after the
// previous one, returning the filtered value and velocity estimates.
func (k *KalmanFilter2) Update(measurement float64, dt float64) (value, velocity float64) {
	if !k.initialized {
		k.value = measurement
		k.velocity = 0
		k.initialized = true
		return k.value, k.velocity
	}
	if dt <= 0 {
		dt = 1
	}

	// Predict: x = F x, P = F P F^T + Q
	predictedValue := k.value + k.velocity*dt
	predictedVelocity := k.velocity

	// F = [[1, dt], [0, 1]]
	p00 := k.p00 + dt*(k.p10+k.p01) + dt*dt*k.p11
	p01 := k.p01 + dt*k.p11
	p10 := k.p10 + dt*k.p11
	p11 := k.p11
	q := k.processNoise
	p00 += q
	p11 += q

	// Update: y = z - H x (H = [1,0]), S = H P H^T + R, K = P H^T / S
	innovation := measurement - predictedValue
	s := p00 + k.measurementNoise
	kGain0 := p00 / s
	kGain1 := p10 / s

	k.value = predictedValue + kGain0*innovation
	k.velocity = predictedVelocity + kGain1*innovation

	k.p00 = (1 - kGain0) * p00
	k.p01 = (1 - kGain0) * p01
	k.p10 = p10 - kGain1*p00
	k.p11 = p11 - kGain1*p01

	return k.value, k.velocity
}

// Value returns the current filtered estimate without a new measurement.
func (k *KalmanFilter2) Value() float64 { return k.value }

// Velocity returns the current filtered rate of change per tick.
func (k *KalmanFilter2) Velocity() float64 { return k.velocity }
