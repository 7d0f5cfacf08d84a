package radio

// Default weights and normalization ranges for the composite health score
// (spec.md §4.4).
const (
	WeightSINR   = 0.35
	WeightRSRQ   = 0.20
	WeightLoss   = 0.30
	WeightJitter = 0.15

	SinrMinDb   = -20.0
	SinrMaxDb   = 30.0
	RsrqMinDb   = -20.0
	RsrqMaxDb   = -3.0
	JitterMinMs = 0.0
	JitterMaxMs = 100.0

	HealthyThreshold = 50.0

	// DegradingVelocityDbPerTick flags impending handover when the SINR
	// Kalman filter's velocity falls below this (spec.md §4.4).
	DegradingVelocityDbPerTick = -0.5
)

// Metrics is one tick's worth of raw radio/transport telemetry for a link
// (spec.md §4.10 "per-link RF + transport metrics").
type Metrics struct {
	SinrDb    float64
	RsrqDb    float64
	RsrpDbm   float64
	LossRate  float64 // 0..1
	JitterMs  float64
	CQI       int // 0-15
}

// Health tracks the Kalman-filtered composite score for one link.
type Health struct {
	sinr   *KalmanFilter2
	rsrq   *KalmanFilter2
	loss   *KalmanFilter2
	jitter *KalmanFilter2
	rsrp   *KalmanFilter2 // tracked separately for PreHandover slope detection

	lastScore float64
}

// NewHealth creates a Health estimator with the per-signal noise presets
// spec.md §4.4 calls for.
func NewHealth() *Health {
	return &Health{
		sinr:   NewKalmanFilter2(0.05, 1.0),
		rsrq:   NewKalmanFilter2(0.05, 1.0),
		loss:   NewKalmanFilter2(0.01, 0.05),
		jitter: NewKalmanFilter2(0.5, 5.0),
		rsrp:   NewKalmanFilter2(0.1, 2.0),
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func normalize(v, lo, hi float64) float64 {
	if hi == lo {
		return 0
	}
	return clamp01((v - lo) / (hi - lo))
}

// Update feeds one tick of metrics and returns the composite 0-100 score.
func (h *Health) Update(m Metrics) float64 {
	sinrVal, _ := h.sinr.Update(m.SinrDb, 1)
	rsrqVal, _ := h.rsrq.Update(m.RsrqDb, 1)
	lossVal, _ := h.loss.Update(m.LossRate, 1)
	jitterVal, _ := h.jitter.Update(m.JitterMs, 1)
	h.rsrp.Update(m.RsrpDbm, 1)

	nSinr := normalize(sinrVal, SinrMinDb, SinrMaxDb)
	nRsrq := normalize(rsrqVal, RsrqMinDb, RsrqMaxDb)
	nLoss := clamp01(lossVal)
	nJitter := normalize(jitterVal, JitterMinMs, JitterMaxMs)

	score := WeightSINR*nSinr*100 +
		WeightRSRQ*nRsrq*100 +
		WeightLoss*(1-nLoss)*100 +
		WeightJitter*(1-nJitter)*100

	h.lastScore = score
	return score
}

// Score returns the most recently computed composite score.
func (h *Health) Score() float64 { return h.lastScore }

// Healthy reports whether the last score exceeds HealthyThreshold.
func (h *Health) Healthy() bool { return h.lastScore > HealthyThreshold }

// SinrVelocity returns the Kalman-filtered SINR rate of change per tick.
func (h *Health) SinrVelocity() float64 { return h.sinr.Velocity() }

// RsrpSlopePerTick returns the Kalman-filtered RSRP rate of change per
// tick.
func (h *Health) RsrpSlopePerTick() float64 { return h.rsrp.Velocity() }

// RsrqValue returns the filtered RSRQ estimate.
func (h *Health) RsrqValue() float64 { return h.rsrq.Value() }

// ImpendingHandover reports the "degrading SINR" signal of spec.md §4.4:
// velocity below DegradingVelocityDbPerTick.
func (h *Health) ImpendingHandover() bool {
	return h.sinr.Velocity() < DegradingVelocityDbPerTick
}

// cqiToMbps is a coarse CQI (0-15) to throughput-ceiling lookup, the kind
// of table real LTE/5G modems expose via AT commands; values are
// illustrative order-of-magnitude ceilings per spec.md §4.4.
var cqiToMbps = [16]float64{
	0.0, 0.2, 0.4, 0.8, 1.5, 3.0, 5.0, 7.2,
	9.6, 12.0, 15.6, 19.2, 24.0, 28.8, 36.0, 43.2,
}

// CQIToThroughputMbps maps a 0-15 CQI reading to a coarse capacity ceiling.
func CQIToThroughputMbps(cqi int) float64 {
	if cqi < 0 {
		cqi = 0
	}
	if cqi > 15 {
		cqi = 15
	}
	return cqiToMbps[cqi]
}

// SINRToCapacityMbps maps a SINR reading (dB) to a coarse capacity
// ceiling by scaling linearly between SinrMinDb and SinrMaxDb up to the
// CQI table's top end: capacity grows with SINR but never claims more
// than the best CQI entry implies.
func SINRToCapacityMbps(sinrDb float64) float64 {
	n := normalize(sinrDb, SinrMinDb, SinrMaxDb)
	return n * cqiToMbps[15]
}
