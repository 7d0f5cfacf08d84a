package radio

import "testing"

func TestKalmanConvergesToConstant(t *testing.T) {
	k := NewKalmanFilter2(0.01, 1.0)
	var v float64
	for i := 0; i < 200; i++ {
		v, _ = k.Update(10.0, 1)
	}
	if v < 9.5 || v > 10.5 {
		t.Fatalf("filter did not converge: got %v", v)
	}
}

func TestHealthScoreHighForGoodSignal(t *testing.T) {
	h := NewHealth()
	var score float64
	for i := 0; i < 50; i++ {
		score = h.Update(Metrics{SinrDb: 25, RsrqDb: -5, LossRate: 0.001, JitterMs: 2, CQI: 15})
	}
	if score <= HealthyThreshold {
		t.Fatalf("expected healthy score, got %v", score)
	}
}

func TestHealthScoreLowForBadSignal(t *testing.T) {
	h := NewHealth()
	var score float64
	for i := 0; i < 50; i++ {
		score = h.Update(Metrics{SinrDb: -15, RsrqDb: -19, LossRate: 0.3, JitterMs: 90, CQI: 0})
	}
	if score >= HealthyThreshold {
		t.Fatalf("expected unhealthy score, got %v", score)
	}
}

func TestImpendingHandoverDetectsSteepSinrDrop(t *testing.T) {
	h := NewHealth()
	for i := 0; i < 10; i++ {
		h.Update(Metrics{SinrDb: 20, RsrqDb: -5, LossRate: 0, JitterMs: 5})
	}
	for i := 0; i < 5; i++ {
		h.Update(Metrics{SinrDb: 20 - float64(i+1)*3, RsrqDb: -5, LossRate: 0, JitterMs: 5})
	}
	if !h.ImpendingHandover() {
		t.Fatalf("expected impending-handover flag after steep SINR drop, velocity=%v", h.SinrVelocity())
	}
}

func TestCQIThroughputMonotone(t *testing.T) {
	prev := -1.0
	for cqi := 0; cqi <= 15; cqi++ {
		v := CQIToThroughputMbps(cqi)
		if v < prev {
			t.Fatalf("CQIToThroughputMbps not monotone at %d: %v < %v", cqi, v, prev)
		}
		prev = v
	}
}

func TestSINRCapacityClamped(t *testing.T) {
	if c := SINRToCapacityMbps(1000); c > cqiToMbps[15] {
		t.Fatalf("expected clamp at top CQI ceiling, got %v", c)
	}
	if c := SINRToCapacityMbps(-1000); c < 0 {
		t.Fatalf("expected non-negative floor, got %v", c)
	}
}
