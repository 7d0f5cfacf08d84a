package link

import (
	"testing"

	"github.com/strata-video/bonding/internal/cc"
	"github.com/strata-video/bonding/internal/linkstate"
)

func TestInitAlwaysAdvancesToProbe(t *testing.T) {
	next := transitionPhase(linkstate.PhaseInit, phaseInputs{})
	if next != linkstate.PhaseProbe {
		t.Fatalf("expected Probe, got %s", next)
	}
}

func TestProbeHoldsUntilEnoughHealthySamples(t *testing.T) {
	next := transitionPhase(linkstate.PhaseProbe, phaseInputs{probeSamples: 1, healthy: true})
	if next != linkstate.PhaseProbe {
		t.Fatalf("expected to hold in Probe, got %s", next)
	}
	next = transitionPhase(linkstate.PhaseProbe, phaseInputs{probeSamples: probeSampleThreshold, healthy: true})
	if next != linkstate.PhaseWarm {
		t.Fatalf("expected Warm after enough healthy samples, got %s", next)
	}
}

func TestProbeHoldsIfUnhealthy(t *testing.T) {
	next := transitionPhase(linkstate.PhaseProbe, phaseInputs{probeSamples: probeSampleThreshold, healthy: false})
	if next != linkstate.PhaseProbe {
		t.Fatalf("expected to hold in Probe when unhealthy, got %s", next)
	}
}

func TestWarmToLiveRequiresNormalCCAndHealth(t *testing.T) {
	next := transitionPhase(linkstate.PhaseWarm, phaseInputs{
		warmSamples: warmSampleThreshold,
		healthy:     true,
		ccState:     cc.StateNormal,
	})
	if next != linkstate.PhaseLive {
		t.Fatalf("expected Live, got %s", next)
	}
}

func TestLiveDropsToDegradeOnPreHandover(t *testing.T) {
	next := transitionPhase(linkstate.PhaseLive, phaseInputs{ccState: cc.StatePreHandover, healthy: true})
	if next != linkstate.PhaseDegrade {
		t.Fatalf("expected Degrade on PreHandover, got %s", next)
	}
}

func TestLiveDropsToDegradeOnUnhealthy(t *testing.T) {
	next := transitionPhase(linkstate.PhaseLive, phaseInputs{ccState: cc.StateNormal, healthy: false})
	if next != linkstate.PhaseDegrade {
		t.Fatalf("expected Degrade when unhealthy, got %s", next)
	}
}

func TestDegradeRecoversToLiveWhenNormalAndHealthy(t *testing.T) {
	next := transitionPhase(linkstate.PhaseDegrade, phaseInputs{ccState: cc.StateNormal, healthy: true})
	if next != linkstate.PhaseLive {
		t.Fatalf("expected recovery to Live, got %s", next)
	}
}

func TestDegradeToCooldownOnPreHandover(t *testing.T) {
	next := transitionPhase(linkstate.PhaseDegrade, phaseInputs{ccState: cc.StatePreHandover})
	if next != linkstate.PhaseCooldown {
		t.Fatalf("expected Cooldown, got %s", next)
	}
}

func TestCooldownToResetThenInit(t *testing.T) {
	next := transitionPhase(linkstate.PhaseCooldown, phaseInputs{ccState: cc.StateNormal, healthy: true})
	if next != linkstate.PhaseReset {
		t.Fatalf("expected Reset, got %s", next)
	}
	next = transitionPhase(linkstate.PhaseReset, phaseInputs{})
	if next != linkstate.PhaseInit {
		t.Fatalf("expected Init after Reset, got %s", next)
	}
}
