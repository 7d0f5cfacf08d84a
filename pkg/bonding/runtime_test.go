package bonding

import (
	"testing"

	"github.com/strata-video/bonding/internal/classify"
	"github.com/strata-video/bonding/internal/config"
	"github.com/strata-video/bonding/internal/sender"
)

func TestSendWithNoLinksIsRefusedAndCloseIsClean(t *testing.T) {
	rt := New(config.Default(), nil)
	defer rt.Close()

	res := rt.Send([]byte("hello"), classify.Profile{SizeBytes: 5})
	if res.Status != sender.Refused {
		t.Fatalf("expected Refused with no links configured, got %v", res.Status)
	}
}

func TestMetricsHandleServesScrape(t *testing.T) {
	rt := New(config.Default(), nil)
	defer rt.Close()

	if rt.MetricsHandle() == nil {
		t.Fatal("expected non-nil metrics handle")
	}
}

func TestReceiverRuntimeCloseWithNoLinks(t *testing.T) {
	rr := NewReceiverRuntime(config.Default(), nil)
	if err := rr.Close(); err != nil {
		t.Fatalf("unexpected error on close: %v", err)
	}
}
