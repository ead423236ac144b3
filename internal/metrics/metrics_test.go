package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/tyrauber/sst-maps/internal/gateway"
)

func TestCollectorDecisions(t *testing.T) {
	c := NewCollector()

	c.ObserveDecision(gateway.LegRequest, gateway.OutcomeForward, "")
	c.ObserveDecision(gateway.LegRequest, gateway.OutcomeReject, "expired")
	c.ObserveDecision(gateway.LegRequest, gateway.OutcomeReject, "expired")
	c.ObserveDecision(gateway.LegResponse, gateway.OutcomeMint, "")

	if got := c.Count(gateway.LegRequest, gateway.OutcomeReject, "expired"); got != 2 {
		t.Errorf("reject/expired = %d, want 2", got)
	}
	if got := c.Count(gateway.LegRequest, gateway.OutcomeReject, "signature"); got != 0 {
		t.Errorf("reject/signature = %d, want 0", got)
	}

	snap := c.Snapshot()
	if len(snap.Decisions) != 3 {
		t.Fatalf("decisions = %d, want 3", len(snap.Decisions))
	}
	// Sorted by leg, outcome, reason.
	first := snap.Decisions[0]
	if first.Leg != "request" || first.Outcome != "forward" {
		t.Errorf("first decision = %+v", first)
	}
	last := snap.Decisions[2]
	if last.Leg != "response" || last.Outcome != "mint" || last.Count != 1 {
		t.Errorf("last decision = %+v", last)
	}
}

func TestCollectorOrigin(t *testing.T) {
	c := NewCollector()

	c.RecordOrigin(false, 3*time.Millisecond)
	c.RecordOrigin(false, 7*time.Millisecond)
	c.RecordOrigin(true, 10*time.Second)

	snap := c.Snapshot()
	if snap.OriginTotal != 3 || snap.OriginFailures != 1 {
		t.Errorf("origin = %d total / %d failures, want 3/1", snap.OriginTotal, snap.OriginFailures)
	}

	counts := map[int]int64{}
	for _, b := range snap.OriginHistogram {
		counts[b.UpperMs] = b.Count
	}
	if counts[5] != 1 || counts[10] != 1 || counts[-1] != 1 {
		t.Errorf("histogram = %+v", snap.OriginHistogram)
	}
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.ObserveDecision(gateway.LegRequest, gateway.OutcomeReject, "no_token")
			c.RecordOrigin(false, time.Millisecond)
		}()
	}
	wg.Wait()

	if got := c.Count(gateway.LegRequest, gateway.OutcomeReject, "no_token"); got != 100 {
		t.Errorf("count = %d, want 100", got)
	}
	if got := c.Snapshot().OriginTotal; got != 100 {
		t.Errorf("origin total = %d, want 100", got)
	}
}

func TestCollectorReset(t *testing.T) {
	c := NewCollector()
	c.ObserveDecision(gateway.LegResponse, gateway.OutcomeMint, "")
	c.RecordOrigin(true, time.Millisecond)

	c.Reset()

	snap := c.Snapshot()
	if len(snap.Decisions) != 0 || snap.OriginTotal != 0 || snap.OriginFailures != 0 {
		t.Errorf("snapshot after reset = %+v", snap)
	}
}
