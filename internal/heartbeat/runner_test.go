package heartbeat

import (
	"context"
	"testing"
	"time"
)

func TestRunnerSamplesOnSchedule(t *testing.T) {
	samples := make(chan Diagnostic, 4)
	source := func() Diagnostic {
		return Diagnostic{Time: time.Now(), UptimeMs: 42, ConnectionCount: 3, Health: "ok"}
	}
	sink := func(d Diagnostic) { samples <- d }

	r := NewRunner(0, source, nil, sink)
	if err := r.Start(50 * time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(context.Background())

	select {
	case d := <-samples:
		if d.Health != "ok" || d.ConnectionCount != 3 {
			t.Fatalf("unexpected diagnostic: %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for heartbeat sample")
	}
}
