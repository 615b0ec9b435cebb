package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"stepflow/internal/domain"
)

func at(t *testing.T, h *harness, hhmm string) {
	t.Helper()
	c, err := domain.ParseClock(hhmm)
	if err != nil {
		t.Fatalf("ParseClock: %v", err)
	}
	h.clock = time.Date(2024, 5, 1, int(c)/60, int(c)%60, 0, 0, time.UTC)
}

func TestFiringInsideWindowSubmits(t *testing.T) {
	h := newHarness(t)
	h.cfgs.set(enabledConfig("u1")) // Fixed(500), window 06:00-22:00
	at(t, h, "10:00")

	h.reg.runOnce(context.Background(), "u1")

	calls := h.sink.submits()
	if len(calls) != 1 || calls[0].userID != "u1" || calls[0].amount != 500 {
		t.Fatalf("submits = %+v, want one of 500 for u1", calls)
	}
	succ := h.logs.bySeverity(domain.SeveritySuccess)
	if len(succ) != 1 || !strings.Contains(succ[0].msg, "500") {
		t.Fatalf("success logs = %+v", succ)
	}
}

func TestFiringOutsideWindowSkips(t *testing.T) {
	h := newHarness(t)
	h.cfgs.set(enabledConfig("u1"))
	at(t, h, "02:00")

	h.reg.runOnce(context.Background(), "u1")

	if len(h.sink.submits()) != 0 {
		t.Fatal("submitted outside the allowed window")
	}
	warns := h.logs.bySeverity(domain.SeverityWarning)
	if len(warns) != 1 {
		t.Fatalf("warnings = %+v, want one", warns)
	}
	if !strings.Contains(warns[0].msg, "06:00-22:00") || !strings.Contains(warns[0].msg, "02:00") {
		t.Fatalf("warning should name the window and current time: %q", warns[0].msg)
	}
}

func TestFiringWindowBoundariesInclusive(t *testing.T) {
	h := newHarness(t)
	h.cfgs.set(enabledConfig("u1"))

	for _, hhmm := range []string{"06:00", "22:00"} {
		at(t, h, hhmm)
		h.reg.runOnce(context.Background(), "u1")
	}
	if n := len(h.sink.submits()); n != 2 {
		t.Fatalf("submits = %d, want 2 (boundaries are inclusive)", n)
	}
}

func TestFiringDisabledConfigSkips(t *testing.T) {
	h := newHarness(t)
	cfg := enabledConfig("u1")
	cfg.Enabled = false
	h.cfgs.set(cfg)
	at(t, h, "10:00")

	h.reg.runOnce(context.Background(), "u1")

	if len(h.sink.submits()) != 0 {
		t.Fatal("submitted despite disabled config")
	}
	if warns := h.logs.bySeverity(domain.SeverityWarning); len(warns) != 1 {
		t.Fatalf("warnings = %+v, want one", warns)
	}
}

func TestFiringHonorsLiveConfigEdits(t *testing.T) {
	h := newHarness(t)
	h.cfgs.set(enabledConfig("u1"))
	at(t, h, "10:00")

	if err := h.reg.Start(context.Background(), "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Disable after arming: the next firing must see the fresh config.
	cfg := enabledConfig("u1")
	cfg.Enabled = false
	h.cfgs.set(cfg)

	h.reg.runOnce(context.Background(), "u1")

	if len(h.sink.submits()) != 0 {
		t.Fatal("fired from stale arm-time config")
	}
	// The job stays armed; only explicit stop/restart disarms it.
	if h.reg.Len() != 1 {
		t.Fatal("disabled firing deregistered the job")
	}
}

func TestFiringMissingConfigKeepsJobArmed(t *testing.T) {
	h := newHarness(t)
	h.cfgs.set(enabledConfig("u1"))
	at(t, h, "10:00")
	if err := h.reg.Start(context.Background(), "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.cfgs.mu.Lock()
	delete(h.cfgs.cfgs, "u1")
	h.cfgs.mu.Unlock()

	h.reg.runOnce(context.Background(), "u1")

	if len(h.sink.submits()) != 0 {
		t.Fatal("submitted without config")
	}
	if h.reg.Len() != 1 {
		t.Fatal("missing config deregistered the job")
	}
}

func TestFiringAuthFailureLogsError(t *testing.T) {
	h := newHarness(t)
	h.cfgs.set(enabledConfig("u1"))
	h.auth.errs["u1"] = errors.New("token revoked")
	at(t, h, "10:00")

	h.reg.runOnce(context.Background(), "u1")

	if len(h.sink.submits()) != 0 {
		t.Fatal("submitted without a credential")
	}
	errsLogged := h.logs.bySeverity(domain.SeverityError)
	if len(errsLogged) != 1 || !strings.Contains(errsLogged[0].msg, "token revoked") {
		t.Fatalf("errors = %+v", errsLogged)
	}
}

func TestFiringSinkFailureKeepsJobArmed(t *testing.T) {
	h := newHarness(t)
	h.cfgs.set(enabledConfig("u1"))
	h.sink.err = errors.New("upstream 503")
	at(t, h, "10:00")
	if err := h.reg.Start(context.Background(), "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.reg.runOnce(context.Background(), "u1")

	errsLogged := h.logs.bySeverity(domain.SeverityError)
	if len(errsLogged) != 1 || !strings.Contains(errsLogged[0].msg, "upstream 503") {
		t.Fatalf("errors = %+v", errsLogged)
	}
	if h.reg.Len() != 1 {
		t.Fatal("sink failure deregistered the job")
	}
}

func TestFiringRandomPolicyStaysInBounds(t *testing.T) {
	h := newHarness(t)
	cfg := enabledConfig("u1")
	cfg.Amount = domain.AmountPolicy{Random: true, Min: 200, Max: 500}
	h.cfgs.set(cfg)
	at(t, h, "10:00")

	for i := 0; i < 50; i++ {
		h.reg.runOnce(context.Background(), "u1")
	}
	for _, call := range h.sink.submits() {
		if call.amount < 200 || call.amount > 500 {
			t.Fatalf("amount %d outside [200, 500]", call.amount)
		}
	}
}

func TestOverlappingFiringSkipped(t *testing.T) {
	h := newHarness(t)
	h.cfgs.set(enabledConfig("u1"))
	at(t, h, "10:00")

	j := &job{userID: "u1", state: &runState{}}
	if !j.state.tryAcquire() {
		t.Fatal("fresh state should acquire")
	}

	// Tick lands while the previous body holds the state: dropped silently.
	h.reg.fire("u1", j)
	if len(h.sink.submits()) != 0 || h.logs.count() != 0 {
		t.Fatal("overlapping firing was not skipped")
	}

	j.state.release()
	h.reg.fire("u1", j)
	if len(h.sink.submits()) != 1 {
		t.Fatal("firing after release did not run")
	}
}

func TestRestartSerializesInFlightFiring(t *testing.T) {
	h := newHarness(t)
	h.cfgs.set(enabledConfig("u1"))
	at(t, h, "10:00")

	ctx := context.Background()
	if err := h.reg.Start(ctx, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	old := h.jobFor(t, "u1")

	// Park a firing of the old job inside the sink call.
	entered := make(chan struct{})
	release := make(chan struct{})
	h.sink.stall(entered, release)
	done := make(chan struct{})
	go func() {
		h.reg.fire("u1", old)
		close(done)
	}()
	<-entered
	h.sink.stall(nil, nil)

	// Re-arm the user while the old firing is still in flight. The
	// replacement job must see the guard held and skip its tick instead
	// of submitting alongside the parked call.
	if err := h.reg.Start(ctx, "u1"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	replacement := h.jobFor(t, "u1")
	h.reg.fire("u1", replacement)
	if n := len(h.sink.submits()); n != 0 {
		t.Fatalf("submits = %d while a firing was still in flight, want 0", n)
	}

	close(release)
	<-done
	if n := len(h.sink.submits()); n != 1 {
		t.Fatalf("submits = %d after the parked firing finished, want 1", n)
	}

	// Guard released: the replacement fires normally.
	h.reg.fire("u1", replacement)
	if n := len(h.sink.submits()); n != 2 {
		t.Fatalf("submits = %d after the guard was released, want 2", n)
	}
}
