package connectivity

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePinger struct {
	err   error
	delay time.Duration
	calls int
}

func (f *fakePinger) Ping(ctx context.Context) error {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func TestStatic(t *testing.T) {
	if !Static(true).Online(context.Background()) {
		t.Error("Static(true) should be online")
	}
	if Static(false).Online(context.Background()) {
		t.Error("Static(false) should be offline")
	}
}

func TestProbe(t *testing.T) {
	pinger := &fakePinger{}
	probe := NewProbe(pinger, time.Second, nil)

	if !probe.Online(context.Background()) {
		t.Error("Expected online when ping succeeds")
	}

	pinger.err = errors.New("connection refused")
	if probe.Online(context.Background()) {
		t.Error("Expected offline when ping fails")
	}

	pinger.err = nil
	if !probe.Online(context.Background()) {
		t.Error("Expected online again after recovery")
	}
	if pinger.calls != 3 {
		t.Errorf("Expected 3 pings, got %d", pinger.calls)
	}
}

func TestProbeTimeout(t *testing.T) {
	pinger := &fakePinger{delay: time.Second}
	probe := NewProbe(pinger, 20*time.Millisecond, nil)

	start := time.Now()
	if probe.Online(context.Background()) {
		t.Error("Expected offline when ping exceeds timeout")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Probe should give up after its timeout, took %v", elapsed)
	}
}
