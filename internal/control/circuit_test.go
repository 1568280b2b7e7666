package control

import (
	"testing"
	"time"
)

func TestCircuitBreaker_Transitions(t *testing.T) {
	c := NewCircuitBreaker(2, 100*time.Millisecond)
	now := time.Now()

	if c.State() != CircuitClosed {
		t.Fatalf("expected closed, got %s", c.State())
	}
	if c.RecordFailure("command_source_api", now) {
		t.Fatal("first failure should not trip")
	}
	if got := c.Failures("command_source_api"); got != 1 {
		t.Fatalf("expected 1 failure, got %d", got)
	}
	if !c.RecordFailure("command_source_api", now) {
		t.Fatal("second failure should trip")
	}
	if c.State() != CircuitOpen || c.OpenedClass() != "command_source_api" {
		t.Fatalf("expected open on command_source_api, got %s/%s", c.State(), c.OpenedClass())
	}
	if c.RecordFailure("command_source_api", now) {
		t.Fatal("failure while open should not report a new trip")
	}

	if ok, _ := c.Allow(now.Add(10 * time.Millisecond)); ok {
		t.Fatal("expected deny during cooldown")
	}
	ok, probe := c.Allow(now.Add(120 * time.Millisecond))
	if !ok || !probe {
		t.Fatalf("expected probe after cooldown, got allowed=%v probe=%v", ok, probe)
	}
	if c.State() != CircuitHalfOpen {
		t.Fatalf("expected half_open, got %s", c.State())
	}
	if _, probe := c.Allow(now.Add(130 * time.Millisecond)); probe {
		t.Fatal("half_open should not report another probe")
	}

	if !c.RecordSuccess() {
		t.Fatal("expected recovery to be reported")
	}
	if c.State() != CircuitClosed || c.Failures("command_source_api") != 0 {
		t.Fatalf("expected closed with reset counters, got %s", c.State())
	}
	if c.RecordSuccess() {
		t.Fatal("success while closed is not a recovery")
	}
}

func TestCircuitBreaker_ClassesCountSeparately(t *testing.T) {
	c := NewCircuitBreaker(2, time.Second)
	now := time.Now()

	c.RecordFailure("a", now)
	if c.RecordFailure("b", now) {
		t.Fatal("failures of different classes should not combine")
	}
	if c.State() != CircuitClosed {
		t.Fatalf("expected closed, got %s", c.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	c := NewCircuitBreaker(1, 50*time.Millisecond)
	now := time.Now()

	c.RecordFailure("command_source_api", now)
	if ok, _ := c.Allow(now.Add(60 * time.Millisecond)); !ok {
		t.Fatal("expected probe after cooldown")
	}
	if !c.RecordFailure("", now.Add(61*time.Millisecond)) {
		t.Fatal("failed probe should reopen")
	}
	if c.OpenedClass() != "unknown" {
		t.Fatalf("expected unknown class, got %q", c.OpenedClass())
	}
	if ok, _ := c.Allow(now.Add(70 * time.Millisecond)); ok {
		t.Fatal("expected deny during new cooldown")
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	c := NewCircuitBreaker(0, 0)
	if c.Threshold != 5 || c.Cooldown != 30*time.Second {
		t.Fatalf("unexpected defaults: %d/%s", c.Threshold, c.Cooldown)
	}
}
