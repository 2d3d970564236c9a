package reasoning

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestPolicyDelayGrowsByMultiplier(t *testing.T) {
	p := DefaultPolicy()
	want := []time.Duration{2 * time.Second, 6 * time.Second, 18 * time.Second}
	for attempt, expected := range want {
		if got := p.Delay(attempt); got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, expected, got)
		}
	}
}

func TestPolicyZeroValueUsesDefaults(t *testing.T) {
	var p Policy
	if got := p.Delay(1); got != 6*time.Second {
		t.Fatalf("expected 6s, got %s", got)
	}
	if p.withDefaults().MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("expected default attempts")
	}
}

func TestPolicyDecide(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		err  error
		want Action
	}{
		{NewStatusError(http.StatusTooManyRequests, ""), ActionBackoff},
		{NewStatusError(http.StatusBadRequest, ""), ActionSimplify},
		{NewStatusError(http.StatusInternalServerError, ""), ActionAbort},
		{errors.New("connection reset"), ActionAbort},
	}
	for _, tc := range cases {
		if got := p.Decide(tc.err); got != tc.want {
			t.Fatalf("%v: expected %v, got %v", tc.err, tc.want, got)
		}
	}
}

func TestPolicyCustomClassifier(t *testing.T) {
	p := DefaultPolicy()
	p.Classify = func(error) ErrorKind { return KindTransient }
	if p.Decide(errors.New("anything")) != ActionBackoff {
		t.Fatalf("custom classifier ignored")
	}
}

func TestSleepContextHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestServiceErrorUnwraps(t *testing.T) {
	inner := errors.New("boom")
	err := &ServiceError{Kind: KindMalformedResponse, Err: inner}
	if !errors.Is(err, inner) {
		t.Fatalf("expected wrapped error")
	}
	if Classify(err) != KindMalformedResponse {
		t.Fatalf("unexpected kind %v", Classify(err))
	}
}
