// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobserver

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		Expected time.Duration
	}{
		{0},
		{100 * time.Millisecond},
		{200 * time.Millisecond},
		{400 * time.Millisecond},
		{800 * time.Millisecond},
	}

	for i, test := range tests {
		if want, have := test.Expected, exponentialBackoff(i); want != have {
			t.Fatalf("attempt %d: want %v, have %v", i, want, have)
		}
	}
}

func TestRetryOnTransientStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("boom")
	var calls int
	err := retryOnTransient(context.Background(), nil, "test", func() error {
		calls++
		return permanent
	})
	if err != permanent {
		t.Fatalf("expected permanent error, have %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, have %d", calls)
	}
}

func TestRetryOnTransientStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retryOnTransient(ctx, nil, "test", func() error {
		t.Fatal("fn should not be called once context is already cancelled")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, have %v", err)
	}
}

func TestRetryOnTransientRetriesTransientErrors(t *testing.T) {
	transient := &fakeNetError{}
	var calls int
	err := retryOnTransient(context.Background(), nil, "test", func() error {
		calls++
		if calls < 3 {
			return transient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, have %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, have %d", calls)
	}
}

type fakeNetError struct{}

func (e *fakeNetError) Error() string   { return "fake net error" }
func (e *fakeNetError) Timeout() bool   { return true }
func (e *fakeNetError) Temporary() bool { return true }
