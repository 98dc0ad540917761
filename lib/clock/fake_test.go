// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockNow(t *testing.T) {
	fakeClock := Fake(epoch)
	if got := fakeClock.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	fakeClock.Advance(5 * time.Second)
	if got, want := fakeClock.Now(), epoch.Add(5*time.Second); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeClockAfter(t *testing.T) {
	fakeClock := Fake(epoch)
	channel := fakeClock.After(3 * time.Second)

	fakeClock.Advance(2 * time.Second)
	select {
	case <-channel:
		t.Fatal("After fired before its deadline")
	default:
	}

	fakeClock.Advance(time.Second)
	select {
	case <-channel:
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeClockAfterNonPositive(t *testing.T) {
	fakeClock := Fake(epoch)
	select {
	case <-fakeClock.After(0):
	default:
		t.Fatal("After(0) should be ready immediately")
	}
}

func TestFakeClockAfterFuncOrder(t *testing.T) {
	fakeClock := Fake(epoch)
	var fired []string
	fakeClock.AfterFunc(2*time.Second, func() { fired = append(fired, "second") })
	fakeClock.AfterFunc(time.Second, func() { fired = append(fired, "first") })

	fakeClock.Advance(5 * time.Second)
	if len(fired) != 2 || fired[0] != "first" || fired[1] != "second" {
		t.Fatalf("fired = %v, want [first second]", fired)
	}
}

func TestFakeClockAfterFuncStop(t *testing.T) {
	fakeClock := Fake(epoch)
	called := false
	timer := fakeClock.AfterFunc(time.Second, func() { called = true })

	if !timer.Stop() {
		t.Fatal("Stop on a pending timer should return true")
	}
	if timer.Stop() {
		t.Fatal("second Stop should return false")
	}
	fakeClock.Advance(time.Minute)
	if called {
		t.Fatal("stopped timer fired")
	}
	if count := fakeClock.PendingCount(); count != 0 {
		t.Fatalf("PendingCount = %d, want 0", count)
	}
}

func TestFakeClockCallbackSchedulesTimer(t *testing.T) {
	fakeClock := Fake(epoch)
	chained := false
	fakeClock.AfterFunc(time.Second, func() {
		fakeClock.AfterFunc(time.Second, func() { chained = true })
	})

	fakeClock.Advance(time.Second)
	if chained {
		t.Fatal("chained timer fired early")
	}
	fakeClock.Advance(time.Second)
	if !chained {
		t.Fatal("chained timer did not fire")
	}
}

func TestFakeClockWaitForTimers(t *testing.T) {
	fakeClock := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-fakeClock.After(time.Second)
		close(done)
	}()

	fakeClock.WaitForTimers(1)
	fakeClock.Advance(time.Second)
	select {
	case <-done:
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		t.Fatal("goroutine waiting on After never woke")
	}
}
