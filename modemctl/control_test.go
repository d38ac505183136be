package modemctl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sanji-io/cellulard/cellular"
)

// fakeRunner replays a scripted sequence of (output, exitCode, timedOut)
// results, one per call, and records every invocation it received.
type fakeRunner struct {
	mu      sync.Mutex
	results []fakeResult
	calls   [][]string
}

type fakeResult struct {
	output   string
	exitCode int
	timedOut bool
}

func (f *fakeRunner) Run(ctx context.Context, timeout time.Duration, args ...string) (string, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{}, args...))
	if len(f.results) == 0 {
		return "", exitOK, false
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r.output, r.exitCode, r.timedOut
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func withShortBusyRetry(t *testing.T) {
	t.Helper()
	origSleep, origTimeout := busyRetrySleep, mutexAcquireTimeout
	busyRetrySleep = time.Millisecond
	mutexAcquireTimeout = time.Second
	t.Cleanup(func() {
		busyRetrySleep = origSleep
		mutexAcquireTimeout = origTimeout
	})
}

// TestBusyRetry covers §8's E6: exit 60 three times then 0 succeeds, with no
// error surfaced and exactly four invocations.
func TestBusyRetry(t *testing.T) {
	withShortBusyRetry(t)
	runner := &fakeRunner{results: []fakeResult{
		{exitCode: exitBusy},
		{exitCode: exitBusy},
		{exitCode: exitBusy},
		{output: "attached\n", exitCode: exitOK},
	}}
	mc := NewWithRunner(runner, nil)

	attached, err := mc.Attach(context.Background())
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if !attached {
		t.Error("Attach() = false, want true")
	}
	if got := runner.callCount(); got != 4 {
		t.Errorf("runner invoked %d times, want 4", got)
	}
}

func TestBusyRetryExhausted(t *testing.T) {
	withShortBusyRetry(t)
	results := make([]fakeResult, busyRetryLimit+1)
	for i := range results {
		results[i] = fakeResult{exitCode: exitBusy}
	}
	runner := &fakeRunner{results: results}
	mc := NewWithRunner(runner, nil)

	_, err := mc.Status(context.Background())
	if err == nil {
		t.Fatal("expected error after exhausting busy retries")
	}
}

func TestTimeoutNotRetried(t *testing.T) {
	withShortBusyRetry(t)
	runner := &fakeRunner{results: []fakeResult{{timedOut: true}}}
	mc := NewWithRunner(runner, nil)

	_, err := mc.Signal(context.Background())
	if _, ok := err.(*TimeoutError); !ok {
		t.Fatalf("Signal() error = %v (%T), want *TimeoutError", err, err)
	}
	if got := runner.callCount(); got != 1 {
		t.Errorf("runner invoked %d times, want 1 (no busy-retry on timeout)", got)
	}
}

func TestStatusHelperErrorIsFalseNotFatal(t *testing.T) {
	withShortBusyRetry(t)
	runner := &fakeRunner{results: []fakeResult{{exitCode: 99, output: "boom"}}}
	mc := NewWithRunner(runner, nil)

	up, err := mc.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: unexpected error %v", err)
	}
	if up {
		t.Error("Status() = true, want false on helper error")
	}
}

func TestSetPinRejectDetected(t *testing.T) {
	withShortBusyRetry(t)
	runner := &fakeRunner{results: []fakeResult{{exitCode: exitInvalidInput, output: "PIN reject"}}}
	mc := NewWithRunner(runner, nil)

	err := mc.SetPin(context.Background(), "9999")
	if _, ok := err.(*PinReject); !ok {
		t.Fatalf("SetPin() error = %v (%T), want *PinReject", err, err)
	}
}

func TestPowerCycleOrdersOffThenOn(t *testing.T) {
	withShortBusyRetry(t)
	runner := &fakeRunner{}
	mc := NewWithRunner(runner, nil)

	if err := mc.PowerCycle(context.Background(), false, 1); err != nil {
		t.Fatalf("PowerCycle: %v", err)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.calls) != 2 {
		t.Fatalf("got %d calls, want 2 (power_off, power_on)", len(runner.calls))
	}
	if runner.calls[0][0] != "power_off" || runner.calls[1][0] != "power_on" {
		t.Errorf("calls = %v, want power_off then power_on", runner.calls)
	}
}

func TestStartParsesNetworkInfo(t *testing.T) {
	withShortBusyRetry(t)
	fixture := "IP=111.70.154.149\n" +
		"SubnetMask=255.255.255.252\n" +
		"Gateway=111.70.154.150\n" +
		"DNS=168.95.1.1 168.95.192.1\n"
	runner := &fakeRunner{results: []fakeResult{{output: fixture, exitCode: exitOK}}}
	mc := NewWithRunner(runner, nil)

	info, err := mc.Start(context.Background(), "internet", cellular.AuthNone, "", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info.IP != "111.70.154.149" || info.Status != cellular.StatusUp {
		t.Errorf("Start() = %+v, unexpected", info)
	}
}

func TestStopAlwaysReturnsDown(t *testing.T) {
	withShortBusyRetry(t)
	runner := &fakeRunner{results: []fakeResult{{exitCode: 99}}}
	mc := NewWithRunner(runner, nil)

	info := mc.Stop(context.Background())
	if info.Status != cellular.StatusDown {
		t.Errorf("Stop() = %+v, want down even on helper error", info)
	}
}

func TestLockSerializesConcurrentCallers(t *testing.T) {
	withShortBusyRetry(t)
	mutexAcquireTimeout = 5 * time.Second
	mc := NewWithRunner(&slowRunner{delay: 20 * time.Millisecond}, nil)

	const n = 5
	var wg sync.WaitGroup
	var active, maxActive int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mc.lock.lockWithTimeout(mutexAcquireTimeout)
			cur := addAndGet(&active, 1)
			if cur > maxActive {
				maxActive = cur
			}
			time.Sleep(2 * time.Millisecond)
			addAndGet(&active, -1)
			mc.lock.unlock()
		}()
	}
	wg.Wait()
	if maxActive > 1 {
		t.Errorf("observed %d concurrently-held locks, want at most 1", maxActive)
	}
}

func addAndGet(v *int32, delta int32) int32 {
	*v += delta
	return *v
}

type slowRunner struct{ delay time.Duration }

func (s *slowRunner) Run(ctx context.Context, timeout time.Duration, args ...string) (string, int, bool) {
	time.Sleep(s.delay)
	return "", exitOK, false
}
