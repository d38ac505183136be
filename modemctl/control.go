// Package modemctl wraps the external modem_ctl executable: a single
// process-wide lock serializes every invocation, busy exits are retried
// transparently, and each operation's textual output is parsed by an
// anchored pattern from parse.go. See spec.md §4.1, §5, §7, §8.
package modemctl

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	log "github.com/sirupsen/logrus"

	"github.com/sanji-io/cellulard/cellular"
)

const (
	defaultTimeout = 70 * time.Second
	busyRetryLimit = 10
	atRetryLimit   = 10
)

// busyRetrySleep and mutexAcquireTimeout are vars, not consts, so tests can
// shrink them instead of waiting out the real multi-second budgets.
var (
	busyRetrySleep      = 10 * time.Second
	mutexAcquireTimeout = 120 * time.Second
)

// timedMutex is the process-wide lock serializing every modem_ctl
// invocation (§5, §9). True re-entrance (a goroutine re-acquiring a lock it
// already holds) is unsafe to detect without an official goroutine identity,
// so composed operations like PowerCycle instead acquire the lock exactly
// once and call the unlocked invokeLocked helper directly for the steps they
// compose (§4.1's "powerOff, sleep, powerOn"), rather than recursing through
// the public, locking API.
type timedMutex struct {
	ch chan struct{}
}

func newTimedMutex() *timedMutex {
	return &timedMutex{ch: make(chan struct{}, 1)}
}

func (m *timedMutex) lockWithTimeout(timeout time.Duration) bool {
	select {
	case m.ch <- struct{}{}:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (m *timedMutex) unlock() {
	<-m.ch
}

// Runner abstracts process execution so tests can substitute a fake
// modem_ctl without touching the filesystem.
type Runner interface {
	// Run executes modem_ctl with the given args and returns combined
	// stdout, the exit code (-1 if the process could not be started or was
	// killed for timeout), and whether it was killed for timeout.
	Run(ctx context.Context, timeout time.Duration, args ...string) (output string, exitCode int, timedOut bool)
}

// execRunner is the production Runner: os/exec against the real binary.
type execRunner struct {
	bin string
}

func (r *execRunner) Run(ctx context.Context, timeout time.Duration, args ...string) (string, int, bool) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, r.bin, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if cctx.Err() == context.DeadlineExceeded {
		return out.String(), -1, true
	}
	if err == nil {
		return out.String(), 0, false
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return out.String(), exitErr.ExitCode(), false
	}
	// Could not even start the helper: treat as generic failure, not busy.
	return out.String(), -1, false
}

// ModemControl is the sole owner of modem_ctl invocations for one modem.
type ModemControl struct {
	runner Runner
	trace  *Trace
	lock   *timedMutex
}

// New constructs a ModemControl that shells out to the named binary.
func New(binPath string, trace *Trace) *ModemControl {
	return &ModemControl{
		runner: &execRunner{bin: binPath},
		trace:  trace,
		lock:   newTimedMutex(),
	}
}

// NewWithRunner is used by tests to inject a fake Runner.
func NewWithRunner(r Runner, trace *Trace) *ModemControl {
	return &ModemControl{runner: r, trace: trace, lock: newTimedMutex()}
}

// invoke acquires the process-wide lock and runs one modem_ctl subcommand.
func (m *ModemControl) invoke(ctx context.Context, op string, timeout time.Duration, args ...string) (string, error) {
	if !m.lock.lockWithTimeout(mutexAcquireTimeout) {
		return "", &TimeoutError{Op: op}
	}
	defer m.lock.unlock()
	return m.invokeLocked(ctx, op, timeout, args...)
}

// invokeLocked runs one modem_ctl subcommand assuming the lock is already
// held by the caller, retrying busy exits up to busyRetryLimit times with
// busyRetrySleep between (§4.1). A timeout is never busy-retried. Any other
// non-zero exit becomes a HelperError.
func (m *ModemControl) invokeLocked(ctx context.Context, op string, timeout time.Duration, args ...string) (string, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var lastOutput string
	for attempt := 0; attempt <= busyRetryLimit; attempt++ {
		select {
		case <-ctx.Done():
			return "", &StopRequested{}
		default:
		}

		output, code, timedOut := m.runner.Run(ctx, timeout, append([]string{op}, args...)...)
		lastOutput = output
		if m.trace != nil {
			m.trace.Record(op, args, output, code, timedOut)
		}

		if timedOut {
			return output, &TimeoutError{Op: op}
		}
		if code == exitOK {
			return output, nil
		}
		if code == exitBusy {
			if attempt == busyRetryLimit {
				break
			}
			time.Sleep(busyRetrySleep)
			continue
		}
		if op == "status" && code == exitNotConnected {
			return output, nil
		}
		return output, &HelperError{Op: op, Reason: reasonForExitCode(code), ExitCode: code, Stderr: strings.TrimSpace(output)}
	}

	return lastOutput, &HelperError{Op: op, Reason: ReasonGeneric, ExitCode: exitBusy, Stderr: "exhausted busy retries"}
}

// AT issues a raw AT command, retried up to atRetryLimit times with
// randomized 0.5-1.5s backoff on transient failure (§4.1).
func (m *ModemControl) AT(ctx context.Context, cmd string, timeoutSec int) (ATResult, error) {
	timeout := defaultTimeout
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}

	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 1500 * time.Millisecond, Jitter: true}

	var lastErr error
	for attempt := 0; attempt <= atRetryLimit; attempt++ {
		output, err := m.invoke(ctx, "at", timeout, cmd)
		if err != nil {
			if _, ok := err.(*HelperError); !ok {
				return ATResult{}, err
			}
			lastErr = err
			if attempt == atRetryLimit {
				break
			}
			time.Sleep(b.Duration())
			continue
		}
		result, perr := parseAT(output)
		if perr != nil {
			log.Warnf("modemctl: AT %q produced unparseable output: %q", cmd, output)
			return ATResult{}, perr
		}
		return result, nil
	}
	return ATResult{}, lastErr
}

// Start activates the PDP context for apn and returns the parsed IP
// configuration (§4.1, §8 #1).
func (m *ModemControl) Start(ctx context.Context, apn string, authProto cellular.AuthProtocol, user, password string) (cellular.NetworkInfo, error) {
	args := []string{apn, string(authProto)}
	if authProto != "" && authProto != cellular.AuthNone {
		args = append(args, user, password)
	}
	output, err := m.invoke(ctx, "start", defaultTimeout, args...)
	if err != nil {
		return cellular.NetworkInfo{}, err
	}
	return parseStart(output)
}

// Stop tears down the PDP session. It swallows the helper's non-zero exit:
// stop is idempotent and never fatal (spec.md §4.1, §9 open question).
func (m *ModemControl) Stop(ctx context.Context) cellular.NetworkInfo {
	_, _ = m.invoke(ctx, "stop", defaultTimeout)
	return cellular.Down()
}

// Status reports whether the modem considers itself connected (§4.1).
func (m *ModemControl) Status(ctx context.Context) (bool, error) {
	output, err := m.invoke(ctx, "status", defaultTimeout)
	if err != nil {
		if he, ok := err.(*HelperError); ok && he.ExitCode != exitBusy {
			return false, nil
		}
		return false, err
	}
	return strings.Contains(strings.ToLower(output), "connected"), nil
}

// Attach reports whether packet service is attached (§4.1).
func (m *ModemControl) Attach(ctx context.Context) (bool, error) {
	output, err := m.invoke(ctx, "attach", defaultTimeout)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(output), "attached"), nil
}

// Signal reads basic signal quality (§4.1, §8 #2).
func (m *ModemControl) Signal(ctx context.Context) (cellular.Signal, error) {
	output, err := m.invoke(ctx, "signal", defaultTimeout)
	if err != nil {
		return cellular.Signal{}, err
	}
	return parseSignal(output), nil
}

// SignalAdv reads signal quality through the signal_adv subcommand. Its
// output is parsed with the same pattern as Signal, so only Mode and RssiDbm
// are filled in; Csq and EcioDbm are always zero.
func (m *ModemControl) SignalAdv(ctx context.Context) (cellular.Signal, error) {
	output, err := m.invoke(ctx, "signal_adv", defaultTimeout)
	if err != nil {
		return cellular.Signal{}, err
	}
	return parseSignal(output), nil
}

// Operator reads the current operator name.
func (m *ModemControl) Operator(ctx context.Context) (string, error) {
	output, err := m.invoke(ctx, "operator", defaultTimeout)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

// MInfo reads module identity and the modem's assigned WWAN node (§8 #3).
func (m *ModemControl) MInfo(ctx context.Context) (cellular.ModuleInfo, error) {
	output, err := m.invoke(ctx, "m_info", defaultTimeout)
	if err != nil {
		return cellular.ModuleInfo{}, err
	}
	return parseMInfo(output)
}

// SimStatus reads the SIM lock state (§8 #4). Any non-zero exit (every
// HelperError) is treated as nosim, not surfaced; timeouts still surface.
func (m *ModemControl) SimStatus(ctx context.Context) (cellular.SimState, error) {
	output, err := m.invoke(ctx, "sim_status", defaultTimeout)
	if err != nil {
		if _, ok := err.(*HelperError); ok {
			return cellular.SimNoSIM, nil
		}
		return "", err
	}
	return parseSimStatus(output), nil
}

// SetPin unlocks the SIM. A modem-level rejection (as opposed to a dropped
// retry count, which the Manager detects separately) surfaces as PinReject.
func (m *ModemControl) SetPin(ctx context.Context, pin string) error {
	output, err := m.invoke(ctx, "set_pin", defaultTimeout, pin)
	if err != nil {
		var helperErr *HelperError
		if he, ok := err.(*HelperError); ok {
			helperErr = he
			if helperErr.Reason == ReasonInvalidInput {
				return &PinReject{Output: helperErr.Stderr}
			}
		}
		return err
	}
	if strings.Contains(strings.ToLower(output), "reject") {
		return &PinReject{Output: strings.TrimSpace(output)}
	}
	return nil
}

// PinRetryRemain reads the remaining SIM-unlock attempts, or -1 if PIN
// protection is disabled (§8 #5).
func (m *ModemControl) PinRetryRemain(ctx context.Context) (int, error) {
	output, err := m.invoke(ctx, "pin_retry_remain", defaultTimeout)
	if err != nil {
		return -1, err
	}
	return parsePinRetryRemain(output), nil
}

// PDPContextList reads the modem's programmed PDP profiles (§8 #7).
func (m *ModemControl) PDPContextList(ctx context.Context) ([]cellular.PDPContextEntry, error) {
	output, err := m.invoke(ctx, "pdp_context_list", defaultTimeout)
	if err != nil {
		return nil, err
	}
	return parsePDPContextList(output)
}

// SetPDPContext programs profile id with apn/pdpType.
func (m *ModemControl) SetPDPContext(ctx context.Context, id int, apn string, pdpType cellular.PDPType) error {
	_, err := m.invoke(ctx, "set_pdp_context", defaultTimeout, strconv.Itoa(id), apn, string(pdpType))
	return err
}

// PowerCycle composes powerOff, a 1s settle, and powerOn (§4.1), holding the
// process-wide lock for the whole sequence so no other invocation can
// interleave between the off and on steps.
func (m *ModemControl) PowerCycle(ctx context.Context, force bool, timeoutSec int) error {
	timeout := defaultTimeout
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}

	if !m.lock.lockWithTimeout(mutexAcquireTimeout) {
		return &TimeoutError{Op: "power_cycle"}
	}
	defer m.lock.unlock()

	args := []string{}
	if force {
		args = append(args, "force")
	}
	if _, err := m.invokeLocked(ctx, "power_off", timeout, args...); err != nil {
		return err
	}
	time.Sleep(1 * time.Second)
	if _, err := m.invokeLocked(ctx, "power_on", timeout, args...); err != nil {
		return err
	}
	return nil
}

// ModuleIDs reads permanent hardware identifiers.
func (m *ModemControl) ModuleIDs(ctx context.Context) (imei, esn string, err error) {
	output, err := m.invoke(ctx, "module_ids", defaultTimeout)
	if err != nil {
		return "", "", err
	}
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 2 {
		return "", "", &ParseError{Op: "module_ids", Output: output}
	}
	return strings.TrimSpace(lines[0]), strings.TrimSpace(lines[1]), nil
}

// SimInfo reads the ICCID/IMSI pair.
func (m *ModemControl) SimInfo(ctx context.Context) (iccid, imsi string, err error) {
	output, err := m.invoke(ctx, "sim_info", defaultTimeout)
	if err != nil {
		return "", "", err
	}
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 2 {
		return "", "", &ParseError{Op: "sim_info", Output: output}
	}
	return strings.TrimSpace(lines[0]), strings.TrimSpace(lines[1]), nil
}

// Location reads the current radio-network location identifiers.
func (m *ModemControl) Location(ctx context.Context) (cellular.Location, error) {
	output, err := m.invoke(ctx, "location", defaultTimeout)
	if err != nil {
		return cellular.Location{}, err
	}
	return parseLocation(output)
}

// CellularFirmware lists the modem's installed profiles verbatim; callers
// that only need ids/apns should use PDPContextList.
func (m *ModemControl) CellularFirmware(ctx context.Context) (string, error) {
	output, err := m.invoke(ctx, "cellular_firmware", defaultTimeout)
	if err != nil {
		return "", err
	}
	return output, nil
}
