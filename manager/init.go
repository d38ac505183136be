package manager

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sanji-io/cellulard/cellular"
	"github.com/sanji-io/cellulard/modemctl"
)

// initialize drives the initializing state until the modem is ready,
// canceled, or a HelperError demands a power-cycle (§4.2).
//
// Return values: (ready, err). ready=true means the modem reached the
// `ready` state and StaticInfo/the initial snapshot were captured. A nil
// error with ready=false means the loop parked in a terminal, user-fixable
// sub-state (nosim exhausted, pin unconfigured, pinError) and the caller
// should back off and retry from the top. A non-nil error is a HelperError
// that must escape to powerCycle.
func (m *Manager) initialize(ctx context.Context) (ready bool, err error) {
	m.setState(cellular.StateInitializing)

	nosimAttempts := 0
	for {
		if ctx.Err() != nil {
			return false, nil
		}

		sim, simErr := m.mc.SimStatus(ctx)
		if simErr != nil {
			if modemctl.IsHelperError(simErr) {
				return false, simErr
			}
			return false, nil
		}

		switch sim {
		case cellular.SimNoSIM:
			m.setState(cellular.StateNoSIM)
			m.events.NoSIM()
			nosimAttempts++
			if nosimAttempts > nosimRetryLimit {
				return false, nil
			}
			if !sleepInterruptible(ctx, nosimRetryWait) {
				return false, nil
			}
			continue

		case cellular.SimPIN:
			return m.handlePIN(ctx)

		case cellular.SimReady:
			return m.enterReady(ctx)
		}
	}
}

// handlePIN implements §4.2's precise PIN policy.
func (m *Manager) handlePIN(ctx context.Context) (ready bool, err error) {
	m.pinMu.Lock()
	pin := m.pin
	m.pinMu.Unlock()

	if pin == "" && m.cfg.Pin != "" {
		// The configured PIN was discarded after a pin-error: stay in
		// pinError until a new configuration replaces this Manager.
		m.setState(cellular.StatePINError)
		return false, nil
	}
	m.setState(cellular.StatePIN)

	if pin == "" {
		m.events.NoPIN()
		return false, nil
	}

	r0, err := m.mc.PinRetryRemain(ctx)
	if err != nil {
		if modemctl.IsHelperError(err) {
			return false, err
		}
		return false, nil
	}

	if setErr := m.mc.SetPin(ctx, pin); setErr != nil {
		if modemctl.IsHelperError(setErr) {
			return false, setErr
		}
		// PinReject falls straight through to the r1-vs-r0 check below,
		// which will also observe the dropped retry count.
		log.Warnf("manager: setPin rejected: %v", setErr)
	}

	time.Sleep(pinSettleWait) // critical_section: not interruptible

	r1, err := m.mc.PinRetryRemain(ctx)
	if err != nil {
		if modemctl.IsHelperError(err) {
			return false, err
		}
		return false, nil
	}

	if r1 < r0 {
		m.pinMu.Lock()
		m.pin = ""
		m.pinMu.Unlock()
		m.setState(cellular.StatePINError)
		m.events.PINError()
		return false, nil
	}

	sim, err := m.mc.SimStatus(ctx)
	if err != nil {
		if modemctl.IsHelperError(err) {
			return false, err
		}
		return false, nil
	}
	if sim == cellular.SimReady {
		return m.enterReady(ctx)
	}
	return false, nil
}

// enterReady captures StaticInfo and the initial snapshot, then transitions
// to ready (§4.2).
func (m *Manager) enterReady(ctx context.Context) (ready bool, err error) {
	pinRetry, rErr := m.mc.PinRetryRemain(ctx)
	if rErr != nil && modemctl.IsHelperError(rErr) {
		return false, rErr
	}

	iccid, imsi, sErr := m.mc.SimInfo(ctx)
	if sErr != nil && modemctl.IsHelperError(sErr) {
		return false, sErr
	}

	imei, _, mErr := m.mc.ModuleIDs(ctx)
	if mErr != nil && modemctl.IsHelperError(mErr) {
		return false, mErr
	}

	m.stateMu.Lock()
	m.static = cellular.StaticInfo{
		ICCID:          iccid,
		IMSI:           imsi,
		IMEI:           imei,
		PinRetryRemain: pinRetry,
	}
	m.stateMu.Unlock()

	m.setState(cellular.StateReady)
	return true, nil
}
