package manager

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sanji-io/cellulard/cellular"
	"github.com/sanji-io/cellulard/modemctl"
	"github.com/sanji-io/cellulard/statefile"
)

// errConnectExhausted is returned by connectAndServe when both the primary
// and (if configured) secondary APN have exhausted their retryTimeout
// budgets without ever reaching connected (§4.2, §8 E5). The caller treats
// it exactly like a HelperError: power-cycle and restart initialization.
var errConnectExhausted = errors.New("manager: try-connect budget exhausted")

// connectAndServe runs the try-connect loop through to connected, then
// serves the connected-state keepalive loop until a disconnect is observed
// or ctx is canceled. A nil return means ctx was canceled, the SIM was reset
// while reconciling the static PDP profile, or a disconnect was observed
// while connected; the caller restarts from the top. A non-nil return
// (either errConnectExhausted or a HelperError surfaced from the modem)
// means the caller should power-cycle and restart from the top.
func (m *Manager) connectAndServe(ctx context.Context) error {
	m.setState(cellular.StateConnecting)

	if reset, err := m.reconcileStaticPDP(ctx); err != nil {
		return err
	} else if reset {
		// SIM state changed under us; go back to initializing.
		return nil
	}

	apn := &m.cfg.PDP.Primary
	info, err := m.tryConnect(ctx, apn)
	if err == errConnectExhausted && m.cfg.PDP.Static && m.cfg.PDP.Secondary != nil {
		apn = m.cfg.PDP.Secondary
		info, err = m.tryConnect(ctx, apn)
	}
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}

	m.events.ConnectSuccess(info.IP, info.Netmask, info.Gateway, info.DNS)
	m.setNetwork(info)
	m.setState(cellular.StateConnected)
	if m.store != nil {
		m.store.Save(statefile.Session{
			PDH:     apn.APN,
			CID:     strconv.Itoa(m.cfg.PDP.ID),
			Network: info,
		})
	}

	return m.serveConnected(ctx)
}

// reconcileStaticPDP ensures the modem's programmed PDP profile matches the
// configured primary APN when pdp.static is set (§4.2 step 1). It reports
// reset=true when re-verifying the SIM afterwards shows the SIM was reset by
// the reprogram, in which case the caller must restart initialization.
func (m *Manager) reconcileStaticPDP(ctx context.Context) (reset bool, err error) {
	if !m.cfg.PDP.Static {
		return false, nil
	}

	entries, err := m.mc.PDPContextList(ctx)
	if err != nil {
		return false, err
	}

	matches := false
	for _, e := range entries {
		if e.ID == m.cfg.PDP.ID && e.APN == m.cfg.PDP.Primary.APN && e.Type == m.cfg.PDP.Primary.Type {
			matches = true
			break
		}
	}
	if matches {
		return false, nil
	}

	if err := m.mc.SetPDPContext(ctx, m.cfg.PDP.ID, m.cfg.PDP.Primary.APN, m.cfg.PDP.Primary.Type); err != nil {
		return false, err
	}

	sim, err := m.mc.SimStatus(ctx)
	if err != nil {
		return false, err
	}
	return sim != cellular.SimReady, nil
}

// tryConnect drives one APN through the serviceSearching/start sequence,
// retrying every 10 s until apn's retryTimeout budget elapses (§4.2).
func (m *Manager) tryConnect(ctx context.Context, apn *cellular.APN) (cellular.NetworkInfo, error) {
	budget := time.Duration(m.cfg.PDP.RetryTimeoutSec) * time.Second
	deadline := time.Now().Add(budget)

	for {
		if ctx.Err() != nil {
			return cellular.NetworkInfo{}, nil
		}

		info, ok, err := m.attemptConnect(ctx, apn)
		if err != nil {
			return cellular.NetworkInfo{}, err
		}
		if ok {
			return info, nil
		}

		if time.Now().After(deadline) {
			return cellular.NetworkInfo{}, errConnectExhausted
		}
		if !sleepInterruptible(ctx, tryConnectWait) {
			return cellular.NetworkInfo{}, nil
		}
	}
}

// attemptConnect makes one pass of steps 2-5 of §4.2's try-connect sequence.
// ok=false means "abort this try, the caller will retry"; a non-nil error
// means a ModemControl fault that should escalate immediately.
func (m *Manager) attemptConnect(ctx context.Context, apn *cellular.APN) (cellular.NetworkInfo, bool, error) {
	entries, err := m.mc.PDPContextList(ctx)
	if err != nil {
		return cellular.NetworkInfo{}, false, err
	}

	var entry *cellular.PDPContextEntry
	for i := range entries {
		if entries[i].ID == m.cfg.PDP.ID {
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		m.events.NoPDPContext()
		return cellular.NetworkInfo{}, false, nil
	}
	if entry.APN == "" {
		m.events.NoAPN()
		return cellular.NetworkInfo{}, false, nil
	}

	m.setState(cellular.StateServiceSearching)
	attached := false
	for i := 0; i < serviceSearchTries; i++ {
		if ctx.Err() != nil {
			return cellular.NetworkInfo{}, false, nil
		}
		ok, err := m.mc.Attach(ctx)
		if err != nil {
			return cellular.NetworkInfo{}, false, err
		}
		if ok {
			attached = true
			break
		}
		if !sleepInterruptible(ctx, serviceSearchWait) {
			return cellular.NetworkInfo{}, false, nil
		}
	}
	if !attached {
		return cellular.NetworkInfo{}, false, nil
	}
	m.setState(cellular.StateServiceAttached)

	m.events.ConnectBegin()
	m.mc.Stop(ctx)
	info, err := m.mc.Start(ctx, apn.APN, apn.Auth.Protocol, apn.Auth.Username, apn.Auth.Password)
	if err != nil {
		if modemctl.IsHelperError(err) {
			m.events.ConnectFailure()
		}
		return cellular.NetworkInfo{}, false, err
	}
	return info, true, nil
}

// serveConnected runs the connected-state keepalive loop (§4.2) until a
// disconnect condition is observed or ctx is canceled.
func (m *Manager) serveConnected(ctx context.Context) error {
	interval := time.Duration(m.cfg.Keepalive.IntervalSec) * time.Second
	if !m.cfg.Keepalive.Enable || interval <= 0 {
		interval = defaultKeepaliveSec * time.Second
	}

	for {
		if !sleepInterruptible(ctx, interval) {
			return nil
		}

		up, err := m.mc.Status(ctx)
		if err != nil {
			return err
		}
		if !up {
			m.events.CellularDisconnect()
			m.setNetwork(cellular.Down())
			if m.store != nil {
				m.store.Clear()
			}
			return nil
		}

		if m.cfg.Keepalive.Enable && m.prober != nil {
			if !m.prober.Check(ctx) {
				m.events.CheckaliveFailure()
				m.setNetwork(cellular.Down())
				if m.store != nil {
					m.store.Clear()
				}
				return nil
			}
		}
	}
}
