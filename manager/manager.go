// Package manager drives one cellular modem from cold start through steady
// state, recovering from SIM, radio, and helper failures (§4.2). Grounded on
// the teacher's sol.Manager: one owned goroutine per resource running a
// context-cancelable loop, RWMutex-guarded last-writer-wins published state,
// and a callback handle instead of a back-pointer to the owner (here,
// Facade). The state machine itself has no Python or sol.Manager analogue —
// it is built directly from §4.2's transition table.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sanji-io/cellulard/cellular"
	"github.com/sanji-io/cellulard/eventlog"
	"github.com/sanji-io/cellulard/keepalive"
	"github.com/sanji-io/cellulard/modemctl"
	"github.com/sanji-io/cellulard/observer"
	"github.com/sanji-io/cellulard/statefile"
)

const (
	nosimRetryLimit     = 10
	serviceSearchTries  = 180
	defaultKeepaliveSec = 60
)

// These timing constants are vars, not consts, so tests can shrink them
// instead of waiting out the real multi-second/minute budgets.
var (
	nosimRetryWait    = 10 * time.Second
	pinSettleWait     = 3 * time.Second // critical_section: see §5
	serviceSearchWait = 1 * time.Second
	tryConnectWait    = 10 * time.Second
	idleParkWait      = 30 * time.Second
	powerCycleSettle  = 1 * time.Second
)

// Manager owns one modem's state machine. It is constructed fresh by Facade
// for every configuration change; there is no in-place reconfiguration.
type Manager struct {
	mc      *modemctl.ModemControl
	cfg     cellular.Configuration
	events  *eventlog.Log
	obs     *observer.Observer
	store   *statefile.Store
	prober  *keepalive.Prober
	publish func(cellular.NetworkInfo)

	pinMu sync.Mutex
	pin   string // in-memory copy; cleared on pinError, never rewritten in place

	stateMu sync.RWMutex
	state   cellular.ModemState
	static  cellular.StaticInfo
	network cellular.NetworkInfo

	cancel context.CancelFunc
	done   chan struct{}
}

// Deps bundles the collaborators Facade wires into every Manager it creates.
type Deps struct {
	ModemControl *modemctl.ModemControl
	Events       *eventlog.Log
	Observer     *observer.Observer
	Store        *statefile.Store
	Prober       *keepalive.Prober
	Publish      func(cellular.NetworkInfo)
}

// New constructs a Manager for cfg. It does not start the state machine;
// call Start for that.
func New(cfg cellular.Configuration, d Deps) *Manager {
	return &Manager{
		mc:      d.ModemControl,
		cfg:     cfg.Clone(),
		events:  d.Events,
		obs:     d.Observer,
		store:   d.Store,
		prober:  d.Prober,
		publish: d.Publish,
		pin:     cfg.Pin,
		state:   cellular.StateInitializing,
		network: cellular.Down(),
	}
}

// Start launches the state machine's worker goroutine.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx)
}

// Stop requests a clean shutdown and blocks until the worker has exited
// (§4.2's "External stop(): clean stop").
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// State reports the current machine state.
func (m *Manager) State() cellular.ModemState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// StaticInfo reports the last StaticInfo captured on entering ready.
func (m *Manager) StaticInfo() cellular.StaticInfo {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.static
}

// NetworkInfo reports the last published NetworkInfo.
func (m *Manager) NetworkInfo() cellular.NetworkInfo {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.network
}

// Snapshot returns the Observer's latest CellularSnapshot, or a placeholder
// snapshot with Mode "n/a" if no Observer is attached.
func (m *Manager) Snapshot() cellular.CellularSnapshot {
	if m.obs == nil {
		return cellular.CellularSnapshot{Mode: "n/a"}
	}
	return m.obs.Snapshot()
}

func (m *Manager) setState(s cellular.ModemState) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}

func (m *Manager) setNetwork(n cellular.NetworkInfo) {
	m.stateMu.Lock()
	m.network = n
	m.stateMu.Unlock()
	if m.publish != nil {
		m.publish(n)
	}
}

// sleepInterruptible sleeps d, returning early (false) as soon as ctx is
// canceled. Used everywhere except the PIN-settle critical section (§5).
func sleepInterruptible(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// run is the state machine's main loop (§4.2). It never returns except on
// ctx cancellation.
func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	defer m.cleanStop()

	for {
		if ctx.Err() != nil {
			return
		}
		if stop := m.runOnce(ctx); stop {
			return
		}
	}
}

// runOnce drives one pass of the initializing/ready/connecting cycle.
// Recovering here is §4.2's "unexpected panic in main loop" escape path: a
// panic anywhere below is treated exactly like a HelperError, forcing a
// power-cycle instead of taking the whole goroutine down.
func (m *Manager) runOnce(ctx context.Context) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("manager: recovered panic in main loop: %v", r)
			m.escapeToPowerCycle(ctx, fmt.Errorf("panic: %v", r))
			stop = false
		}
	}()

	ready, err := m.initialize(ctx)
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		// HelperError at any level during init: power-cycle and restart.
		m.escapeToPowerCycle(ctx, err)
		return false
	}
	if !ready {
		// Parked in a terminal sub-state (pin, pinError) or the caller
		// canceled. Loop back to re-evaluate simStatus from scratch.
		if !sleepInterruptible(ctx, idleParkWait) {
			return true
		}
		return false
	}

	if !m.cfg.Enable {
		if !sleepInterruptible(ctx, idleParkWait) {
			return true
		}
		return false
	}

	connErr := m.connectAndServe(ctx)
	if ctx.Err() != nil {
		return true
	}
	if connErr != nil {
		m.escapeToPowerCycle(ctx, connErr)
		return false
	}
	// A nil return means either a clean disconnect (re-enter try-connect
	// via initialize, §8 E4) or a SIM reset detected while reconciling
	// the static PDP profile (§4.2 step 1) — both restart from the top.
	return false
}

func (m *Manager) cleanStop() {
	m.events.CellularDisconnect()
	m.mc.Stop(context.Background())
	m.setNetwork(cellular.Down())
	if m.store != nil {
		m.store.Clear()
	}
}

// escapeToPowerCycle implements §4.2's universal escape path: any
// HelperError forces a power-cycle and restarts initialization.
func (m *Manager) escapeToPowerCycle(ctx context.Context, cause error) {
	log.Warnf("manager: escaping to powerCycle: %v", cause)
	m.setState(cellular.StatePowerCycle)
	m.events.PowerCycle()
	if err := m.mc.PowerCycle(ctx, true, 0); err != nil {
		log.Warnf("manager: powerCycle itself failed: %v", err)
	}
	m.setNetwork(cellular.Down())
	sleepInterruptible(ctx, powerCycleSettle)
}
