// Package observer periodically samples the modem's radio state into a
// CellularSnapshot (§4.3). It is adapted from the teacher's discovery.Scanner
// poll loop: single background goroutine, RWMutex-guarded last-writer-wins
// state, and an optional onChange callback — trimmed of BMH-watch/HTTP
// machinery since there is nothing here to subscribe to but the modem
// itself.
package observer

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sanji-io/cellulard/cellular"
	"github.com/sanji-io/cellulard/modemctl"
)

const placeholder = "n/a"

// Observer owns the single current CellularSnapshot for one modem.
type Observer struct {
	mc       *modemctl.ModemControl
	period   time.Duration
	snapshot cellular.CellularSnapshot
	mu       sync.RWMutex
	onChange func(cellular.CellularSnapshot)
}

// New constructs an Observer that samples mc every period.
func New(mc *modemctl.ModemControl, period time.Duration) *Observer {
	return &Observer{mc: mc, period: period}
}

// OnChange registers a callback invoked after every committed sample,
// including one degraded to placeholder values by helper failures. Only
// one callback may be registered; a later call replaces the former.
func (o *Observer) OnChange(fn func(cellular.CellularSnapshot)) {
	o.onChange = fn
}

// Snapshot returns the most recently committed sample. Safe for concurrent
// use with Run.
func (o *Observer) Snapshot() cellular.CellularSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshot
}

// Run samples on a fixed period until ctx is canceled. A helper failure never
// stops the loop; it degrades the sample to placeholder values (§4.3).
func (o *Observer) Run(ctx context.Context) {
	o.sample(ctx)
	ticker := time.NewTicker(o.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sample(ctx)
		}
	}
}

func (o *Observer) sample(ctx context.Context) {
	snap := cellular.CellularSnapshot{Mode: placeholder, SampledAt: time.Now()}

	if sig, err := o.mc.SignalAdv(ctx); err == nil {
		snap.Mode = sig.Mode
		snap.SignalCsq = sig.Csq
		snap.SignalRssiDbm = sig.RssiDbm
		snap.SignalEcioDbm = sig.EcioDbm
	} else {
		log.Warnf("observer: signalAdv failed: %v", err)
	}

	if op, err := o.mc.Operator(ctx); err == nil {
		snap.Operator = op
	} else {
		snap.Operator = placeholder
		log.Warnf("observer: operator failed: %v", err)
	}

	if loc, err := o.mc.Location(ctx); err == nil {
		snap.LAC = loc.LAC
		snap.TAC = loc.TAC
		snap.CellID = loc.CellID
		snap.BID = loc.BID
		snap.NID = loc.NID
	} else {
		snap.LAC, snap.TAC, snap.CellID, snap.BID, snap.NID = placeholder, placeholder, placeholder, placeholder, placeholder
		log.Warnf("observer: location failed: %v", err)
	}

	o.mu.Lock()
	o.snapshot = snap
	o.mu.Unlock()

	if o.onChange != nil {
		o.onChange(snap)
	}
}
