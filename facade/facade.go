// Package facade orchestrates one modem's full component set: config
// persistence, modem detection at boot, and the GET/PUT operations the
// transport layer calls into (§4.6). Grounded on the teacher's sol.Manager,
// which owns a map of named sessions behind a mutex and starts/stops each
// one's workers on demand; here there is exactly one modem (id 1) instead
// of a map, but the lifecycle shape — construct collaborators, launch
// workers, tear down cleanly on replace — is the same.
package facade

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sanji-io/cellulard/cellular"
	"github.com/sanji-io/cellulard/eventlog"
	"github.com/sanji-io/cellulard/keepalive"
	"github.com/sanji-io/cellulard/manager"
	"github.com/sanji-io/cellulard/modemctl"
	"github.com/sanji-io/cellulard/observer"
	"github.com/sanji-io/cellulard/statefile"
	"github.com/sanji-io/cellulard/usage"
)

const modemID = 1

const (
	detectAttempts   = 3
	detectSettleWait = 2 * time.Second
	observerPeriod   = 30 * time.Second
	defaultLogPeriod = 60 * time.Second
	loggerNilDefer   = 10 * time.Second
)

// Facade is the single top-level owner of a modem's configuration, its
// ModemControl binding, and the Manager/Observer/UsageCounter workers that
// drive it. Exactly one exists per process (spec.md names a single modem,
// id 1).
type Facade struct {
	cfgPath  string
	modemCtl string
	trace    *modemctl.Trace

	mu       sync.RWMutex
	cfg      cellular.Configuration
	detected bool
	wwanNode string

	mc     *modemctl.ModemControl
	events *eventlog.Log
	obs    *observer.Observer
	store  *statefile.Store
	prober *keepalive.Prober
	usage  *usage.Counter
	mgr    *manager.Manager

	onNetworkChange func(cellular.NetworkInfo)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Facade. cfgPath is the per-modem JSON configuration
// document (§3); modemCtlBin and trace are threaded into every
// ModemControl this Facade ever creates.
func New(cfgPath, modemCtlBin string, trace *modemctl.Trace) *Facade {
	return &Facade{
		cfgPath:  cfgPath,
		modemCtl: modemCtlBin,
		trace:    trace,
		cfg:      defaultConfiguration(),
		events:   eventlog.New(fmt.Sprintf("cellular%d", modemID)),
	}
}

func defaultConfiguration() cellular.Configuration {
	return cellular.Configuration{
		Enable:       true,
		LogPeriodSec: 60,
		PDP: cellular.PDPConfig{
			ID:              1,
			RetryTimeoutSec: 120,
			Primary:         cellular.APN{Type: cellular.PDPIPv4, Auth: cellular.Auth{Protocol: cellular.AuthNone}},
		},
	}
}

// OnNetworkChange registers the callback the transport layer uses to
// publish the outbound /network/interfaces/<name> event (§6).
func (f *Facade) OnNetworkChange(fn func(cellular.NetworkInfo)) {
	f.onNetworkChange = fn
}

// WWANNode returns the detected modem's WWAN interface name (e.g.
// "wwan0"), or "" before detection succeeds.
func (f *Facade) WWANNode() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.wwanNode
}

// Init loads the persisted configuration (or the defaults, if none exists
// yet), attempts modem detection up to detectAttempts times with a
// power-cycle between tries, and — if a modem answers — starts the full
// worker set. If detection never succeeds the Facade still serves an empty
// list and accepts PUTs, per spec.md §4.6.
func (f *Facade) Init(ctx context.Context) error {
	if err := f.loadConfig(); err != nil {
		log.Warnf("facade: loading persisted configuration: %v, using defaults", err)
	}

	f.mc = modemctl.New(f.modemCtl, f.trace)

	wwanNode := ""
	for attempt := 1; attempt <= detectAttempts; attempt++ {
		info, err := f.mc.MInfo(ctx)
		if err == nil && info.WWANNode != "" {
			wwanNode = info.WWANNode
			break
		}
		log.Warnf("facade: modem detection attempt %d/%d failed: %v", attempt, detectAttempts, err)
		if attempt < detectAttempts {
			if err := f.mc.PowerCycle(ctx, true, 0); err != nil {
				log.Warnf("facade: power-cycle between detection attempts failed: %v", err)
			}
			time.Sleep(detectSettleWait)
		}
	}

	if wwanNode == "" {
		log.Warnf("facade: no modem detected after %d attempts; serving empty list", detectAttempts)
		return nil
	}

	f.wwanNode = wwanNode
	f.startWorkers(ctx, f.cfg)
	return nil
}

// startWorkers builds the Observer/UsageCounter/Manager collaborators for
// cfg and launches their goroutines. Callers must hold no lock; it takes
// f.mu itself only for the final assignment.
func (f *Facade) startWorkers(ctx context.Context, cfg cellular.Configuration) {
	workerCtx, cancel := context.WithCancel(ctx)

	obs := observer.New(f.mc, observerPeriod)
	counter := usage.New(f.wwanNode)
	var prober *keepalive.Prober
	if cfg.Keepalive.Enable {
		prober = keepalive.New(f.wwanNode, cfg.Keepalive.Host)
	}
	store := statefile.New(filepath.Dir(f.cfgPath))
	if prior := store.Load(); prior.CID != "" {
		log.Infof("facade: found prior PDP session cookie (pdh=%s cid=%s) from before restart", prior.PDH, prior.CID)
	}

	mgr := manager.New(cfg, manager.Deps{
		ModemControl: f.mc,
		Events:       f.events,
		Observer:     obs,
		Store:        store,
		Prober:       prober,
		Publish: func(n cellular.NetworkInfo) {
			if f.onNetworkChange != nil {
				f.onNetworkChange(n)
			}
		},
	})

	f.mu.Lock()
	f.obs = obs
	f.usage = counter
	f.prober = prober
	f.store = store
	f.mgr = mgr
	f.detected = true
	f.cfg = cfg.Clone()
	f.cancel = cancel
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		obs.Run(workerCtx)
	}()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.runLogger(workerCtx, cfg.LogPeriodSec)
	}()

	mgr.Start()
}

// runLogger implements §4.4: every logPeriodSec it reads the Manager's
// current snapshot and emits one cellular-information event. A zero
// SampledAt means the Observer has not sampled yet, so the next check is
// deferred loggerNilDefer instead of the steady-state period.
func (f *Facade) runLogger(ctx context.Context, logPeriodSec int) {
	period := time.Duration(logPeriodSec) * time.Second
	if period <= 0 {
		period = defaultLogPeriod
	}

	wait := period
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		snap := f.mgr.Snapshot()
		if snap.SampledAt.IsZero() {
			wait = loggerNilDefer
			continue
		}
		f.events.CellularInformation(snap.Mode, snap.SignalRssiDbm, snap.SignalCsq, snap.LAC, snap.CellID)
		wait = period
	}
}

// List implements GET /network/cellulars (§6): an empty slice before
// detection completes or when no modem was found, otherwise the single
// composite record.
func (f *Facade) List() []cellular.Record {
	if !f.isDetected() {
		return []cellular.Record{}
	}
	return []cellular.Record{f.buildRecord()}
}

// Get implements GET /network/cellulars/:id.
func (f *Facade) Get(id int) (cellular.Record, error) {
	if id != modemID || !f.isDetected() {
		return cellular.Record{}, fmt.Errorf("no such resource")
	}
	return f.buildRecord(), nil
}

// Put implements PUT /network/cellulars/:id (§4.6, §6): validate, persist,
// stop and recreate the Manager, return the fresh record.
func (f *Facade) Put(ctx context.Context, id int, cfg cellular.Configuration) (cellular.Record, error) {
	if id != modemID {
		return cellular.Record{}, fmt.Errorf("no such resource")
	}
	if err := cfg.Validate(); err != nil {
		return cellular.Record{}, err
	}
	if err := f.saveConfig(cfg); err != nil {
		return cellular.Record{}, fmt.Errorf("persisting configuration: %w", err)
	}

	f.mu.Lock()
	oldMgr := f.mgr
	oldCancel := f.cancel
	f.mu.Unlock()

	if oldMgr != nil {
		oldMgr.Stop()
	}
	if oldCancel != nil {
		oldCancel()
	}
	f.wg.Wait()

	if f.wwanNode == "" {
		// No modem was ever detected; persist the config for when one shows
		// up, but there is nothing to (re)start yet.
		f.mu.Lock()
		f.cfg = cfg.Clone()
		f.mu.Unlock()
		return f.buildRecord(), nil
	}

	f.startWorkers(ctx, cfg)
	return f.buildRecord(), nil
}

// Stop tears down every running worker. Safe to call even if Init never
// found a modem.
func (f *Facade) Stop() {
	f.mu.RLock()
	mgr := f.mgr
	cancel := f.cancel
	f.mu.RUnlock()

	if mgr != nil {
		mgr.Stop()
	}
	if cancel != nil {
		cancel()
	}
	f.wg.Wait()
}

func (f *Facade) isDetected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.detected
}

func (f *Facade) buildRecord() cellular.Record {
	f.mu.RLock()
	mgr := f.mgr
	counter := f.usage
	cfg := f.cfg
	wwanNode := f.wwanNode
	f.mu.RUnlock()

	var (
		state cellular.ModemState
		static cellular.StaticInfo
		snap  cellular.CellularSnapshot
		net   cellular.NetworkInfo
		usg   = cellular.PlaceholderUsage()
	)
	if mgr != nil {
		state = mgr.State()
		static = mgr.StaticInfo()
		snap = mgr.Snapshot()
		net = mgr.NetworkInfo()
	}
	if counter != nil {
		ctx := context.Background()
		if err := counter.Update(ctx); err != nil {
			log.Warnf("facade: refreshing usage counter: %v", err)
		}
		if u, err := counter.Usage(ctx); err == nil {
			usg = u
		}
	}

	return cellular.NewRecord(modemID, wwanNode, state, static, snap, net, usg, cfg)
}

func (f *Facade) loadConfig() error {
	data, err := os.ReadFile(f.cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var cfg cellular.Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
	return nil
}

func (f *Facade) saveConfig(cfg cellular.Configuration) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.cfgPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, f.cfgPath)
}
