package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sanji-io/cellulard/cellular"
	"github.com/sanji-io/cellulard/config"
	"github.com/sanji-io/cellulard/facade"
	"github.com/sanji-io/cellulard/modemctl"
	"github.com/sanji-io/cellulard/transport"
)

// Version info - increment based on change magnitude:
// Major (x.0.0): Breaking changes, major rewrites
// Minor (0.y.0): New features, significant enhancements
// Patch (0.0.z): Bug fixes, minor improvements
var Version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Log to file instead of stdout to avoid gateway container pipe
	// saturation.
	os.MkdirAll(cfg.Logs.Path, 0755)
	logFile, err := os.OpenFile(cfg.Logs.Path+"/cellulard.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err == nil {
		log.SetOutput(logFile)
	}

	log.Infof("Starting cellulard v%s", Version)
	log.Infof("  Bus listen addr: %s", cfg.Bus.ListenAddr)
	log.Infof("  Modem control bin: %s", cfg.Modem.ControlBin)
	log.Infof("  Data path: %s", cfg.Data.Path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutting down...")
		cancel()
	}()

	os.MkdirAll(cfg.Data.Path, 0755)

	trace, err := modemctl.NewTrace(filepath.Join(cfg.Data.Path, "trace"), cfg.Logs.RetentionDays)
	if err != nil {
		log.Fatalf("Failed to open modem_ctl trace log: %v", err)
	}
	defer trace.Close()

	f := facade.New(filepath.Join(cfg.Data.Path, "cellular1.json"), cfg.Modem.ControlBin, trace)

	srv := transport.New(cfg.Bus.ListenAddr, f)
	f.OnNetworkChange(func(n cellular.NetworkInfo) {
		name := f.WWANNode()
		srv.PublishInterfaceChange(name, transport.InterfaceEvent{
			Name:    name,
			IP:      n.IP,
			Netmask: n.Netmask,
			Gateway: n.Gateway,
			DNS:     n.DNS,
		})
	})

	if err := f.Init(ctx); err != nil {
		log.Errorf("facade: init: %v", err)
	}
	defer f.Stop()

	// Periodic trace-log retention sweep, mirroring the teacher's daily
	// log-cleanup routine.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				trace.Cleanup()
			}
		}
	}()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
