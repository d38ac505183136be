// Package config loads the process-level daemon configuration: where the
// bus surface listens, where state lives, and how to invoke modem_ctl. The
// per-modem Configuration from cellular.Configuration (§3) is a separate,
// JSON-shaped document the Facade owns and rewrites on PUT; this is the
// daemon's own bootstrap config, loaded once at startup the way the
// teacher's config.Load does: defaults in a literal struct, overlaid by
// gopkg.in/yaml.v3.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's process-level bootstrap configuration.
type Config struct {
	Bus     BusConfig     `yaml:"bus"`
	Modem   ModemConfig   `yaml:"modem"`
	Data    DataConfig    `yaml:"data"`
	Logs    LogsConfig    `yaml:"logs"`
}

// BusConfig is the inbound request/response surface (§6).
type BusConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// ModemConfig names the external modem-control executable (§4.1). The
// byte-counter helper (§4.5) is invoked under its own fixed name, matching
// the original source's vnstat.py wrapper.
type ModemConfig struct {
	ControlBin string `yaml:"control_bin"`
}

// DataConfig is where persisted per-modem configuration, the PDP
// session-cookie statefile, and the modem_ctl trace log live.
type DataConfig struct {
	Path string `yaml:"path"`
}

// LogsConfig controls where the process log file goes and how long the
// modem_ctl trace log is retained.
type LogsConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads path, overlaying it onto built-in defaults. A missing file is
// an error — unlike the per-modem Configuration, there is no sensible
// bootstrap without at least a data directory and a modem_ctl path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Bus: BusConfig{
			ListenAddr: ":8080",
		},
		Modem: ModemConfig{
			ControlBin: "modem_ctl",
		},
		Data: DataConfig{
			Path: "/data/cellulard",
		},
		Logs: LogsConfig{
			Path:          "/data/cellulard/logs",
			RetentionDays: 14,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
