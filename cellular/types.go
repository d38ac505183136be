// Package cellular holds the data model shared by every component that
// drives or reports on a single cellular modem.
package cellular

import (
	"time"
)

// AuthProtocol is the PDP authentication method for an APN.
type AuthProtocol string

const (
	AuthNone AuthProtocol = "none"
	AuthPAP  AuthProtocol = "pap"
	AuthCHAP AuthProtocol = "chap"
	AuthBoth AuthProtocol = "both"
)

// PDPType is the address family requested for a PDP context.
type PDPType string

const (
	PDPIPv4     PDPType = "ipv4"
	PDPIPv6     PDPType = "ipv6"
	PDPIPv4IPv6 PDPType = "ipv4v6"
)

// Auth carries the PAP/CHAP credentials for an APN, if any.
type Auth struct {
	Protocol AuthProtocol `json:"protocol" yaml:"protocol"`
	Username string       `json:"username,omitempty" yaml:"username,omitempty"`
	Password string       `json:"password,omitempty" yaml:"password,omitempty"`
}

// APN describes one access point: the gateway a PDP context dials into.
type APN struct {
	APN  string  `json:"apn" yaml:"apn"`
	Type PDPType `json:"type" yaml:"type"`
	Auth Auth    `json:"auth" yaml:"auth"`
}

// PDPConfig is the persisted PDP-context section of Configuration.
type PDPConfig struct {
	Static          bool `json:"static" yaml:"static"`
	ID              int  `json:"id" yaml:"id"`
	RetryTimeoutSec int  `json:"retryTimeoutSec" yaml:"retryTimeoutSec"`
	Primary         APN  `json:"primary" yaml:"primary"`
	Secondary       *APN `json:"secondary,omitempty" yaml:"secondary,omitempty"`
}

// KeepaliveConfig is the persisted keepalive section of Configuration.
type KeepaliveConfig struct {
	Enable      bool   `json:"enable" yaml:"enable"`
	Host        string `json:"host" yaml:"host"`
	IntervalSec int    `json:"intervalSec" yaml:"intervalSec"`
}

// RebootConfig is a hint forwarded to the external watchdog; cellulard never
// acts on it directly.
type RebootConfig struct {
	Enable bool `json:"enable" yaml:"enable"`
	Cycles int  `json:"cycles" yaml:"cycles"`
}

// Configuration is the persisted, per-modem configuration document (§3).
type Configuration struct {
	Enable       bool            `json:"enable" yaml:"enable"`
	Pin          string          `json:"pin" yaml:"pin"`
	PDP          PDPConfig       `json:"pdp" yaml:"pdp"`
	Keepalive    KeepaliveConfig `json:"keepalive" yaml:"keepalive"`
	Reboot       RebootConfig    `json:"reboot" yaml:"reboot"`
	LogPeriodSec int             `json:"logPeriodSec" yaml:"logPeriodSec"`
}

// Clone returns a deep copy so callers never share a Configuration's string
// fields (notably Pin) with a mutator.
func (c Configuration) Clone() Configuration {
	out := c
	if c.PDP.Secondary != nil {
		sec := *c.PDP.Secondary
		out.PDP.Secondary = &sec
	}
	return out
}

// StaticInfo is read once per modem initialization (§3).
type StaticInfo struct {
	ICCID          string
	IMSI           string
	IMEI           string
	PinRetryRemain int
}

// CellularSnapshot is refreshed by Observer on a fixed period (§3).
type CellularSnapshot struct {
	Mode          string
	SignalCsq     int
	SignalRssiDbm int
	SignalEcioDbm int
	Operator      string
	LAC           string
	TAC           string
	CellID        string
	BID           string
	NID           string
	SampledAt     time.Time
}

// NetworkStatus is the up/down state of NetworkInfo.
type NetworkStatus string

const (
	StatusUp   NetworkStatus = "up"
	StatusDown NetworkStatus = "down"
)

// NetworkInfo is the IP configuration obtained from a successful PDP
// activation, or the zeroed down-state value (§3).
type NetworkInfo struct {
	Status  NetworkStatus `json:"status"`
	IP      string        `json:"ip"`
	Netmask string        `json:"netmask"`
	Gateway string        `json:"gateway"`
	DNS     []string      `json:"dns"`
}

// Down returns the canonical empty, down-state NetworkInfo.
func Down() NetworkInfo {
	return NetworkInfo{Status: StatusDown, DNS: []string{}}
}

// ModemState is the Manager's state machine position (§3).
type ModemState string

const (
	StateInitializing     ModemState = "initializing"
	StateNoSIM            ModemState = "nosim"
	StatePIN              ModemState = "pin"
	StatePINError         ModemState = "pinError"
	StateReady            ModemState = "ready"
	StateServiceSearching ModemState = "serviceSearching"
	StateServiceAttached  ModemState = "serviceAttached"
	StateConnecting       ModemState = "connecting"
	StateConnectFailure   ModemState = "connectFailure"
	StateConnected        ModemState = "connected"
	StatePowerCycle       ModemState = "powerCycle"
)

// Usage is the cumulative tx/rx byte counter (§4.5), in kilobytes; -1 means
// "not available" (helper failure, or the counter was just reset).
type Usage struct {
	TxKB int64
	RxKB int64
}

// PlaceholderUsage is returned whenever the byte counter cannot be read.
func PlaceholderUsage() Usage {
	return Usage{TxKB: -1, RxKB: -1}
}

// PDPContextEntry is one row of a pdpContextList() response (§8 fixture 7).
type PDPContextEntry struct {
	ID   int
	Type PDPType
	APN  string
}

// Signal is the parsed result of signal()/signalAdv() (§4.1).
type Signal struct {
	Mode     string
	RssiDbm  int
	EcioDbm  int
	Csq      int
}

// ModuleInfo is the parsed result of mInfo() (§4.1).
type ModuleInfo struct {
	Module   string
	WWANNode string
	LAC      string
	CellID   string
	ICCID    string
	IMEI     string
	QMIPort  string
}

// SimState is the parsed result of simStatus() (§4.1).
type SimState string

const (
	SimNoSIM SimState = "nosim"
	SimPIN   SimState = "pin"
	SimReady SimState = "ready"
)

// Location is the parsed result of location() (§4.1).
type Location struct {
	CellID string
	LAC    string
	TAC    string
	BID    string
	NID    string
}

// Record is the composite GET response shape (§6): static identity, the
// latest radio snapshot, network state, usage counters, and an echo of the
// persisted configuration, all flattened into one document.
type Record struct {
	ID             int             `json:"id"`
	Name           string          `json:"name"`
	Mode           string          `json:"mode"`
	Signal         int             `json:"signal"`
	OperatorName   string          `json:"operatorName"`
	LAC            string          `json:"lac"`
	CellID         string          `json:"cellId"`
	ICCID          string          `json:"iccId"`
	IMEI           string          `json:"imei"`
	PinRetryRemain int             `json:"pinRetryRemain"`
	Status         string          `json:"status"`
	IP             string          `json:"ip"`
	Netmask        string          `json:"netmask"`
	Gateway        string          `json:"gateway"`
	DNS            []string        `json:"dns"`
	Usage          UsageRecord     `json:"usage"`
	Enable         bool            `json:"enable"`
	PDP            PDPConfig       `json:"pdpContext"`
	Pin            string          `json:"pinCode"`
	Keepalive      KeepaliveConfig `json:"keepalive"`
	Reboot         RebootConfig    `json:"reboot"`
}

// UsageRecord is Usage's wire shape (§6 field names differ from the Go
// struct's).
type UsageRecord struct {
	TxKB int64 `json:"txkbyte"`
	RxKB int64 `json:"rxkbyte"`
}

const placeholderNA = "n/a"

// NewRecord assembles one GET record from a modem's current state. Any
// zero-valued StaticInfo/CellularSnapshot field that spec.md marks
// "unknown until sampled" is rendered as the "n/a" placeholder string
// rather than an empty one, so callers can distinguish "never sampled"
// from "sampled as empty".
func NewRecord(id int, name string, state ModemState, static StaticInfo, snap CellularSnapshot, net NetworkInfo, usage Usage, cfg Configuration) Record {
	if name == "" {
		name = placeholderNA
	}
	mode := snap.Mode
	if mode == "" {
		mode = placeholderNA
	}
	operator := snap.Operator
	if operator == "" {
		operator = placeholderNA
	}
	lac := snap.LAC
	if lac == "" {
		lac = placeholderNA
	}
	cellID := snap.CellID
	if cellID == "" {
		cellID = placeholderNA
	}
	iccid := static.ICCID
	if iccid == "" {
		iccid = placeholderNA
	}
	imei := static.IMEI
	if imei == "" {
		imei = placeholderNA
	}

	dns := net.DNS
	if dns == nil {
		dns = []string{}
	}

	ip := net.IP
	if ip == "" {
		ip = placeholderNA
	}
	netmask := net.Netmask
	if netmask == "" {
		netmask = placeholderNA
	}
	gateway := net.Gateway
	if gateway == "" {
		gateway = placeholderNA
	}

	return Record{
		ID:             id,
		Name:           name,
		Mode:           mode,
		Signal:         snap.SignalRssiDbm,
		OperatorName:   operator,
		LAC:            lac,
		CellID:         cellID,
		ICCID:          iccid,
		IMEI:           imei,
		PinRetryRemain: static.PinRetryRemain,
		Status:         string(state),
		IP:             ip,
		Netmask:        netmask,
		Gateway:        gateway,
		DNS:            dns,
		Usage:          UsageRecord{TxKB: usage.TxKB, RxKB: usage.RxKB},
		Enable:         cfg.Enable,
		PDP:            cfg.PDP,
		Pin:            cfg.Pin,
		Keepalive:      cfg.Keepalive,
		Reboot:         cfg.Reboot,
	}
}
