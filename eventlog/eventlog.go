// Package eventlog emits the Manager's fixed event vocabulary (§4.7) to the
// process logger. Unlike the trace kept by modemctl, this is for operators:
// one structured logrus line per event, never a free-form string.
package eventlog

import (
	log "github.com/sirupsen/logrus"
)

// Kind is one of the fixed event names the Manager is allowed to emit.
type Kind string

const (
	NoSIM             Kind = "no-sim"
	NoPIN             Kind = "no-pin"
	PINError          Kind = "pin-error"
	NoAPN             Kind = "no-apn"
	NoPDPContext      Kind = "no-pdp-context"
	ConnectBegin      Kind = "connect-begin"
	ConnectSuccess    Kind = "connect-success"
	ConnectFailure    Kind = "connect-failure"
	CellularDisconnect Kind = "cellular-disconnect"
	CheckaliveFailure Kind = "checkalive-failure"
	PowerCycle        Kind = "power-cycle"
	CellularInformation Kind = "cellular-information"
)

// Log is the fixed-vocabulary event sink. It is safe for concurrent use:
// logrus.Entry.Log already serializes writes to the underlying output.
type Log struct {
	entry *log.Entry
}

// New returns a Log tagged with the modem id it reports for, so multi-line
// operator output can be grepped per instance even though this spec only
// runs one modem per process.
func New(modemID string) *Log {
	return &Log{entry: log.WithField("modem", modemID)}
}

func (l *Log) emit(kind Kind, fields log.Fields) {
	e := l.entry.WithField("event", string(kind))
	if len(fields) > 0 {
		e = e.WithFields(fields)
	}
	e.Info(kind)
}

func (l *Log) NoSIM()        { l.emit(NoSIM, nil) }
func (l *Log) NoPIN()        { l.emit(NoPIN, nil) }
func (l *Log) PINError()     { l.emit(PINError, nil) }
func (l *Log) NoAPN()        { l.emit(NoAPN, nil) }
func (l *Log) NoPDPContext() { l.emit(NoPDPContext, nil) }
func (l *Log) ConnectBegin() { l.emit(ConnectBegin, nil) }

// ConnectSuccess carries the IP configuration that was just established.
func (l *Log) ConnectSuccess(ip, netmask, gateway string, dns []string) {
	l.emit(ConnectSuccess, log.Fields{
		"ip": ip, "netmask": netmask, "gateway": gateway, "dns": dns,
	})
}

func (l *Log) ConnectFailure()     { l.emit(ConnectFailure, nil) }
func (l *Log) CellularDisconnect() { l.emit(CellularDisconnect, nil) }
func (l *Log) CheckaliveFailure()  { l.emit(CheckaliveFailure, nil) }
func (l *Log) PowerCycle()         { l.emit(PowerCycle, nil) }

// CellularInformation carries the periodic Logger snapshot (§4.4).
func (l *Log) CellularInformation(mode string, dBm, rssi int, lac, cellID string) {
	l.emit(CellularInformation, log.Fields{
		"mode": mode, "dBm": dBm, "rssi": rssi, "lac": lac, "cellId": cellID,
	})
}
