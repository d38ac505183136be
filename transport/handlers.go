package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sanji-io/cellulard/cellular"
)

// putBody mirrors the PUT wire schema verbatim from spec.md §6, which
// names fields differently from the persisted cellular.Configuration
// (pdpContext vs pdp, pinCode vs pin, keepalive.targetHost vs
// keepalive.host, reboot nested under keepalive rather than top-level).
// Unmarshaling into this shape first, then mapping to Configuration, keeps
// that impedance mismatch in one place instead of leaking bus field names
// into the persisted document.
type putBody struct {
	ID         int           `json:"id"`
	Enable     bool          `json:"enable"`
	PDPContext putPDP        `json:"pdpContext"`
	PinCode    string        `json:"pinCode"`
	Keepalive  putKeepalive  `json:"keepalive"`
}

type putPDP struct {
	Static       bool    `json:"static"`
	ID           int     `json:"id"`
	RetryTimeout int     `json:"retryTimeout"`
	Primary      putAPN  `json:"primary"`
	Secondary    *putAPN `json:"secondary,omitempty"`
}

type putAPN struct {
	APN  string   `json:"apn"`
	Type string   `json:"type"`
	Auth *putAuth `json:"auth,omitempty"`
}

type putAuth struct {
	Protocol string `json:"protocol"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type putKeepalive struct {
	Enable      bool       `json:"enable"`
	TargetHost  string     `json:"targetHost"`
	IntervalSec int        `json:"intervalSec"`
	Reboot      *putReboot `json:"reboot,omitempty"`
}

type putReboot struct {
	Enable bool `json:"enable"`
	Cycles int  `json:"cycles"`
}

func (b putBody) toConfiguration() cellular.Configuration {
	cfg := cellular.Configuration{
		Enable: b.Enable,
		Pin:    b.PinCode,
		PDP: cellular.PDPConfig{
			Static:          b.PDPContext.Static,
			ID:              b.PDPContext.ID,
			RetryTimeoutSec: b.PDPContext.RetryTimeout,
			Primary:         b.PDPContext.Primary.toAPN(),
		},
		Keepalive: cellular.KeepaliveConfig{
			Enable:      b.Keepalive.Enable,
			Host:        b.Keepalive.TargetHost,
			IntervalSec: b.Keepalive.IntervalSec,
		},
	}
	if b.PDPContext.Secondary != nil {
		sec := b.PDPContext.Secondary.toAPN()
		cfg.PDP.Secondary = &sec
	}
	if b.Keepalive.Reboot != nil {
		cfg.Reboot = cellular.RebootConfig{
			Enable: b.Keepalive.Reboot.Enable,
			Cycles: b.Keepalive.Reboot.Cycles,
		}
	}
	return cfg
}

func (a putAPN) toAPN() cellular.APN {
	out := cellular.APN{APN: a.APN, Type: cellular.PDPType(a.Type)}
	if a.Auth != nil {
		out.Auth = cellular.Auth{
			Protocol: cellular.AuthProtocol(a.Auth.Protocol),
			Username: a.Auth.Username,
			Password: a.Auth.Password,
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleList implements GET /network/cellulars (§6).
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.facade.List())
}

// handleGet implements GET /network/cellulars/:id (§6): 400 for any id
// other than 1, never a 404 — spec.md §7 reserves non-2xx for schema
// violations and unknown ids, not for modem/helper failures.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "no such resource")
		return
	}
	rec, err := s.facade.Get(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, "no such resource")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handlePut implements PUT /network/cellulars/:id (§6): validate, persist,
// restart the Manager, return the fresh record.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "no such resource")
		return
	}

	var body putBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	rec, err := s.facade.Put(r.Context(), id, body.toConfiguration())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
