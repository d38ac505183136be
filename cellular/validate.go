package cellular

import (
	"fmt"
	"regexp"
)

var pinPattern = regexp.MustCompile(`^[0-9]{4}$`)

// Validate enforces the PUT body schema from spec.md §6. It is hand-written
// boundary validation, not a replacement for the JSON-schema validator that
// spec.md places out of scope: it only rejects what would otherwise corrupt
// the persisted Configuration or crash the Manager.
func (c Configuration) Validate() error {
	if c.Pin != "" && !pinPattern.MatchString(c.Pin) {
		return fmt.Errorf("pinCode: must be empty or exactly 4 digits")
	}

	if c.PDP.ID < 1 {
		return fmt.Errorf("pdpContext.id: must be >= 1")
	}
	if c.PDP.RetryTimeoutSec < 0 {
		return fmt.Errorf("pdpContext.retryTimeout: must be >= 0")
	}
	if err := validateAPN("pdpContext.primary", c.PDP.Primary); err != nil {
		return err
	}
	if c.PDP.Secondary != nil {
		if err := validateAPN("pdpContext.secondary", *c.PDP.Secondary); err != nil {
			return err
		}
	}

	if c.Keepalive.IntervalSec != 0 && (c.Keepalive.IntervalSec < 60 || c.Keepalive.IntervalSec > 86399) {
		return fmt.Errorf("keepalive.intervalSec: must be 0 or in [60, 86399]")
	}

	if c.Reboot.Enable && (c.Reboot.Cycles < 1 || c.Reboot.Cycles > 48) {
		return fmt.Errorf("reboot.cycles: must be in [1, 48]")
	}

	return nil
}

func validateAPN(field string, a APN) error {
	if len(a.APN) > 100 {
		return fmt.Errorf("%s.apn: must be at most 100 characters", field)
	}
	switch a.Type {
	case PDPIPv4, PDPIPv6, PDPIPv4IPv6:
	default:
		return fmt.Errorf("%s.type: must be one of ipv4, ipv6, ipv4v6", field)
	}
	switch a.Auth.Protocol {
	case "", AuthNone, AuthPAP, AuthCHAP, AuthBoth:
	default:
		return fmt.Errorf("%s.auth.protocol: must be one of none, pap, chap, both", field)
	}
	return nil
}
