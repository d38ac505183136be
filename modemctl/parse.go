package modemctl

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sanji-io/cellulard/cellular"
)

// Every pattern here is part of the §8 wire contract. For start, mInfo,
// location, at and pdpContextList a mismatch is a distinct ParseError rather
// than a best-effort guess; parseSignal, parseSimStatus and
// parsePinRetryRemain instead map unrecognized output to a fallback value
// (a zeroed Signal, nosim, and -1 respectively). Grounded
// on the teacher's RebootDetector (sol/reboot.go), which compiles a fixed
// table of anchored/quoted patterns once at construction time.

var (
	startIPRe      = regexp.MustCompile(`(?m)^IP=(\S+)$`)
	startMaskRe    = regexp.MustCompile(`(?m)^SubnetMask=(\S+)$`)
	startGatewayRe = regexp.MustCompile(`(?m)^Gateway=(\S+)$`)
	startDNSRe     = regexp.MustCompile(`(?m)^DNS=(.+)$`)

	signalRe = regexp.MustCompile(`^(\w+)\s+(-?\d+)\s+dbm\s*$`)

	mInfoModuleRe  = regexp.MustCompile(`(?m)^Module=(.*)$`)
	mInfoWWANRe    = regexp.MustCompile(`(?m)^WWAN_node=(.*)$`)
	mInfoLACRe     = regexp.MustCompile(`(?m)^LAC=(.*)$`)
	mInfoCellIDRe  = regexp.MustCompile(`(?m)^CellID=(.*)$`)
	mInfoICCIDRe   = regexp.MustCompile(`(?m)^ICC-ID=(.*)$`)
	mInfoIMEIRe    = regexp.MustCompile(`(?m)^IMEI=(.*)$`)
	mInfoQMIPortRe = regexp.MustCompile(`(?m)^QMI_port=(.*)$`)

	locCellIDRe = regexp.MustCompile(`(?m)^CellID=(.*)$`)
	locLACRe    = regexp.MustCompile(`(?m)^LAC=(.*)$`)
	locTACRe    = regexp.MustCompile(`(?m)^TAC=(.*)$`)
	locBIDRe    = regexp.MustCompile(`(?m)^BID=(.*)$`)
	locNIDRe    = regexp.MustCompile(`(?m)^NID=(.*)$`)

	pinRetryRe = regexp.MustCompile(`PIN1 retries:\s*'(\d+)'`)
	pinStateRe = regexp.MustCompile(`PIN1 state:\s*'([^']*)'`)

	pdpLineRe = regexp.MustCompile(`^(\d+),([^,]*),(\S+)$`)

	atCmeErrorRe = regexp.MustCompile(`(?s)^(.*?)\s*\+CME ERROR:\s*(.+?)\s*$`)
)

// parseStart parses the `start` helper's four-line output (§4.1, §8 #1).
func parseStart(output string) (cellular.NetworkInfo, error) {
	ip := startIPRe.FindStringSubmatch(output)
	mask := startMaskRe.FindStringSubmatch(output)
	gw := startGatewayRe.FindStringSubmatch(output)
	dns := startDNSRe.FindStringSubmatch(output)

	if ip == nil || mask == nil || gw == nil || dns == nil {
		return cellular.NetworkInfo{}, &ParseError{Op: "start", Output: output}
	}

	return cellular.NetworkInfo{
		Status:  cellular.StatusUp,
		IP:      ip[1],
		Netmask: mask[1],
		Gateway: gw[1],
		DNS:     strings.Fields(dns[1]),
	}, nil
}

// parseSignal parses the `<mode> -<n> dbm` fixture (§8 #2). An out-of-range
// marker (anything that doesn't match) returns a zeroed Signal without
// failing, per §4.1.
func parseSignal(output string) cellular.Signal {
	m := signalRe.FindStringSubmatch(strings.TrimSpace(output))
	if m == nil {
		return cellular.Signal{}
	}
	dbm, _ := strconv.Atoi(m[2])
	return cellular.Signal{Mode: m[1], RssiDbm: dbm}
}

// parseMInfo parses the mInfo block (§8 #3).
func parseMInfo(output string) (cellular.ModuleInfo, error) {
	module := mInfoModuleRe.FindStringSubmatch(output)
	wwan := mInfoWWANRe.FindStringSubmatch(output)
	if module == nil || wwan == nil {
		return cellular.ModuleInfo{}, &ParseError{Op: "mInfo", Output: output}
	}
	info := cellular.ModuleInfo{
		Module:   module[1],
		WWANNode: wwan[1],
	}
	if m := mInfoLACRe.FindStringSubmatch(output); m != nil {
		info.LAC = m[1]
	}
	if m := mInfoCellIDRe.FindStringSubmatch(output); m != nil {
		info.CellID = m[1]
	}
	if m := mInfoICCIDRe.FindStringSubmatch(output); m != nil {
		info.ICCID = m[1]
	}
	if m := mInfoIMEIRe.FindStringSubmatch(output); m != nil {
		info.IMEI = m[1]
	}
	if m := mInfoQMIPortRe.FindStringSubmatch(output); m != nil {
		info.QMIPort = m[1]
	}
	return info, nil
}

// parseLocation parses the `location` helper's `key=value` block (§4.1:
// `{cellId, lac, tac, bid, nid}`). Distinct from mInfo's block even though
// both share the CellID/LAC lines, because location can run standalone
// (e.g. while mInfo's module/wwanNode fields are already cached). CellID and
// LAC are required; TAC/BID/NID are network-type-specific and absent on
// networks that don't report them, so they are optional.
func parseLocation(output string) (cellular.Location, error) {
	cellID := locCellIDRe.FindStringSubmatch(output)
	lac := locLACRe.FindStringSubmatch(output)
	if cellID == nil || lac == nil {
		return cellular.Location{}, &ParseError{Op: "location", Output: output}
	}
	loc := cellular.Location{CellID: cellID[1], LAC: lac[1]}
	if m := locTACRe.FindStringSubmatch(output); m != nil {
		loc.TAC = m[1]
	}
	if m := locBIDRe.FindStringSubmatch(output); m != nil {
		loc.BID = m[1]
	}
	if m := locNIDRe.FindStringSubmatch(output); m != nil {
		loc.NID = m[1]
	}
	return loc, nil
}

// parseSimStatus parses sim_status fixtures (§8 #4). A non-zero exit means
// nosim and is handled by the caller before this is reached.
func parseSimStatus(output string) cellular.SimState {
	switch strings.TrimSpace(output) {
	case "+CPIN: READY":
		return cellular.SimReady
	case "+CPIN: SIM PIN":
		return cellular.SimPIN
	default:
		return cellular.SimNoSIM
	}
}

// parsePinRetryRemain parses the PIN-retry fixture (§8 #5). "state:
// 'disabled'" (PIN not required) returns -1.
func parsePinRetryRemain(output string) int {
	if m := pinStateRe.FindStringSubmatch(output); m != nil && m[1] == "disabled" {
		return -1
	}
	m := pinRetryRe.FindStringSubmatch(output)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// ATStatus is the outcome classification of an `at` invocation (§4.1, §8 #6).
type ATStatus string

const (
	ATOk      ATStatus = "ok"
	ATErr     ATStatus = "err"
	ATCmeErr  ATStatus = "cmeErr"
)

// ATResult is the typed return of ModemControl.AT.
type ATResult struct {
	Status ATStatus
	Info   string
}

// parseAT classifies raw AT response text per the §8 #6 fixture table.
func parseAT(output string) (ATResult, error) {
	trimmed := strings.TrimRight(output, "\r\n")
	lines := strings.Split(trimmed, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}

	if len(lines) == 0 || lines[len(lines)-1] == "" {
		return ATResult{}, &ParseError{Op: "at", Output: output}
	}

	tail := lines[len(lines)-1]

	if tail == "OK" {
		info := strings.TrimSpace(strings.Join(lines[:len(lines)-1], "\n"))
		return ATResult{Status: ATOk, Info: info}, nil
	}
	if tail == "ERROR" {
		return ATResult{Status: ATErr, Info: ""}, nil
	}
	if m := atCmeErrorRe.FindStringSubmatch(trimmed); m != nil {
		return ATResult{Status: ATCmeErr, Info: strings.TrimSpace(m[2])}, nil
	}

	return ATResult{}, &ParseError{Op: "at", Output: output}
}

// parsePDPContextList parses the pdpContextList fixture (§8 #7):
// "1,internet,IP\n2,TPC,IPV4V6\n" -> ordered entries.
func parsePDPContextList(output string) ([]cellular.PDPContextEntry, error) {
	var entries []cellular.PDPContextEntry
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := pdpLineRe.FindStringSubmatch(line)
		if m == nil {
			return nil, &ParseError{Op: "pdpContextList", Output: output}
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, &ParseError{Op: "pdpContextList", Output: output}
		}
		entries = append(entries, cellular.PDPContextEntry{
			ID:   id,
			APN:  m[2],
			Type: normalizePDPType(m[3]),
		})
	}
	return entries, nil
}

func normalizePDPType(raw string) cellular.PDPType {
	switch strings.ToUpper(raw) {
	case "IP", "IPV4":
		return cellular.PDPIPv4
	case "IPV6":
		return cellular.PDPIPv6
	case "IPV4V6":
		return cellular.PDPIPv4IPv6
	default:
		return cellular.PDPType(strings.ToLower(raw))
	}
}
