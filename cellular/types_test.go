package cellular

import "testing"

func TestNewRecordUsesPlaceholdersBeforeSampling(t *testing.T) {
	rec := NewRecord(1, "", StateInitializing, StaticInfo{}, CellularSnapshot{}, Down(), PlaceholderUsage(), Configuration{})

	if rec.Mode != "n/a" || rec.OperatorName != "n/a" || rec.LAC != "n/a" || rec.CellID != "n/a" {
		t.Errorf("unsampled record = %+v, want n/a placeholders", rec)
	}
	if rec.ICCID != "n/a" || rec.IMEI != "n/a" {
		t.Errorf("unsampled static fields = %+v, want n/a placeholders", rec)
	}
	if rec.Name != "n/a" {
		t.Errorf("rec.Name = %q, want n/a before detection", rec.Name)
	}
	if rec.IP != "n/a" || rec.Netmask != "n/a" || rec.Gateway != "n/a" {
		t.Errorf("unsampled network fields = %+v, want n/a placeholders", rec)
	}
	if rec.Usage.TxKB != -1 || rec.Usage.RxKB != -1 {
		t.Errorf("unsampled usage = %+v, want -1 placeholders", rec.Usage)
	}
	if rec.DNS == nil || len(rec.DNS) != 0 {
		t.Errorf("DNS = %v, want empty non-nil slice", rec.DNS)
	}
}

func TestNewRecordCarriesSampledValues(t *testing.T) {
	snap := CellularSnapshot{Mode: "lte", Operator: "Chunghwa Telecom", LAC: "2817", CellID: "01073AEE", SignalRssiDbm: -71}
	static := StaticInfo{ICCID: "1234567890123456", IMEI: "0123456789012345", PinRetryRemain: 3}
	net := NetworkInfo{Status: StatusUp, IP: "111.70.154.149", Netmask: "255.255.255.252", Gateway: "111.70.154.150", DNS: []string{"168.95.1.1"}}

	rec := NewRecord(1, "wwan0", StateConnected, static, snap, net, Usage{TxKB: 10, RxKB: 20}, Configuration{Enable: true})

	if rec.Mode != "lte" || rec.Signal != -71 {
		t.Errorf("rec = %+v, want mode=lte signal=-71", rec)
	}
	if rec.Name != "wwan0" {
		t.Errorf("rec.Name = %q, want wwan0", rec.Name)
	}
	if rec.Status != string(StateConnected) {
		t.Errorf("rec.Status = %q, want connected", rec.Status)
	}
	if rec.IP != "111.70.154.149" {
		t.Errorf("rec.IP = %q", rec.IP)
	}
	if rec.Netmask != "255.255.255.252" || rec.Gateway != "111.70.154.150" {
		t.Errorf("rec = %+v, want netmask/gateway populated", rec)
	}
}

func TestDownIsAlwaysEmptyDNSSlice(t *testing.T) {
	n := Down()
	if n.Status != StatusDown {
		t.Errorf("Down().Status = %q, want down", n.Status)
	}
	if n.DNS == nil {
		t.Error("Down().DNS = nil, want empty non-nil slice")
	}
}
