package usage

import (
	"context"
	"strconv"
	"strings"
	"testing"
)

type fakeRunner struct {
	dumpdb  string
	calls   []string
}

func (f *fakeRunner) Run(ctx context.Context, bin string, args ...string) (string, error) {
	f.calls = append(f.calls, bin+" "+strings.Join(args, " "))
	if bin == "vnstat" && len(args) > 0 && args[len(args)-1] == "--dumpdb" {
		return f.dumpdb, nil
	}
	return "", nil
}

func dumpdb(tx, txk, rx, rxk int64) string {
	return "totalrx;" + strconv.FormatInt(rx, 10) + "\n" +
		"totalrxk;" + strconv.FormatInt(rxk, 10) + "\n" +
		"totaltx;" + strconv.FormatInt(tx, 10) + "\n" +
		"totaltxk;" + strconv.FormatInt(txk, 10) + "\n"
}

func TestUsageParsesCounters(t *testing.T) {
	runner := &fakeRunner{dumpdb: dumpdb(1, 500, 2, 250)}
	c := NewWithRunner(runner, "wwan0")

	got, err := c.Usage(context.Background())
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if got.TxKB != 1*1024+500 || got.RxKB != 2*1024+250 {
		t.Errorf("Usage() = %+v, want txKB=1524 rxKB=2298", got)
	}
}

func TestUsageOverflowTriggersDeleteAndPlaceholder(t *testing.T) {
	runner := &fakeRunner{dumpdb: dumpdb(maxCounter, 0, 1, 0)}
	c := NewWithRunner(runner, "wwan0")

	got, err := c.Usage(context.Background())
	if err == nil {
		t.Fatal("expected OverflowError")
	}
	if got.TxKB != -1 || got.RxKB != -1 {
		t.Errorf("Usage() on overflow = %+v, want placeholders", got)
	}

	var sawStop, sawDelete, sawStart bool
	for _, c := range runner.calls {
		switch {
		case strings.Contains(c, "service vnstat stop"):
			sawStop = true
		case strings.Contains(c, "--delete"):
			sawDelete = true
		case strings.Contains(c, "service vnstat start"):
			sawStart = true
		}
	}
	if !sawStop || !sawDelete || !sawStart {
		t.Errorf("calls = %v, want stop, delete, start", runner.calls)
	}
}

func TestUpdateInvokesVnstatDashU(t *testing.T) {
	runner := &fakeRunner{}
	c := NewWithRunner(runner, "wwan0")

	if err := c.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(runner.calls) != 1 || runner.calls[0] != "vnstat -i wwan0 -u" {
		t.Errorf("calls = %v, want one vnstat -i wwan0 -u", runner.calls)
	}
}

func TestUsageParseErrorReturnsPlaceholder(t *testing.T) {
	runner := &fakeRunner{dumpdb: "garbage"}
	c := NewWithRunner(runner, "wwan0")

	got, err := c.Usage(context.Background())
	if err == nil {
		t.Fatal("expected ParseError")
	}
	if got.TxKB != -1 || got.RxKB != -1 {
		t.Errorf("Usage() on parse error = %+v, want placeholders", got)
	}
}
