package types

import "testing"

func TestTimeframeSeconds(t *testing.T) {
	t.Parallel()
	cases := map[Timeframe]int64{
		M1: 60, M5: 300, M15: 900, M30: 1800,
		H1: 3600, H4: 14400, D1: 86400, W1: 604800, MN1: 2592000,
	}
	for tf, want := range cases {
		if got := tf.Seconds(); got != want {
			t.Errorf("%s.Seconds() = %d, want %d", tf, got, want)
		}
	}
}

func TestParseTimeframeRejectsUnknown(t *testing.T) {
	t.Parallel()
	if _, ok := ParseTimeframe("M7"); ok {
		t.Error("M7 should not parse")
	}
	if _, ok := ParseTimeframe(""); ok {
		t.Error("empty timeframe should not parse")
	}
	if tf, ok := ParseTimeframe("H4"); !ok || tf != H4 {
		t.Errorf("ParseTimeframe(H4) = %v, %v", tf, ok)
	}
}

func TestOrderTypeOpposite(t *testing.T) {
	t.Parallel()
	if OrderTypeBuy.Opposite() != OrderTypeSell {
		t.Error("BUY opposite should be SELL")
	}
	if OrderTypeSell.Opposite() != OrderTypeBuy {
		t.Error("SELL opposite should be BUY")
	}
}

func TestRetcodeString(t *testing.T) {
	t.Parallel()
	if got := RetcodeDone.String(); got != "DONE" {
		t.Errorf("RetcodeDone = %q", got)
	}
	if got := RetcodeNoMoney.String(); got != "NO_MONEY" {
		t.Errorf("RetcodeNoMoney = %q", got)
	}
	if got := Retcode(1).String(); got != "UNKNOWN" {
		t.Errorf("unknown retcode = %q", got)
	}
}

func TestTickSpread(t *testing.T) {
	t.Parallel()
	tick := Tick{Bid: 1.1000, Ask: 1.1002}
	if got := tick.Spread(); got < 0.00019 || got > 0.00021 {
		t.Errorf("Spread() = %v, want ~0.0002", got)
	}
}
