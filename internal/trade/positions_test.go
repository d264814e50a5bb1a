package trade

import (
	"testing"

	"mt5-backtest/pkg/types"
)

func testPosition(ticket int64, symbol string) types.TradePosition {
	return types.TradePosition{
		Ticket: ticket,
		Symbol: symbol,
		Type:   types.OrderTypeBuy,
		Volume: 0.1,
	}
}

func TestOpenSetMatchesMarginMap(t *testing.T) {
	t.Parallel()
	p := NewPositions()
	p.Open(testPosition(1, "EURUSD"), 110.0)
	p.Open(testPosition(2, "GBPUSD"), 130.0)

	if p.Total() != 2 {
		t.Fatalf("Total = %d, want 2", p.Total())
	}
	for _, ticket := range p.OpenTickets() {
		if _, ok := p.MarginOf(ticket); !ok {
			t.Errorf("open ticket %d has no margin entry", ticket)
		}
		if !p.Contains(ticket) {
			t.Errorf("open ticket %d missing from manager", ticket)
		}
	}
	if got := p.Margin(); got != 240.0 {
		t.Errorf("Margin = %v, want 240", got)
	}
}

func TestCloseKeepsRecord(t *testing.T) {
	t.Parallel()
	p := NewPositions()
	p.Open(testPosition(1, "EURUSD"), 110.0)

	if !p.Close(1) {
		t.Fatal("Close should succeed for an open ticket")
	}
	if p.IsOpen(1) {
		t.Error("ticket 1 still open after Close")
	}
	if _, ok := p.MarginOf(1); ok {
		t.Error("margin entry survived Close")
	}
	if !p.Contains(1) {
		t.Error("position record should survive Close")
	}
	if p.Close(1) {
		t.Error("second Close should return false")
	}
	if got := p.Margin(); got != 0 {
		t.Errorf("Margin after close = %v, want 0", got)
	}
}

func TestOpenTicketsInsertionOrder(t *testing.T) {
	t.Parallel()
	p := NewPositions()
	for _, ticket := range []int64{5, 3, 9} {
		p.Open(testPosition(ticket, "EURUSD"), 1.0)
	}
	got := p.OpenTickets()
	want := []int64{5, 3, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("OpenTickets = %v, want %v", got, want)
		}
	}
}

func TestFilter(t *testing.T) {
	t.Parallel()
	p := NewPositions()
	p.Open(testPosition(1, "EURUSD"), 1)
	p.Open(testPosition(2, "GBPUSD"), 1)
	p.Open(testPosition(3, "EURJPY"), 1)
	p.Close(3)

	if got := p.Filter(2, "EURUSD", ""); len(got) != 1 || got[0].Ticket != 2 {
		t.Errorf("ticket filter should win: got %v", got)
	}
	if got := p.Filter(0, "GBPUSD", ""); len(got) != 1 || got[0].Symbol != "GBPUSD" {
		t.Errorf("symbol filter: got %v", got)
	}
	if got := p.Filter(0, "", "EUR*"); len(got) != 1 {
		t.Errorf("group filter should skip closed EURJPY: got %v", got)
	}
	if got := p.Filter(3, "", ""); got != nil {
		t.Errorf("closed ticket should not match: got %v", got)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	t.Parallel()
	p := NewPositions()
	p.Open(testPosition(1, "EURUSD"), 110)
	p.Open(testPosition(2, "GBPUSD"), 130)
	p.Close(1)

	restored := NewPositions()
	restored.Restore(p.ToMap(), p.OpenTickets(), p.Margins())

	if restored.Total() != 1 || !restored.IsOpen(2) {
		t.Errorf("restored open set wrong: total=%d", restored.Total())
	}
	if restored.IsOpen(1) {
		t.Error("closed ticket reopened by Restore")
	}
	if !restored.Contains(1) {
		t.Error("closed record lost by Restore")
	}
	if got := restored.Margin(); got != 130 {
		t.Errorf("restored Margin = %v, want 130", got)
	}
}

func TestRestoreRecordOrderDeterministic(t *testing.T) {
	t.Parallel()
	records := map[int64]types.TradePosition{
		3: testPosition(3, "EURUSD"),
		1: testPosition(1, "EURUSD"),
		2: testPosition(2, "GBPUSD"),
	}

	p := NewPositions()
	p.Restore(records, []int64{2}, map[int64]float64{2: 130})

	// Tickets are minted ascending, so sorted insertion reproduces the
	// original record order regardless of map iteration.
	keys := p.Keys()
	if len(keys) != 3 {
		t.Fatalf("restored %d records, want 3", len(keys))
	}
	for i, want := range []int64{1, 2, 3} {
		if keys[i] != want {
			t.Fatalf("record order = %v, want ascending tickets", keys)
		}
	}
	if got := p.OpenTickets(); len(got) != 1 || got[0] != 2 {
		t.Errorf("open set = %v, want [2]", got)
	}
}
