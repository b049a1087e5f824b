package game

import (
	"testing"

	"pgregory.net/rapid"
)

func TestBuyInsufficientFundsIsNoop(t *testing.T) {
	p := &Participant{CurrentGameAssets: 99}
	s := &Stock{Name: "A", Price: 100}
	if _, ok := Buy(p, s); ok {
		t.Fatalf("expected buy to be rejected")
	}
	if p.CurrentGameAssets != 99 || len(p.Holdings) != 0 {
		t.Fatalf("rejected buy changed state: %+v", p)
	}
}

func TestBuyExactCash(t *testing.T) {
	p := &Participant{CurrentGameAssets: 100}
	tr, ok := Buy(p, &Stock{Name: "A", Price: 100})
	if !ok {
		t.Fatalf("expected buy to succeed")
	}
	if tr.Side != SideBuy || tr.Stock != "A" || tr.Price != 100 {
		t.Fatalf("unexpected trade %+v", tr)
	}
	if p.CurrentGameAssets != 0 || p.HoldingCount("A") != 1 {
		t.Fatalf("unexpected participant %+v", p)
	}
}

func TestSellRemovesFirstMatch(t *testing.T) {
	p := &Participant{Holdings: []string{"A", "B", "A"}}
	tr, ok := Sell(p, &Stock{Name: "A", Price: 120})
	if !ok {
		t.Fatalf("expected sell to succeed")
	}
	if tr.Price != 120 || p.CurrentGameAssets != 120 {
		t.Fatalf("sell credited %d, cash %d", tr.Price, p.CurrentGameAssets)
	}
	if got := p.Holdings; len(got) != 2 || got[0] != "B" || got[1] != "A" {
		t.Fatalf("unexpected holdings %v", got)
	}
}

func TestSellWithoutHoldingIsNoop(t *testing.T) {
	p := &Participant{CurrentGameAssets: 50, Holdings: []string{"B"}}
	if _, ok := Sell(p, &Stock{Name: "A", Price: 10}); ok {
		t.Fatalf("expected sell to be rejected")
	}
	if p.CurrentGameAssets != 50 || len(p.Holdings) != 1 {
		t.Fatalf("rejected sell changed state: %+v", p)
	}
}

func TestPortfolioValueUsesCurrentPrices(t *testing.T) {
	m := NewMarket([]StockSpec{{Name: "A", Price: 100}, {Name: "B", Price: 150}}, 10, 0)
	p := &Participant{CurrentGameAssets: 10, Holdings: []string{"A", "A", "B", "gone"}}
	m.Stock("A").Price = 90
	if got := p.PortfolioValue(m); got != 10+90+90+150 {
		t.Fatalf("got %d", got)
	}
}

func TestBuySellRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cash := rapid.Int64Range(0, 1_000_000).Draw(t, "cash")
		price := rapid.Int64Range(0, 10_000).Draw(t, "price")

		p := &Participant{CurrentGameAssets: cash}
		s := &Stock{Name: "A", Price: price}

		_, bought := Buy(p, s)
		if p.CurrentGameAssets < 0 {
			t.Fatalf("cash went negative: %d", p.CurrentGameAssets)
		}
		if bought != (cash >= price) {
			t.Fatalf("buy ok=%v with cash=%d price=%d", bought, cash, price)
		}
		if !bought {
			return
		}
		if _, ok := Sell(p, s); !ok {
			t.Fatalf("sell after buy rejected")
		}
		if p.CurrentGameAssets != cash {
			t.Fatalf("round trip cash=%d want %d", p.CurrentGameAssets, cash)
		}
		if p.HoldingCount("A") != 0 {
			t.Fatalf("holding left behind: %v", p.Holdings)
		}
	})
}
