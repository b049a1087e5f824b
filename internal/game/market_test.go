package game

import (
	"testing"

	"pgregory.net/rapid"
)

func TestWalkAppliesDeltaAndFloor(t *testing.T) {
	m := NewMarket([]StockSpec{{Name: "A", Price: 100}, {Name: "B", Price: 4}}, 10, 0)
	m.Walk(&scriptSource{ints: []int64{-10, -10}})

	if got := m.Stock("A").Price; got != 90 {
		t.Fatalf("A price=%d want 90", got)
	}
	if got := m.Stock("B").Price; got != 0 {
		t.Fatalf("B price=%d want floor 0", got)
	}
	if m.Change("A") != -10 || m.Change("B") != -4 {
		t.Fatalf("changes A=%d B=%d", m.Change("A"), m.Change("B"))
	}
}

func TestFreezeLastsOneRound(t *testing.T) {
	m := NewMarket([]StockSpec{{Name: "A", Price: 100}, {Name: "B", Price: 150}}, 10, 0)
	if !m.Target(FunctionCard{Name: "freeze", Effect: EffectFreeze}, "A") {
		t.Fatalf("target failed")
	}

	// Only B walks while A is frozen.
	m.Boundary(&scriptSource{ints: []int64{7}})
	if a := m.Stock("A"); a.Price != 100 || !a.IsFrozen {
		t.Fatalf("A after first boundary %+v", a)
	}
	if b := m.Stock("B"); b.Price != 157 {
		t.Fatalf("B after first boundary %+v", b)
	}

	m.Boundary(&scriptSource{ints: []int64{3, 4}})
	if a := m.Stock("A"); a.Price != 103 || a.IsFrozen {
		t.Fatalf("A after second boundary %+v", a)
	}
	if b := m.Stock("B"); b.Price != 161 {
		t.Fatalf("B after second boundary %+v", b)
	}
}

func TestBoundaryResolvesBeforeWalk(t *testing.T) {
	m := NewMarket([]StockSpec{{Name: "A", Price: 100}}, 10, 0)
	m.Target(FunctionCard{Name: "rise", Effect: EffectRisePrice, Range: []int64{1, 10}}, "A")

	// First int is the card magnitude, second the walk delta.
	m.Boundary(&scriptSource{ints: []int64{5, -2}})
	if got := m.Stock("A").Price; got != 103 {
		t.Fatalf("price=%d want 103", got)
	}
	if m.Stock("A").PendingEffect != nil {
		t.Fatalf("pending effect survived the boundary")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	m := NewMarket([]StockSpec{{Name: "A", Price: 100}}, 10, 0)
	m.Target(FunctionCard{Name: "freeze", Effect: EffectFreeze}, "A")

	snap := m.Snapshot()
	snap[0].Price = 1
	snap[0].PendingEffect.Name = "changed"

	if s := m.Stock("A"); s.Price != 100 || s.PendingEffect.Name != "freeze" {
		t.Fatalf("snapshot aliased live state: %+v", s)
	}
}

func TestAdoptKeepsLocalPendingEffects(t *testing.T) {
	m := NewMarket([]StockSpec{{Name: "A", Price: 100}, {Name: "B", Price: 150}}, 10, 0)
	m.Target(FunctionCard{Name: "freeze", Effect: EffectFreeze}, "A")

	m.Adopt([]Stock{
		{Name: "A", Price: 95},
		{Name: "B", Price: 150, IsFrozen: true},
		{Name: "ghost", Price: 1},
	})

	a, b := m.Stock("A"), m.Stock("B")
	if a.Price != 95 || a.PendingEffect == nil {
		t.Fatalf("A after adopt %+v", a)
	}
	if !b.IsFrozen || b.Price != 150 {
		t.Fatalf("B after adopt %+v", b)
	}
	if m.Stock("ghost") != nil {
		t.Fatalf("unknown relayed stock was added")
	}
	if m.Change("A") != -5 {
		t.Fatalf("A change=%d", m.Change("A"))
	}
}

func TestPriceNeverBelowFloorProperty(t *testing.T) {
	effects := []EffectKind{EffectRisePercent, EffectFallPercent, EffectRisePrice, EffectFallPrice, EffectFreeze}

	rapid.Check(t, func(t *rapid.T) {
		floor := rapid.Int64Range(0, 50).Draw(t, "floor")
		fluct := rapid.Int64Range(0, 100).Draw(t, "fluctuation")
		price := rapid.Int64Range(floor, 500).Draw(t, "price")
		seed := rapid.Int64().Draw(t, "seed")
		rounds := rapid.IntRange(1, 30).Draw(t, "rounds")

		m := NewMarket([]StockSpec{{Name: "A", Price: price}}, fluct, floor)
		src := NewRand(seed)
		for i := 0; i < rounds; i++ {
			if rapid.Bool().Draw(t, "bind") {
				kind := rapid.SampledFrom(effects).Draw(t, "effect")
				card := FunctionCard{Name: string(kind), Effect: kind}
				if kind.NeedsRange() {
					card.Range = []int64{1, 100}
				}
				m.Target(card, "A")
			}
			m.Boundary(src)
			if got := m.Stock("A").Price; got < floor {
				t.Fatalf("round %d: price %d below floor %d", i, got, floor)
			}
		}
	})
}
