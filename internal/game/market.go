package game

// Market holds one participant's copy of the stock list.
type Market struct {
	stocks      []*Stock
	index       map[string]*Stock
	changes     map[string]int64
	fluctuation int64
	floor       int64
}

func NewMarket(catalog []StockSpec, fluctuation, floor int64) *Market {
	m := &Market{
		stocks:      make([]*Stock, 0, len(catalog)),
		index:       make(map[string]*Stock, len(catalog)),
		changes:     make(map[string]int64, len(catalog)),
		fluctuation: fluctuation,
		floor:       floor,
	}
	for _, spec := range catalog {
		s := &Stock{Name: spec.Name, Price: spec.Price}
		m.stocks = append(m.stocks, s)
		m.index[s.Name] = s
		m.changes[s.Name] = 0
	}
	return m
}

// Stock returns the live stock or nil.
func (m *Market) Stock(name string) *Stock {
	return m.index[name]
}

// Change is the signed price delta recorded at the last boundary.
func (m *Market) Change(name string) int64 {
	return m.changes[name]
}

func (m *Market) Names() []string {
	out := make([]string, 0, len(m.stocks))
	for _, s := range m.stocks {
		out = append(out, s.Name)
	}
	return out
}

// Snapshot copies the stock list in catalog order.
func (m *Market) Snapshot() []Stock {
	out := make([]Stock, 0, len(m.stocks))
	for _, s := range m.stocks {
		cp := *s
		if s.PendingEffect != nil {
			card := *s.PendingEffect
			cp.PendingEffect = &card
		}
		out = append(out, cp)
	}
	return out
}

// Adopt replaces prices and freeze flags with a relayed stock list. Pending
// effects stay local: they are cards this participant bound and has not yet
// resolved. Unknown names in the relayed list are ignored.
func (m *Market) Adopt(stocks []Stock) {
	for _, in := range stocks {
		s := m.index[in.Name]
		if s == nil {
			continue
		}
		if in.Price != s.Price {
			m.changes[s.Name] = in.Price - s.Price
		} else if in.IsFrozen {
			m.changes[s.Name] = 0
		}
		s.Price = m.clamp(in.Price)
		s.IsFrozen = in.IsFrozen
	}
}

// ExpireFreezes lifts freezes applied at the previous boundary.
func (m *Market) ExpireFreezes() {
	for _, s := range m.stocks {
		s.IsFrozen = false
	}
}

// Walk adds a uniform integer in [-F, F] to every unfrozen stock.
func (m *Market) Walk(src Source) {
	for _, s := range m.stocks {
		if s.IsFrozen {
			continue
		}
		before := s.Price
		s.Price = m.clamp(s.Price + src.IntBetween(-m.fluctuation, m.fluctuation))
		m.changes[s.Name] = s.Price - before
	}
}

// Boundary runs one round boundary: freeze expiry, card resolution, walk.
func (m *Market) Boundary(src Source) {
	m.ExpireFreezes()
	m.ResolveEffects(src)
	m.Walk(src)
}

func (m *Market) clamp(price int64) int64 {
	if price < m.floor {
		return m.floor
	}
	return price
}
