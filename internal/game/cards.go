package game

// DrawCard issues at most one card from the catalog.
func DrawCard(src Source, catalog []FunctionCard) (FunctionCard, bool) {
	return PickCard(src.Float64(), catalog)
}

// PickCard maps r to a catalog entry. The global gate on the probability sum is
// checked before the cumulative scan, so a catalog summing below 1 leaves a
// 1-sum chance of drawing nothing regardless of order.
func PickCard(r float64, catalog []FunctionCard) (FunctionCard, bool) {
	var total float64
	for _, c := range catalog {
		total += c.Probability
	}
	if r > total {
		return FunctionCard{}, false
	}
	var cum float64
	for _, c := range catalog {
		cum += c.Probability
		if r <= cum {
			return c, true
		}
	}
	return FunctionCard{}, false
}

// Target binds a card to the named stock. The caller removes the card from the
// hand only when this reports true.
func (m *Market) Target(card FunctionCard, stock string) bool {
	s := m.Stock(stock)
	if s == nil || s.PendingEffect != nil || !card.Effect.Valid() {
		return false
	}
	c := card
	s.PendingEffect = &c
	return true
}

// Cancel clears the pending effect of the stock and returns the bound card.
func (m *Market) Cancel(stock string) (FunctionCard, bool) {
	s := m.Stock(stock)
	if s == nil || s.PendingEffect == nil {
		return FunctionCard{}, false
	}
	card := *s.PendingEffect
	s.PendingEffect = nil
	return card, true
}

// Pending lists the bound cards by stock name.
func (m *Market) Pending() map[string]FunctionCard {
	out := make(map[string]FunctionCard)
	for _, s := range m.stocks {
		if s.PendingEffect != nil {
			out[s.Name] = *s.PendingEffect
		}
	}
	return out
}

// ClearEffects drops every bound card without resolving it.
func (m *Market) ClearEffects() {
	for _, s := range m.stocks {
		s.PendingEffect = nil
	}
}

// ResolveEffects applies and clears every pending effect. Stocks are independent.
func (m *Market) ResolveEffects(src Source) {
	for _, s := range m.stocks {
		if s.PendingEffect == nil {
			continue
		}
		card := *s.PendingEffect
		s.PendingEffect = nil
		before := s.Price

		if card.Effect == EffectFreeze {
			s.IsFrozen = true
			m.changes[s.Name] = 0
			continue
		}
		lo, hi, err := card.Bounds()
		if err != nil {
			continue
		}
		mag := src.IntBetween(lo, hi)
		s.Price = m.clamp(applyEffect(card.Effect, s.Price, mag))
		m.changes[s.Name] = s.Price - before
	}
}

func applyEffect(kind EffectKind, price, mag int64) int64 {
	switch kind {
	case EffectRisePercent:
		return roundPrice(float64(price) * (1 + float64(mag)/100))
	case EffectFallPercent:
		return roundPrice(float64(price) * (1 - float64(mag)/100))
	case EffectRisePrice:
		return price + mag
	case EffectFallPrice:
		return price - mag
	}
	return price
}
