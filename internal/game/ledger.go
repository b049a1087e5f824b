package game

// Buy debits the stock's current price and records one unit. It reports false
// without touching the participant when cash does not cover the price.
func Buy(p *Participant, s *Stock) (Trade, bool) {
	if p == nil || s == nil {
		return Trade{}, false
	}
	if p.CurrentGameAssets < s.Price {
		return Trade{}, false
	}
	p.CurrentGameAssets -= s.Price
	p.Holdings = append(p.Holdings, s.Name)
	return Trade{Side: SideBuy, Stock: s.Name, Price: s.Price}, true
}

// Sell removes the first held unit of the stock and credits its current price.
func Sell(p *Participant, s *Stock) (Trade, bool) {
	if p == nil || s == nil {
		return Trade{}, false
	}
	idx := -1
	for i, h := range p.Holdings {
		if h == s.Name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Trade{}, false
	}
	p.Holdings = append(p.Holdings[:idx], p.Holdings[idx+1:]...)
	p.CurrentGameAssets += s.Price
	return Trade{Side: SideSell, Stock: s.Name, Price: s.Price}, true
}
