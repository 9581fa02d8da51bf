package build

// Price returns the base price of the model plus the surcharge of every
// selected option. Unknown or empty selections add nothing.
func Price(m Model, d Document) float64 {
	total := m.BasePrice
	for _, attr := range m.Attributes {
		if opt, ok := attr.Option(d.Selections[attr.Key]); ok {
			total += opt.Surcharge
		}
	}
	return total
}
