package build

// Attribute is one configurable slot of a product model.
type Attribute struct {
	Key     string   `json:"key"`
	Label   string   `json:"label"`
	Options []Option `json:"options"`
}

// Option is a selectable value for an attribute. Surcharge is added to the
// model's base price when the option is selected.
type Option struct {
	Value     string  `json:"value"`
	Label     string  `json:"label"`
	Surcharge float64 `json:"surcharge,omitempty"`
}

// Model describes a parameterized product build exposed to the frontend.
type Model struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Brand      string      `json:"brand"`
	BasePrice  float64     `json:"basePrice"`
	Attributes []Attribute `json:"attributes"`
}

// Attribute looks up an attribute definition by key.
func (m Model) Attribute(key string) (Attribute, bool) {
	for _, attr := range m.Attributes {
		if attr.Key == key {
			return attr, true
		}
	}
	return Attribute{}, false
}

// Option looks up an option of the attribute by value.
func (a Attribute) Option(value string) (Option, bool) {
	for _, opt := range a.Options {
		if opt.Value == value {
			return opt, true
		}
	}
	return Option{}, false
}

// Seed provides the default product models offered by the configurator.
func Seed() []Model {
	return []Model{
		{
			ID:        "roadster-gt",
			Name:      "Roadster GT",
			Brand:     "Aster Motors",
			BasePrice: 48900,
			Attributes: []Attribute{
				{Key: "color", Label: "Paint", Options: []Option{
					{Value: "white", Label: "Glacier White"},
					{Value: "red", Label: "Ember Red", Surcharge: 950},
					{Value: "blue", Label: "Deep Blue", Surcharge: 950},
					{Value: "black", Label: "Onyx Black", Surcharge: 1200},
				}},
				{Key: "wheels", Label: "Wheels", Options: []Option{
					{Value: "18-alloy", Label: "18\" Alloy"},
					{Value: "19-sport", Label: "19\" Sport", Surcharge: 1800},
					{Value: "20-forged", Label: "20\" Forged", Surcharge: 3400},
				}},
				{Key: "interior", Label: "Interior", Options: []Option{
					{Value: "cloth", Label: "Cloth"},
					{Value: "leather", Label: "Leather", Surcharge: 2500},
				}},
				{Key: "drivetrain", Label: "Drivetrain", Options: []Option{
					{Value: "rwd", Label: "Rear-wheel drive"},
					{Value: "awd", Label: "All-wheel drive", Surcharge: 3100},
				}},
			},
		},
		{
			ID:        "trail-x",
			Name:      "Trail X",
			Brand:     "Northfield",
			BasePrice: 39500,
			Attributes: []Attribute{
				{Key: "color", Label: "Paint", Options: []Option{
					{Value: "sand", Label: "Dune Sand"},
					{Value: "green", Label: "Forest Green", Surcharge: 700},
					{Value: "grey", Label: "Slate Grey", Surcharge: 700},
				}},
				{Key: "roof", Label: "Roof", Options: []Option{
					{Value: "standard", Label: "Standard"},
					{Value: "rack", Label: "Roof Rack", Surcharge: 450},
					{Value: "tent", Label: "Roof Tent", Surcharge: 2900},
				}},
				{Key: "tires", Label: "Tires", Options: []Option{
					{Value: "all-season", Label: "All-season"},
					{Value: "all-terrain", Label: "All-terrain", Surcharge: 1100},
				}},
			},
		},
		{
			ID:        "city-e",
			Name:      "City E",
			Brand:     "Aster Motors",
			BasePrice: 27900,
			Attributes: []Attribute{
				{Key: "color", Label: "Paint", Options: []Option{
					{Value: "white", Label: "Glacier White"},
					{Value: "yellow", Label: "Citrus Yellow", Surcharge: 400},
				}},
				{Key: "battery", Label: "Battery", Options: []Option{
					{Value: "standard", Label: "Standard range"},
					{Value: "long", Label: "Long range", Surcharge: 4200},
				}},
			},
		},
	}
}
