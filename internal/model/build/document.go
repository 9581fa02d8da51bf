package build

import (
	"encoding/json"
	"sort"
)

// Document is the shared configuration edited by every participant of a
// project.
type Document struct {
	ModelName  string            `json:"modelName"`
	Brand      string            `json:"brand"`
	BasePrice  float64           `json:"basePrice"`
	Selections map[string]string `json:"selections"`
}

// NewDocument returns a document for the model with an empty selection for
// every attribute.
func NewDocument(m Model) Document {
	selections := make(map[string]string, len(m.Attributes))
	for _, attr := range m.Attributes {
		selections[attr.Key] = ""
	}
	return Document{
		ModelName:  m.Name,
		Brand:      m.Brand,
		BasePrice:  m.BasePrice,
		Selections: selections,
	}
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := d
	out.Selections = make(map[string]string, len(d.Selections))
	for k, v := range d.Selections {
		out.Selections[k] = v
	}
	return out
}

// Normalize returns a copy whose selections hold exactly one value per
// attribute of m. Missing attributes are filled with "" and keys the model
// does not define are dropped.
func (d Document) Normalize(m Model) Document {
	out := d.Clone()
	selections := make(map[string]string, len(m.Attributes))
	for _, attr := range m.Attributes {
		selections[attr.Key] = out.Selections[attr.Key]
	}
	out.Selections = selections
	return out
}

// CanonicalSelections serializes selections as a JSON object with sorted
// keys. Keys and values are quoted, so distinct selections never share an
// encoding.
func (d Document) CanonicalSelections() string {
	b, err := json.Marshal(d.Selections)
	if err != nil {
		return ""
	}
	return string(b)
}

// Change is a single attribute whose selected value differs between two
// documents.
type Change struct {
	Attribute string
	From      string
	To        string
}

// Diff lists the attributes whose values differ from prev to next, sorted by
// attribute key.
func Diff(prev, next Document) []Change {
	seen := make(map[string]struct{}, len(next.Selections))
	var changes []Change
	for k, to := range next.Selections {
		seen[k] = struct{}{}
		if from := prev.Selections[k]; from != to {
			changes = append(changes, Change{Attribute: k, From: from, To: to})
		}
	}
	for k, from := range prev.Selections {
		if _, ok := seen[k]; ok {
			continue
		}
		changes = append(changes, Change{Attribute: k, From: from})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Attribute < changes[j].Attribute })
	return changes
}
