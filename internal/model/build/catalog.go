package build

// Catalog exposes product model retrieval for HTTP handlers and sessions.
type Catalog interface {
	List() []Model
	FindByID(id string) (Model, bool)
	FindByName(name string) (Model, bool)
	Default() Model
}

// MemoryCatalog implements Catalog with an in-memory slice.
type MemoryCatalog struct {
	items []Model
}

// NewMemoryCatalog returns a MemoryCatalog preloaded with the supplied models.
func NewMemoryCatalog(items []Model) *MemoryCatalog {
	return &MemoryCatalog{items: append([]Model(nil), items...)}
}

// List returns the predefined model list.
func (c *MemoryCatalog) List() []Model {
	return append([]Model(nil), c.items...)
}

// FindByID looks up a model by identifier.
func (c *MemoryCatalog) FindByID(id string) (Model, bool) {
	for _, item := range c.items {
		if item.ID == id {
			return item, true
		}
	}
	return Model{}, false
}

// FindByName looks up a model by its display name, which is what documents
// carry on the wire.
func (c *MemoryCatalog) FindByName(name string) (Model, bool) {
	for _, item := range c.items {
		if item.Name == name {
			return item, true
		}
	}
	return Model{}, false
}

// Default returns the first model of the catalog, or an empty model when the
// catalog is empty.
func (c *MemoryCatalog) Default() Model {
	if len(c.items) == 0 {
		return Model{}
	}
	return c.items[0]
}
