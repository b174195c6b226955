package stat

import "fmt"

// Map is a name-keyed collection of stats that preserves insertion
// order, so every traversal (CSV flattening in particular) sees the
// variables in the order they were configured.
type Map struct {
	byName map[string]*Stat
	order  []string
}

// NewMap returns an empty ordered stat collection.
func NewMap() *Map {
	return &Map{byName: make(map[string]*Stat)}
}

// Add registers a stat under its name. A duplicate logical name is a
// configuration error.
func (m *Map) Add(s *Stat) error {
	if _, ok := m.byName[s.Name]; ok {
		return fmt.Errorf("stat: duplicate variable name %q", s.Name)
	}
	m.byName[s.Name] = s
	m.order = append(m.order, s.Name)
	return nil
}

// Get returns the stat registered under name, if any.
func (m *Map) Get(name string) (*Stat, bool) {
	s, ok := m.byName[name]
	return s, ok
}

// Len returns the number of registered stats.
func (m *Map) Len() int { return len(m.order) }

// Names returns the registered names in insertion order.
func (m *Map) Names() []string {
	return append([]string(nil), m.order...)
}

// Each calls fn for every stat in insertion order, stopping at the
// first error.
func (m *Map) Each(fn func(*Stat) error) error {
	for _, name := range m.order {
		if err := fn(m.byName[name]); err != nil {
			return err
		}
	}
	return nil
}
