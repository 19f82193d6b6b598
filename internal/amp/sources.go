package amp

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSource is returned when a source name is not in the catalog.
	ErrInvalidSource = errors.New("amp: invalid source")
	// ErrUnknownSourceCode is reported when feedback carries a code that maps
	// to no catalog entry.
	ErrUnknownSourceCode = errors.New("amp: unknown source code")
)

// Source is one selectable input.
type Source struct {
	Name string `json:"name"`
	Code byte   `json:"code"`
}

// DefaultSources are the inputs of a Dynaudio Connect hub.
var DefaultSources = []Source{
	{Name: "Minijack", Code: 1},
	{Name: "Line", Code: 2},
	{Name: "Optical", Code: 3},
	{Name: "Coax", Code: 4},
	{Name: "USB", Code: 5},
	{Name: "Bluetooth", Code: 6},
	{Name: "Stream", Code: 7},
}

// Catalog is an immutable two-way mapping between source names and codes.
type Catalog struct {
	entries []Source
	byName  map[string]byte
	byCode  map[byte]string
}

// NewCatalog validates entries and builds a catalog. Names and codes must be
// unique and names non-empty.
func NewCatalog(entries []Source) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, errors.New("amp: empty source catalog")
	}
	c := &Catalog{
		entries: make([]Source, len(entries)),
		byName:  make(map[string]byte, len(entries)),
		byCode:  make(map[byte]string, len(entries)),
	}
	copy(c.entries, entries)
	for _, s := range entries {
		if s.Name == "" {
			return nil, fmt.Errorf("amp: source with code %d has no name", s.Code)
		}
		if _, dup := c.byName[s.Name]; dup {
			return nil, fmt.Errorf("amp: duplicate source name %q", s.Name)
		}
		if other, dup := c.byCode[s.Code]; dup {
			return nil, fmt.Errorf("amp: sources %q and %q share code %d", other, s.Name, s.Code)
		}
		c.byName[s.Name] = s.Code
		c.byCode[s.Code] = s.Name
	}
	return c, nil
}

var defaultCatalog = mustCatalog(DefaultSources)

func mustCatalog(entries []Source) *Catalog {
	c, err := NewCatalog(entries)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultCatalog returns the catalog built from DefaultSources.
func DefaultCatalog() *Catalog { return defaultCatalog }

// Code returns the wire code for name.
func (c *Catalog) Code(name string) (byte, bool) {
	code, ok := c.byName[name]
	return code, ok
}

// Name returns the source name for a wire code.
func (c *Catalog) Name(code byte) (string, bool) {
	name, ok := c.byCode[code]
	return name, ok
}

// Names lists source names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.entries))
	for i, s := range c.entries {
		names[i] = s.Name
	}
	return names
}

// Entries returns a copy of the catalog entries.
func (c *Catalog) Entries() []Source {
	out := make([]Source, len(c.entries))
	copy(out, c.entries)
	return out
}
