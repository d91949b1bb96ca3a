package domain

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type MenuItem struct {
	Name        string
	DisplayName string
	UnitPrice   int
}

// Catalog is the fixed menu. Item order is the order of declaration and is
// the tie-break when more than one key occurs in a message.
type Catalog struct {
	items []MenuItem
	index map[string]int
}

type MenuEntry struct {
	Name  string
	Price int
}

func DefaultMenu() []MenuEntry {
	return []MenuEntry{
		{Name: "parota", Price: 30},
		{Name: "parotta", Price: 30},
		{Name: "dosa", Price: 40},
		{Name: "idli", Price: 20},
		{Name: "biryani", Price: 120},
		{Name: "fried rice", Price: 90},
		{Name: "rice", Price: 90},
	}
}

func NewCatalog(entries []MenuEntry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("menu is empty")
	}

	c := &Catalog{
		items: make([]MenuItem, 0, len(entries)),
		index: make(map[string]int, len(entries)),
	}

	for _, e := range entries {
		key := strings.ToLower(strings.TrimSpace(e.Name))
		if key == "" {
			return nil, fmt.Errorf("menu item with empty name")
		}
		if e.Price <= 0 {
			return nil, fmt.Errorf("menu item %q: price must be positive, got %d", key, e.Price)
		}
		if _, dup := c.index[key]; dup {
			return nil, fmt.Errorf("menu item %q declared twice", key)
		}
		c.index[key] = len(c.items)
		c.items = append(c.items, MenuItem{
			Name:        key,
			DisplayName: CapitalizeWords(key),
			UnitPrice:   e.Price,
		})
	}

	return c, nil
}

// MustCatalog is NewCatalog for static menus known to be valid.
func MustCatalog(entries []MenuEntry) *Catalog {
	c, err := NewCatalog(entries)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the first item, in declaration order, whose key occurs in
// text (case-insensitive).
func (c *Catalog) Lookup(text string) (MenuItem, bool) {
	lower := strings.ToLower(text)
	if lower == "" {
		return MenuItem{}, false
	}
	for _, item := range c.items {
		if strings.Contains(lower, item.Name) {
			return item, true
		}
	}
	return MenuItem{}, false
}

func (c *Catalog) Get(key string) (MenuItem, bool) {
	i, ok := c.index[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return MenuItem{}, false
	}
	return c.items[i], true
}

func (c *Catalog) Items() []MenuItem {
	out := make([]MenuItem, len(c.items))
	copy(out, c.items)
	return out
}

func CapitalizeWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
