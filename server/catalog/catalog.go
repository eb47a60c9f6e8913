// Package catalog holds display metadata for known cards. On-chain cards carry
// only a name, image and value; the catalog adds the label and rarity tier.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"card-arena/server/deck"

	"gopkg.in/yaml.v3"
)

//go:embed cards.yaml
var defaultCards []byte

type Entry struct {
	Name     string `yaml:"name" json:"name"`
	Label    string `yaml:"label" json:"label"`
	ImageURL string `yaml:"image_url" json:"image_url"`
	Points   int    `yaml:"points" json:"points"`
	Rarity   string `yaml:"rarity" json:"rarity"`
}

type Catalog struct {
	entries []Entry
	byName  map[string]int
}

// Load reads the catalog at path, or the built-in one when path is empty.
func Load(path string) (*Catalog, error) {
	raw := defaultCards
	name := "cards.yaml"
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		raw, name = b, path
	}
	var doc struct {
		Cards []Entry `yaml:"cards"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	c := &Catalog{entries: doc.Cards, byName: make(map[string]int, len(doc.Cards))}
	for i, e := range doc.Cards {
		k := key(e.Name)
		if k == "" {
			return nil, fmt.Errorf("%s: card %d has no name", name, i)
		}
		if _, dup := c.byName[k]; dup {
			return nil, fmt.Errorf("%s: duplicate card %q", name, e.Name)
		}
		c.byName[k] = i
	}
	return c, nil
}

func key(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), ""))
}

func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Catalog) Lookup(name string) (Entry, bool) {
	i, ok := c.byName[key(name)]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Enrich fills label, rarity and missing art from the catalog. On-chain
// values win when present.
func (c *Catalog) Enrich(cards []deck.Asset) []deck.Asset {
	out := make([]deck.Asset, len(cards))
	for i, a := range cards {
		if e, ok := c.Lookup(a.Name); ok {
			if e.Label != "" {
				a.Label = e.Label
			}
			a.Rarity = e.Rarity
			if a.ImageURL == "" {
				a.ImageURL = e.ImageURL
			}
			if a.Points == 0 {
				a.Points = e.Points
			}
		}
		out[i] = a
	}
	return out
}
