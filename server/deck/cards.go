package deck

import (
	"strings"

	"card-arena/server/chain"
)

// GameCardTag is the classification the contract gives cards usable in games.
const GameCardTag = "Game Card"

// Asset is a read-only snapshot of one owned card.
type Asset struct {
	ID          string `json:"id"`
	Game        string `json:"game"`
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
	Points      int    `json:"points"`
	Rarity      string `json:"rarity,omitempty"`
}

func (a Asset) Playable() bool { return a.Game == GameCardTag }

// FromObjects decodes owned card objects, keeping the node's order. Objects
// returned without content are skipped.
func FromObjects(objs []chain.Object) []Asset {
	out := make([]Asset, 0, len(objs))
	for _, o := range objs {
		if o.ID == "" || o.Fields == nil {
			continue
		}
		a := Asset{
			ID:          o.ID,
			Game:        o.StringField("game"),
			Name:        o.StringField("name"),
			Description: o.StringField("description"),
			ImageURL:    firstNonEmpty(o.StringField("image_url"), o.StringField("url")),
		}
		if v, ok := o.UintField("value"); ok {
			a.Points = int(v)
		}
		a.Label = a.Name
		out = append(out, a)
	}
	return out
}

// FilterGameCards returns the playable cards of snapshot in order. A nil
// snapshot (inventory not loaded yet) yields an empty slice.
func FilterGameCards(snapshot []Asset) []Asset {
	out := make([]Asset, 0, len(snapshot))
	for _, a := range snapshot {
		if a.Playable() {
			out = append(out, a)
		}
	}
	return out
}

// IDs returns the object ids of cards.
func IDs(cards []Asset) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.ID
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
