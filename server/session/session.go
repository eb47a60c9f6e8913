package session

import (
	"card-arena/server/chain"
)

type Kind string

const (
	KindLobby Kind = "lobby"
	KindGame  Kind = "game"
)

// Session is the client-side view of a lobby or game object. Its state
// belongs to the contract; the service only ever replaces it wholesale.
type Session struct {
	ID      string         `json:"id"`
	Kind    Kind           `json:"kind"`
	Shared  bool           `json:"shared"`
	Type    string         `json:"type"`
	Version string         `json:"version"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func FromObject(o chain.Object, kind Kind) Session {
	return Session{
		ID:      o.ID,
		Kind:    kind,
		Shared:  o.Owner != nil && o.Owner.IsShared(),
		Type:    o.Type,
		Version: o.Version,
		Fields:  o.Fields,
	}
}

func fromObjects(objs []chain.Object, kind Kind) []Session {
	out := make([]Session, 0, len(objs))
	for _, o := range objs {
		if o.ID == "" {
			continue
		}
		out = append(out, FromObject(o, kind))
	}
	return out
}

// Reconcile picks the active session: the directly fetched shared object
// when there is one, otherwise the first owned session, otherwise none.
func Reconcile(shared *Session, owned []Session) (Session, bool) {
	if shared != nil {
		return *shared, true
	}
	if len(owned) > 0 {
		return owned[0], true
	}
	return Session{}, false
}
