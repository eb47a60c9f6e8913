package txn

import (
	"fmt"
	"regexp"
	"strings"
)

// ArgKind tags a positional argument of a move call.
type ArgKind string

const (
	ArgObject ArgKind = "object" // object reference by id
	ArgPure   ArgKind = "pure"   // BCS-encodable literal
	ArgVector ArgKind = "vector" // vector of object references
)

// Arg is one positional argument. Exactly one of ObjectID, Value or Elements
// is meaningful depending on Kind.
type Arg struct {
	Kind     ArgKind  `json:"kind"`
	ObjectID string   `json:"object_id,omitempty"`
	Type     string   `json:"type,omitempty"`  // pure only: address|string|u64
	Value    string   `json:"value,omitempty"` // pure only, decimal for u64
	Elements []string `json:"elements,omitempty"`
}

// MoveCall is a single entry point invocation.
type MoveCall struct {
	Target    string `json:"target"` // <package>::<module>::<function>
	Arguments []Arg  `json:"arguments"`
}

// Payload is the unsigned transaction handed to the signer. Calls run in order
// inside one programmable transaction.
type Payload struct {
	Op    Op         `json:"op"`
	Calls []MoveCall `json:"calls"`
}

func (p Payload) String() string {
	targets := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		targets[i] = c.Target
	}
	return fmt.Sprintf("%s[%s]", p.Op, strings.Join(targets, ","))
}

func objectArg(id string) Arg { return Arg{Kind: ArgObject, ObjectID: id} }

func vectorArg(ids []string) Arg {
	elems := make([]string, len(ids))
	copy(elems, ids)
	return Arg{Kind: ArgVector, Elements: elems}
}

func pureArg(typ, value string) Arg { return Arg{Kind: ArgPure, Type: typ, Value: value} }

var hexID = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}$`)

// ValidID reports whether s looks like an object id or account address.
func ValidID(s string) bool { return hexID.MatchString(strings.TrimSpace(s)) }

func checkID(what, id string) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %s %q", ErrInvalidID, what, id)
	}
	return nil
}
