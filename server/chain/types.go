package chain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// OwnerKind classifies who may use an object.
type OwnerKind string

const (
	OwnerAddress   OwnerKind = "address"
	OwnerObject    OwnerKind = "object"
	OwnerShared    OwnerKind = "shared"
	OwnerImmutable OwnerKind = "immutable"
	OwnerUnknown   OwnerKind = ""
)

// Owner is the node's owner encoding, which is either the string "Immutable"
// or a single-key object such as {"AddressOwner":"0x.."} or
// {"Shared":{"initial_shared_version":3}}.
type Owner struct {
	Kind                 OwnerKind
	Address              string
	InitialSharedVersion uint64
}

func (o Owner) IsShared() bool { return o.Kind == OwnerShared }

func (o *Owner) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*o = Owner{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "Immutable" {
			*o = Owner{Kind: OwnerImmutable}
		} else {
			// newer owner variants; callers only care about shared vs not
			*o = Owner{}
		}
		return nil
	}
	var raw struct {
		AddressOwner string `json:"AddressOwner"`
		ObjectOwner  string `json:"ObjectOwner"`
		Shared       *struct {
			InitialSharedVersion json.Number `json:"initial_shared_version"`
		} `json:"Shared"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch {
	case raw.Shared != nil:
		v, _ := strconv.ParseUint(raw.Shared.InitialSharedVersion.String(), 10, 64)
		*o = Owner{Kind: OwnerShared, InitialSharedVersion: v}
	case raw.AddressOwner != "":
		*o = Owner{Kind: OwnerAddress, Address: raw.AddressOwner}
	case raw.ObjectOwner != "":
		*o = Owner{Kind: OwnerObject, Address: raw.ObjectOwner}
	default:
		*o = Owner{}
	}
	return nil
}

func (o Owner) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case OwnerImmutable:
		return json.Marshal("Immutable")
	case OwnerShared:
		return json.Marshal(map[string]any{"Shared": map[string]any{"initial_shared_version": o.InitialSharedVersion}})
	case OwnerAddress:
		return json.Marshal(map[string]string{"AddressOwner": o.Address})
	case OwnerObject:
		return json.Marshal(map[string]string{"ObjectOwner": o.Address})
	}
	return []byte("null"), nil
}

// Object is one on-chain object as returned with showContent/showOwner.
type Object struct {
	ID      string         `json:"objectId"`
	Version string         `json:"version"`
	Digest  string         `json:"digest"`
	Type    string         `json:"type"`
	Owner   *Owner         `json:"owner,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

type objectData struct {
	ObjectID string `json:"objectId"`
	Version  string `json:"version"`
	Digest   string `json:"digest"`
	Type     string `json:"type"`
	Owner    *Owner `json:"owner"`
	Content  *struct {
		DataType string         `json:"dataType"`
		Type     string         `json:"type"`
		Fields   map[string]any `json:"fields"`
	} `json:"content"`
}

type objectError struct {
	Code     string `json:"code"`
	ObjectID string `json:"object_id"`
}

// objectResponse is the wrapper used by sui_getObject and each entry of
// suix_getOwnedObjects.
type objectResponse struct {
	Data  *objectData  `json:"data"`
	Error *objectError `json:"error"`
}

func (d *objectData) object() Object {
	o := Object{ID: d.ObjectID, Version: d.Version, Digest: d.Digest, Type: d.Type, Owner: d.Owner}
	if d.Content != nil {
		if o.Type == "" {
			o.Type = d.Content.Type
		}
		o.Fields = d.Content.Fields
	}
	return o
}

// StringField returns a string-valued field, or "" when missing.
func (o Object) StringField(name string) string {
	switch v := o.Fields[name].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// UintField parses numeric fields; u64 values arrive as decimal strings.
func (o Object) UintField(name string) (uint64, bool) {
	switch v := o.Fields[name].(type) {
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case json.Number:
		n, err := strconv.ParseUint(v.String(), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// TypeIs reports whether the object's struct type ends with suffix, e.g.
// "::game::Game". Generic parameters are ignored.
func (o Object) TypeIs(suffix string) bool { return typeHasSuffix(o.Type, suffix) }

func typeHasSuffix(typ, suffix string) bool {
	if i := strings.IndexByte(typ, '<'); i >= 0 {
		typ = typ[:i]
	}
	return suffix != "" && strings.HasSuffix(typ, suffix)
}

// ObjectRef identifies a specific object version.
type ObjectRef struct {
	ObjectID string          `json:"objectId"`
	Version  json.RawMessage `json:"version"`
	Digest   string          `json:"digest"`
}

// OwnedRef is an effects entry: a reference plus its owner after execution.
type OwnedRef struct {
	Owner     Owner     `json:"owner"`
	Reference ObjectRef `json:"reference"`
}

type ExecutionStatus struct {
	Status string `json:"status"` // success | failure
	Error  string `json:"error,omitempty"`
}

// Effects is the subset of transaction effects the client reads.
type Effects struct {
	Status  ExecutionStatus `json:"status"`
	Created []OwnedRef      `json:"created"`
	Mutated []OwnedRef      `json:"mutated"`
	Deleted []ObjectRef     `json:"deleted"`
}

// ObjectChange is one entry of objectChanges. Only created/mutated entries
// carry a type and owner.
type ObjectChange struct {
	Type       string `json:"type"` // created | mutated | deleted | wrapped | published | transferred
	Sender     string `json:"sender"`
	Owner      *Owner `json:"owner,omitempty"`
	ObjectType string `json:"objectType"`
	ObjectID   string `json:"objectId"`
	Version    string `json:"version"`
	Digest     string `json:"digest"`
}

// TransactionBlock is the result of sui_getTransactionBlock.
type TransactionBlock struct {
	Digest        string         `json:"digest"`
	Effects       *Effects       `json:"effects"`
	ObjectChanges []ObjectChange `json:"objectChanges"`
	TimestampMs   string         `json:"timestampMs,omitempty"`
}

// Succeeded is false only when effects are present and report failure.
func (tb *TransactionBlock) Succeeded() bool {
	return tb.Effects == nil || tb.Effects.Status.Status == "" || tb.Effects.Status.Status == "success"
}

// CreatedOfType returns created object changes whose type ends with suffix.
func (tb *TransactionBlock) CreatedOfType(suffix string) []ObjectChange {
	var out []ObjectChange
	for _, c := range tb.ObjectChanges {
		if c.Type == "created" && typeHasSuffix(c.ObjectType, suffix) {
			out = append(out, c)
		}
	}
	return out
}
