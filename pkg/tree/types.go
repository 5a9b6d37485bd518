// Package tree holds the materialized result of a live query and applies
// incremental update operations to it without mutating prior snapshots.
package tree

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// DefaultPrimaryKey is the field every path-addressable record exposes.
const DefaultPrimaryKey = "id"

// Record is one row of a result. Values are scalars, a nested Tree for a
// to-many selection or a nested Record for a to-one selection.
//
// Records reachable from a Tree snapshot are shared between snapshots and
// must be treated as read-only.
type Record map[string]any

// Tree is an ordered sequence of records.
type Tree []Record

// Step descends into the collection named by Selection and picks the child
// whose primary key equals ID. A nil ID names the collection itself.
type Step struct {
	Selection string `json:"selection"`
	ID        any    `json:"id,omitempty"`
}

// QueryPath addresses a record (or a nested collection) from the root.
type QueryPath []Step

func (s Step) String() string {
	if s.ID == nil {
		return s.Selection
	}
	id, _ := KeyString(s.ID)
	return fmt.Sprintf("%s[%s]", s.Selection, id)
}

func (p QueryPath) String() string {
	parts := make([]string, len(p))
	for i, step := range p {
		parts[i] = step.String()
	}
	return "/" + strings.Join(parts, "/")
}

// Key returns the canonical primary key of the record, if present.
func (r Record) Key(primaryKey string) (string, bool) {
	v, ok := r[primaryKey]
	if !ok {
		return "", false
	}
	return KeyString(v)
}

// KeyString returns a canonical text form of a primary key value so that
// keys compare equal across encodings: the string "10", the json.Number 10
// and the float64 10 are the same key. It reports false for nil.
func KeyString(v any) (string, bool) {
	switch k := v.(type) {
	case nil:
		return "", false
	case string:
		return k, true
	case json.Number:
		// Integer literals keep their exact digits; ids beyond 64 bits
		// would collide as floats.
		if n, ok := new(big.Int).SetString(k.String(), 10); ok {
			return n.String(), true
		}
		if f, err := k.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
		return k.String(), true
	case float64:
		return strconv.FormatFloat(k, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(k), 'f', -1, 32), true
	case int:
		return strconv.Itoa(k), true
	case int32:
		return strconv.FormatInt(int64(k), 10), true
	case int64:
		return strconv.FormatInt(k, 10), true
	case uint64:
		return strconv.FormatUint(k, 10), true
	case bool:
		return strconv.FormatBool(k), true
	default:
		return fmt.Sprint(k), true
	}
}

// Len returns the number of records, counting nested collections.
func (t Tree) Len() int {
	n := 0
	for _, rec := range t {
		n++
		for _, v := range rec {
			switch child := v.(type) {
			case Tree:
				n += child.Len()
			case Record:
				n += Tree{child}.Len()
			}
		}
	}
	return n
}

// Plain converts the tree into plain maps and slices, suitable for
// encoders and viewers that do not know the tree types.
func (t Tree) Plain() []any {
	out := make([]any, len(t))
	for i, rec := range t {
		out[i] = rec.Plain()
	}
	return out
}

// Plain converts the record into a plain map.
func (r Record) Plain() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		switch child := v.(type) {
		case Tree:
			out[k] = child.Plain()
		case Record:
			out[k] = child.Plain()
		default:
			out[k] = v
		}
	}
	return out
}
