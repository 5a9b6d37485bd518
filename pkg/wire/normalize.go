package wire

import (
	"fmt"
	"strings"

	"github.com/grovetools/livequery/pkg/tree"
)

// normalize converts generic JSON values into tree values: arrays of objects
// become tree.Tree, objects become tree.Record. Arrays holding anything
// other than objects stay []any.
func normalize(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return toRecord(v)
	case []any:
		out := make(tree.Tree, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return normalizeList(v)
			}
			out = append(out, toRecord(m))
		}
		return out
	}
	return v
}

func normalizeList(v []any) []any {
	out := make([]any, len(v))
	for i, item := range v {
		out[i] = normalize(item)
	}
	return out
}

func toRecord(m map[string]any) tree.Record {
	rec := make(tree.Record, len(m))
	for k, v := range m {
		rec[k] = normalize(v)
	}
	return rec
}

// toTree converts initial result data. A single object is a one-record
// tree and null is an empty one.
func toTree(v any) (tree.Tree, error) {
	switch n := normalize(v).(type) {
	case nil:
		return tree.Tree{}, nil
	case tree.Tree:
		return n, nil
	case tree.Record:
		return tree.Tree{n}, nil
	}
	return nil, fmt.Errorf("expected an array of objects, got %T", v)
}

// toPath accepts steps as {selection, id} pairs as well as the flattened
// layout that alternates {id} and {selection} segments. A segment carrying
// only an id completes the preceding step when that step has none.
func toPath(raw []any) (tree.QueryPath, error) {
	path := make(tree.QueryPath, 0, len(raw))
	for i, item := range raw {
		seg, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("QueryPath[%d] is %T, want object", i, item)
		}
		selection, hasSelection, err := stringField(seg, "selection")
		if err != nil {
			return nil, fmt.Errorf("QueryPath[%d]: %w", i, err)
		}
		id, hasID := field(seg, "id")

		switch {
		case hasSelection:
			path = append(path, tree.Step{Selection: selection, ID: id})
		case hasID && len(path) > 0 && path[len(path)-1].ID == nil:
			path[len(path)-1].ID = id
		case hasID:
			path = append(path, tree.Step{ID: id})
		default:
			return nil, fmt.Errorf("QueryPath[%d] has neither selection nor id", i)
		}
	}
	return path, nil
}

func field(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func stringField(m map[string]any, key string) (string, bool, error) {
	v, ok := field(m, key)
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("%s is %T, want string", key, v)
	}
	return s, true, nil
}
