package tree

import (
	"fmt"

	lqerrors "github.com/grovetools/livequery/errors"
)

// TablePolicy decides what a TableUpdate does when the incoming record's
// primary key already exists in the target collection.
type TablePolicy string

const (
	// TableUpsert replaces the first record with the same key in place and
	// appends otherwise.
	TableUpsert TablePolicy = "upsert"
	// TableAppend always appends, keeping duplicates.
	TableAppend TablePolicy = "append"
)

// ParseTablePolicy parses a policy name; the empty string is TableUpsert.
func ParseTablePolicy(s string) (TablePolicy, error) {
	switch TablePolicy(s) {
	case "", TableUpsert:
		return TableUpsert, nil
	case TableAppend:
		return TableAppend, nil
	}
	return "", fmt.Errorf("unknown table update policy %q (want %q or %q)", s, TableUpsert, TableAppend)
}

// Outcome describes the effect of one Apply call.
type Outcome struct {
	// Changed is false when the operation was a no-op and the returned tree
	// is the input tree.
	Changed bool
	// Dangling is set when path resolution failed.
	Dangling *DanglingRef
}

// DanglingRef describes a path step that could not be resolved.
type DanglingRef struct {
	Kind   string
	Path   QueryPath
	Depth  int
	Reason string
}

func (d *DanglingRef) Error() string {
	return fmt.Sprintf("%s at %s (step %d): %s", d.Kind, d.Path, d.Depth, d.Reason)
}

// Err converts the reference into a coded error for logs and callers.
func (d *DanglingRef) Err() *lqerrors.Error {
	return lqerrors.New(lqerrors.ErrCodeDanglingPath, d.Error()).
		WithDetail("kind", d.Kind).
		WithDetail("path", d.Path.String()).
		WithDetail("depth", d.Depth)
}

// Applier applies operations with a given primary key field and table policy.
// The zero value uses DefaultPrimaryKey and TableUpsert.
type Applier struct {
	PrimaryKey string
	Policy     TablePolicy
}

// Apply applies op to t with the default Applier.
func Apply(t Tree, op Operation) (Tree, Outcome) {
	return Applier{}.Apply(t, op)
}

// Apply returns the tree that results from applying op to t. It never
// mutates t or any record reachable from it, and either applies op fully or
// returns t unchanged.
func (a Applier) Apply(t Tree, op Operation) (Tree, Outcome) {
	switch op := op.(type) {
	case *InitialResult:
		data := op.Data
		if data == nil {
			data = Tree{}
		}
		return data, Outcome{Changed: true}
	case *TableUpdate:
		return a.applyTable(t, op)
	case *RecordUpdate:
		return a.applyRecord(t, op)
	}
	return t, Outcome{}
}

func (a Applier) primaryKey() string {
	if a.PrimaryKey == "" {
		return DefaultPrimaryKey
	}
	return a.PrimaryKey
}

func (a Applier) applyRecord(t Tree, op *RecordUpdate) (Tree, Outcome) {
	if len(op.Path) == 0 {
		return t, Outcome{Dangling: &DanglingRef{Kind: op.Kind(), Path: op.Path, Reason: "record update needs at least one step"}}
	}
	next, ref := a.editRecord(t, op.Path, 0, func(rec Record) (Record, string) {
		return merge(rec, op.NewRecord), ""
	})
	if ref != nil {
		ref.Kind = op.Kind()
		return t, Outcome{Dangling: ref}
	}
	return next, Outcome{Changed: true}
}

// applyTable inserts into the collection named by the final path step. That
// step only names a collection, so an id on it is not used: a one-step path
// always targets the top-level sequence.
func (a Applier) applyTable(t Tree, op *TableUpdate) (Tree, Outcome) {
	if len(op.Path) <= 1 {
		return a.insert(t, op.Record), Outcome{Changed: true}
	}
	last := len(op.Path) - 1
	collection := op.Path[last].Selection
	next, ref := a.editRecord(t, op.Path[:last], 0, func(rec Record) (Record, string) {
		var coll Tree
		switch v := rec[collection].(type) {
		case nil:
		case Tree:
			coll = v
		default:
			return nil, fmt.Sprintf("field %q is not a collection", collection)
		}
		out := copyRecord(rec, 0)
		out[collection] = a.insert(coll, op.Record)
		return out, ""
	})
	if ref != nil {
		ref.Kind = op.Kind()
		ref.Path = op.Path
		return t, Outcome{Dangling: ref}
	}
	return next, Outcome{Changed: true}
}

// editRecord finds the record addressed by path[depth:] within records and
// returns a copy of records with that record replaced by edit's result.
// Only the records along the path are copied.
func (a Applier) editRecord(records Tree, path QueryPath, depth int, edit func(Record) (Record, string)) (Tree, *DanglingRef) {
	step := path[depth]
	want, ok := KeyString(step.ID)
	if !ok {
		return nil, &DanglingRef{Path: path, Depth: depth, Reason: fmt.Sprintf("step %q has no id", step.Selection)}
	}

	idx := a.find(records, want)
	if idx < 0 {
		return nil, &DanglingRef{Path: path, Depth: depth, Reason: fmt.Sprintf("no record with %s %s in %q", a.primaryKey(), want, step.Selection)}
	}
	rec := records[idx]

	var replaced Record
	if depth == len(path)-1 {
		var reason string
		replaced, reason = edit(rec)
		if reason != "" {
			return nil, &DanglingRef{Path: path, Depth: depth, Reason: reason}
		}
	} else {
		field := path[depth+1].Selection
		switch child := rec[field].(type) {
		case Tree:
			nested, ref := a.editRecord(child, path, depth+1, edit)
			if ref != nil {
				return nil, ref
			}
			replaced = copyRecord(rec, 0)
			replaced[field] = nested
		case Record:
			nested, ref := a.editRecord(Tree{child}, path, depth+1, edit)
			if ref != nil {
				return nil, ref
			}
			replaced = copyRecord(rec, 0)
			replaced[field] = nested[0]
		default:
			return nil, &DanglingRef{Path: path, Depth: depth + 1, Reason: fmt.Sprintf("field %q is not a nested selection", field)}
		}
	}

	out := make(Tree, len(records))
	copy(out, records)
	out[idx] = replaced
	return out, nil
}

// find returns the index of the first record whose primary key is key.
func (a Applier) find(records Tree, key string) int {
	pk := a.primaryKey()
	for i, rec := range records {
		if got, ok := rec.Key(pk); ok && got == key {
			return i
		}
	}
	return -1
}

// insert returns a new collection containing rec, never writing into the
// backing array of coll.
func (a Applier) insert(coll Tree, rec Record) Tree {
	if a.Policy != TableAppend {
		if key, ok := rec.Key(a.primaryKey()); ok {
			if idx := a.find(coll, key); idx >= 0 {
				out := make(Tree, len(coll))
				copy(out, coll)
				out[idx] = rec
				return out
			}
		}
	}
	out := make(Tree, len(coll), len(coll)+1)
	copy(out, coll)
	return append(out, rec)
}

// merge overwrites the fields of old present in update. Nested values are
// replaced, not merged.
func merge(old, update Record) Record {
	out := copyRecord(old, len(update))
	for k, v := range update {
		out[k] = v
	}
	return out
}

func copyRecord(rec Record, extra int) Record {
	out := make(Record, len(rec)+extra)
	for k, v := range rec {
		out[k] = v
	}
	return out
}
