package tree

// Operation kinds, named as on the wire.
const (
	KindInitialResult = "initial_result"
	KindTableUpdate   = "table_update"
	KindRecordUpdate  = "record_update"
)

// Operation is one of *InitialResult, *TableUpdate or *RecordUpdate.
type Operation interface {
	Kind() string
	operation()
}

// InitialResult replaces the whole tree. It is the first operation a
// channel delivers.
type InitialResult struct {
	Schema any
	Data   Tree
}

// TableUpdate adds Record to the collection addressed by Path.
type TableUpdate struct {
	Path   QueryPath
	Record Record
}

// RecordUpdate merges NewRecord into the record addressed by Path.
type RecordUpdate struct {
	Path      QueryPath
	OldRecord Record
	NewRecord Record
}

func (*InitialResult) Kind() string { return KindInitialResult }
func (*TableUpdate) Kind() string   { return KindTableUpdate }
func (*RecordUpdate) Kind() string  { return KindRecordUpdate }

func (*InitialResult) operation() {}
func (*TableUpdate) operation()   {}
func (*RecordUpdate) operation()  {}
