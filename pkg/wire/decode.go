package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"

	lqerrors "github.com/grovetools/livequery/errors"
	"github.com/grovetools/livequery/pkg/tree"
)

// Message types outside the tree operations.
const (
	KindError = "error"
	KindAck   = "ack"
)

// Update is what a channel delivers: one of *tree.InitialResult,
// *tree.TableUpdate, *tree.RecordUpdate, *QueryError or *Ack.
type Update interface {
	Kind() string
}

// QueryError is the server's reply to a statement it could not run.
type QueryError struct {
	Message string
}

func (*QueryError) Kind() string { return KindError }

func (e *QueryError) Error() string { return e.Message }

// Ack is the server's reply to a statement that produced no result tree.
type Ack struct {
	Message string
}

func (*Ack) Kind() string { return KindAck }

// Operation returns the tree operation carried by u, if any.
func Operation(u Update) (tree.Operation, bool) {
	op, ok := u.(tree.Operation)
	return op, ok
}

type initialFields struct {
	Schema any
	Data   any
}

type tableFields struct {
	QueryPath []any
	Selection []any
}

type recordFields struct {
	QueryPath  []any
	TableEvent struct {
		TableName string
		OldRecord map[string]any
		NewRecord map[string]any
	}
}

// Decode turns a message into a typed update. It is pure: unknown types
// yield UNKNOWN_UPDATE_KIND and shape mismatches MALFORMED_PAYLOAD, and no
// partial update is ever returned.
func Decode(msg Message) (Update, error) {
	switch msg.Type {
	case tree.KindInitialResult:
		var f initialFields
		if err := decodePayload(msg, &f); err != nil {
			return nil, err
		}
		data, err := toTree(f.Data)
		if err != nil {
			return nil, lqerrors.MalformedPayload(msg.Type, fmt.Errorf("Data: %w", err))
		}
		return &tree.InitialResult{Schema: f.Schema, Data: data}, nil

	case tree.KindTableUpdate:
		var f tableFields
		if err := decodePayload(msg, &f); err != nil {
			return nil, err
		}
		path, err := toPath(f.QueryPath)
		if err != nil {
			return nil, lqerrors.MalformedPayload(msg.Type, err)
		}
		if len(f.Selection) == 0 {
			return nil, lqerrors.MalformedPayload(msg.Type, fmt.Errorf("Selection is empty"))
		}
		rec, ok := normalize(f.Selection[0]).(tree.Record)
		if !ok {
			return nil, lqerrors.MalformedPayload(msg.Type, fmt.Errorf("Selection[0] is not an object"))
		}
		return &tree.TableUpdate{Path: path, Record: rec}, nil

	case tree.KindRecordUpdate:
		var f recordFields
		if err := decodePayload(msg, &f); err != nil {
			return nil, err
		}
		path, err := toPath(f.QueryPath)
		if err != nil {
			return nil, lqerrors.MalformedPayload(msg.Type, err)
		}
		if f.TableEvent.NewRecord == nil {
			return nil, lqerrors.MalformedPayload(msg.Type, fmt.Errorf("TableEvent.NewRecord is missing"))
		}
		op := &tree.RecordUpdate{
			Path:      path,
			NewRecord: toRecord(f.TableEvent.NewRecord),
		}
		if f.TableEvent.OldRecord != nil {
			op.OldRecord = toRecord(f.TableEvent.OldRecord)
		}
		return op, nil

	case KindError:
		text, err := decodeText(msg)
		if err != nil {
			return nil, err
		}
		return &QueryError{Message: text}, nil

	case KindAck:
		text, err := decodeText(msg)
		if err != nil {
			return nil, err
		}
		return &Ack{Message: text}, nil
	}
	return nil, lqerrors.UnknownUpdateKind(msg.Type)
}

// decodePayload parses the payload JSON and maps it onto out. Field names
// are matched case-insensitively and unknown fields are ignored.
func decodePayload(msg Message, out any) error {
	raw, err := parseJSON(msg.Payload)
	if err != nil {
		return lqerrors.MalformedPayload(msg.Type, err)
	}
	if _, ok := raw.(map[string]any); !ok {
		return lqerrors.MalformedPayload(msg.Type, fmt.Errorf("payload is not an object"))
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: false,
	})
	if err != nil {
		return lqerrors.Wrap(err, lqerrors.ErrCodeInternal, "failed to build payload decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return lqerrors.MalformedPayload(msg.Type, err)
	}
	return nil
}

// decodeText reads an error or ack payload, either a bare string or an
// object with a Message field.
func decodeText(msg Message) (string, error) {
	raw, err := parseJSON(msg.Payload)
	if err != nil {
		return "", lqerrors.MalformedPayload(msg.Type, err)
	}
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case map[string]any:
		var f struct{ Message string }
		if err := mapstructure.Decode(v, &f); err != nil {
			return "", lqerrors.MalformedPayload(msg.Type, err)
		}
		return f.Message, nil
	}
	return "", lqerrors.MalformedPayload(msg.Type, fmt.Errorf("payload is %T, want string", raw))
}

func parseJSON(data json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
