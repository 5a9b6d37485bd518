// Package wire decodes server frames into typed updates and encodes them for
// servers and tests.
//
// A server frame looks like
//
//	{"ChannelIdentity": 0, "Message": {"Type": "initial_result", "Payload": {...}}}
//
// Field names are matched case-insensitively. StatementID is accepted in
// place of ChannelIdentity.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	lqerrors "github.com/grovetools/livequery/errors"
	"github.com/grovetools/livequery/pkg/tree"
)

// Message is the typed part of a frame. Payload stays raw until Decode.
type Message struct {
	Type    string          `json:"Type"`
	Payload json.RawMessage `json:"Payload,omitempty"`
}

// Frame is one inbound server message routed to a channel.
type Frame struct {
	ChannelIdentity int     `json:"ChannelIdentity"`
	Message         Message `json:"Message"`
}

type rawFrame struct {
	ChannelIdentity *int            `json:"ChannelIdentity"`
	StatementID     *int            `json:"StatementID"`
	Message         json.RawMessage `json:"Message"`
}

// DecodeFrame parses the routing envelope. The message payload is not
// inspected.
func DecodeFrame(data []byte) (*Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, lqerrors.MalformedPayload("frame", err)
	}

	id := raw.ChannelIdentity
	if id == nil {
		id = raw.StatementID
	}
	if id == nil {
		return nil, lqerrors.MalformedPayload("frame", fmt.Errorf("missing channel identity"))
	}
	if len(raw.Message) == 0 || bytes.Equal(raw.Message, []byte("null")) {
		return nil, lqerrors.MalformedPayload("frame", fmt.Errorf("missing message"))
	}

	msg, err := decodeMessage(raw.Message)
	if err != nil {
		return nil, err
	}
	return &Frame{ChannelIdentity: *id, Message: msg}, nil
}

// decodeMessage accepts {Type, Payload} and the older {type, <type>: payload}
// layout.
func decodeMessage(data []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Message{}, lqerrors.MalformedPayload("message", err)
	}

	typeRaw, ok := lookup(fields, "type")
	if !ok {
		return Message{}, lqerrors.MalformedPayload("message", fmt.Errorf("missing type"))
	}
	var msg Message
	if err := json.Unmarshal(typeRaw, &msg.Type); err != nil {
		return Message{}, lqerrors.MalformedPayload("message", fmt.Errorf("type: %w", err))
	}

	if payload, ok := lookup(fields, "payload"); ok {
		msg.Payload = payload
	} else if payload, ok := lookup(fields, msg.Type); ok {
		msg.Payload = payload
	}
	return msg, nil
}

// lookup finds key in fields, preferring an exact match.
func lookup(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	if v, ok := fields[key]; ok {
		return v, true
	}
	for k, v := range fields {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

type initialPayload struct {
	Schema any       `json:"Schema"`
	Data   tree.Tree `json:"Data"`
}

type tablePayload struct {
	QueryPath tree.QueryPath `json:"QueryPath"`
	Selection tree.Tree      `json:"Selection"`
}

type tableEvent struct {
	OldRecord tree.Record `json:"OldRecord"`
	NewRecord tree.Record `json:"NewRecord"`
}

type recordPayload struct {
	QueryPath  tree.QueryPath `json:"QueryPath"`
	TableEvent tableEvent     `json:"TableEvent"`
}

// Encode builds the frame a server sends for u on channel id.
func Encode(id int, u Update) ([]byte, error) {
	var payload any
	switch u := u.(type) {
	case *tree.InitialResult:
		data := u.Data
		if data == nil {
			data = tree.Tree{}
		}
		payload = initialPayload{Schema: u.Schema, Data: data}
	case *tree.TableUpdate:
		payload = tablePayload{QueryPath: pathOrEmpty(u.Path), Selection: tree.Tree{u.Record}}
	case *tree.RecordUpdate:
		payload = recordPayload{
			QueryPath:  pathOrEmpty(u.Path),
			TableEvent: tableEvent{OldRecord: u.OldRecord, NewRecord: u.NewRecord},
		}
	case *QueryError:
		payload = u.Message
	case *Ack:
		payload = u.Message
	default:
		return nil, lqerrors.UnknownUpdateKind(fmt.Sprintf("%T", u))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, lqerrors.MalformedPayload(u.Kind(), err)
	}
	return json.Marshal(Frame{
		ChannelIdentity: id,
		Message:         Message{Type: u.Kind(), Payload: body},
	})
}

func pathOrEmpty(p tree.QueryPath) tree.QueryPath {
	if p == nil {
		return tree.QueryPath{}
	}
	return p
}
