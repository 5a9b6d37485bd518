package errors

import (
	"fmt"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *Error {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *Error {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// ConnectionFailed creates an error for a transport that could not be established.
func ConnectionFailed(address string, err error) *Error {
	return Wrap(err, ErrCodeConnectionFailed, fmt.Sprintf("failed to connect to %s", address)).
		WithDetail("address", address)
}

// ConnectionClosed creates an error for operations attempted on a closed connection.
func ConnectionClosed(address string, err error) *Error {
	return Wrap(err, ErrCodeConnectionClosed, fmt.Sprintf("connection to %s closed", address)).
		WithDetail("address", address)
}

// ChannelClosed creates an error for a channel that was closed before a reply arrived.
func ChannelClosed(channelID int) *Error {
	return New(ErrCodeChannelClosed, fmt.Sprintf("channel %d closed", channelID)).
		WithDetail("channel", channelID)
}

// UnroutableFrame creates an error for an inbound frame with no registered channel.
func UnroutableFrame(channelID int) *Error {
	return New(ErrCodeUnroutableFrame, fmt.Sprintf("no channel registered for identity %d", channelID)).
		WithDetail("channel", channelID)
}

// UnknownUpdateKind creates an error for a message type outside the recognized set.
func UnknownUpdateKind(kind string) *Error {
	return New(ErrCodeUnknownUpdateKind, fmt.Sprintf("unknown update kind %q", kind)).
		WithDetail("kind", kind)
}

// MalformedPayload creates an error for a payload that does not match its declared type.
func MalformedPayload(kind string, err error) *Error {
	return Wrap(err, ErrCodeMalformedPayload, fmt.Sprintf("malformed %s payload", kind)).
		WithDetail("kind", kind)
}

// QueryFailed creates an error carrying a server-side error message.
func QueryFailed(statement, message string) *Error {
	return New(ErrCodeQueryFailed, message).
		WithDetail("statement", statement)
}
