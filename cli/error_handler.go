package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/grovetools/livequery/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

// NewErrorHandler creates a new error handler writing to stderr.
func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
		Out:     os.Stderr,
	}
}

// Handle prints a message and a hint for err, then returns it unchanged.
func (h *ErrorHandler) Handle(err error) error {
	if err == nil {
		return nil
	}
	lqErr, _ := errors.As(err)
	detail := func(key string) interface{} {
		if lqErr == nil {
			return nil
		}
		return lqErr.Details[key]
	}

	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(h.Out, "❌ Configuration file %v not found.\n", detail("path"))
		fmt.Fprintf(h.Out, "Create a livequery.yml or drop --config to use the defaults.\n")

	case errors.ErrCodeConfigInvalid:
		fmt.Fprintf(h.Out, "❌ %v\n", errMessage(lqErr, err))
		fmt.Fprintf(h.Out, "Run 'livequery config schema' to see the accepted keys.\n")

	case errors.ErrCodeConnectionFailed:
		fmt.Fprintf(h.Out, "❌ Could not connect to %v\n", detail("address"))
		fmt.Fprintf(h.Out, "Check server.address or pass --address. 'livequery mock-server' starts a local server.\n")

	case errors.ErrCodeConnectionClosed:
		fmt.Fprintf(h.Out, "❌ The connection to %v was lost.\n", detail("address"))

	case errors.ErrCodeQueryFailed:
		fmt.Fprintf(h.Out, "❌ Server rejected the statement: %v\n", errMessage(lqErr, err))
		if stmt := detail("statement"); stmt != nil {
			fmt.Fprintf(h.Out, "   %v\n", stmt)
		}

	default:
		fmt.Fprintf(h.Out, "❌ Error: %v\n", err)
	}

	if h.Verbose && lqErr != nil {
		fmt.Fprintf(h.Out, "\nError details:\n%s\n", lqErr.ToJSON())
	}
	return err
}

func errMessage(lqErr *errors.Error, err error) string {
	if lqErr != nil {
		return lqErr.Message
	}
	return err.Error()
}
