package cmd

import (
	"bufio"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/grovetools/livequery/cli"
	"github.com/grovetools/livequery/config"
	"github.com/grovetools/livequery/errors"
	"github.com/grovetools/livequery/pkg/client"
	"github.com/grovetools/livequery/pkg/tree"
	"github.com/grovetools/livequery/version"
)

// session is what every networked command starts from.
type session struct {
	cfg    *config.Config
	conn   *client.Conn
	logger *logrus.Entry
}

// connect loads the configuration and dials the server.
func connect(cmd *cobra.Command, extra ...client.Option) (*session, error) {
	logger := cli.GetLogger(cmd)
	cfg, err := cli.LoadConfig(cmd)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("User-Agent", version.GetInfo().UserAgent())

	opts := append(client.FromConfig(cfg),
		client.WithHeader(header),
		client.WithLogger(logger.WithField("component", "client")),
	)
	opts = append(opts, extra...)

	logger.WithField("address", cfg.Server.Address).Debug("dialing")
	conn, err := client.Dial(cmd.Context(), cfg.Server.Address, opts...)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, conn: conn, logger: logger}, nil
}

// newStore builds a tree store with the configured key and table policy.
func newStore(cfg *config.Config, logger *logrus.Entry) (*tree.Store, error) {
	policy, err := tree.ParseTablePolicy(cfg.Tree.TableUpdate)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "invalid tree.table_update")
	}
	return tree.NewStore(
		tree.WithPrimaryKey(cfg.Tree.PrimaryKey),
		tree.WithTablePolicy(policy),
		tree.WithLogger(logger.WithField("component", "tree")),
	), nil
}

// readStatement returns the statement from a file, the arguments, or stdin
// when there are no arguments or the only argument is "-".
func readStatement(args []string, file string, stdin io.Reader) (string, error) {
	var text string
	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read statement file").
				WithDetail("path", file)
		}
		text = string(data)
	case len(args) == 0 || (len(args) == 1 && args[0] == "-"):
		data, err := io.ReadAll(bufio.NewReader(stdin))
		if err != nil {
			return "", errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read statement from stdin")
		}
		text = string(data)
	default:
		text = strings.Join(args, " ")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New(errors.ErrCodeInvalidInput, "empty statement")
	}
	return text, nil
}
