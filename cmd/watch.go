package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/grovetools/livequery/errors"
	"github.com/grovetools/livequery/internal/filewatch"
	"github.com/grovetools/livequery/pkg/client"
	"github.com/grovetools/livequery/pkg/tree"
	"github.com/grovetools/livequery/tui"
	"github.com/grovetools/livequery/tui/livetree"
)

// NewWatchCmd creates the `watch` command.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [statement]",
		Short: "Follow a live query and show its tree as it changes",
		Long: `Sends a live statement and keeps its result tree in sync with every
table_update and record_update the server pushes. By default the tree is
shown in an interactive viewer; --plain prints one JSON line per change.

With --file the statement is re-issued whenever the file is saved.

Examples:
  livequery watch 'many rooms { id, name, messages: many messages { body } } live'
  livequery watch --plain 'many messages { id, body } live' | jq .version
  livequery watch -f rooms.tsql`,
		RunE: runWatchE,
	}

	cmd.Flags().StringP("file", "f", "", "Read the statement from a file and re-issue it on change")
	cmd.Flags().Bool("plain", false, "Print JSON lines instead of starting the viewer")
	return cmd
}

// plainChange is one line of --plain output.
type plainChange struct {
	Channel int       `json:"channel"`
	Kind    string    `json:"kind"`
	Version uint64    `json:"version"`
	Tree    tree.Tree `json:"tree"`
}

// liveWatch owns the live query of a watch command and replaces it when the
// statement changes.
type liveWatch struct {
	s      *session
	store  *tree.Store
	failed chan error

	// onChannel and onError are set before the first issue.
	onChannel func(id int)
	onError   func(err error)

	mu        sync.Mutex
	lq        *client.LiveQuery
	statement string
	closed    bool
}

func newLiveWatch(s *session, store *tree.Store) *liveWatch {
	return &liveWatch{s: s, store: store, failed: make(chan error, 1)}
}

// issue sends statement as a new live query and closes the previous one.
func (w *liveWatch) issue(ctx context.Context, statement string) {
	w.mu.Lock()
	if w.lq != nil {
		w.lq.Close()
	}
	if !client.IsLive(statement) {
		w.s.logger.Warn("statement has no LIVE modifier; the server will not push updates")
	}
	lq := w.s.conn.Live(statement, w.store)
	w.lq = lq
	w.statement = statement
	w.mu.Unlock()

	w.s.logger.WithField("channel", lq.Channel().ID()).Debug("live query issued")
	if w.onChannel != nil {
		w.onChannel(lq.Channel().ID())
	}

	go func() {
		err := lq.Ready(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		if w.replaced(lq) {
			w.s.logger.WithField("channel", lq.Channel().ID()).Debug("live query replaced before its initial result")
			return
		}
		w.s.logger.WithError(err).Error("live query failed")
		if w.onError != nil {
			w.onError(err)
		}
		select {
		case w.failed <- err:
		default:
		}
	}()
}

// replaced reports whether lq was closed on purpose, by a newer issue or by
// close.
func (w *liveWatch) replaced(lq *client.LiveQuery) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed || w.lq != lq
}

func (w *liveWatch) channelID() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lq == nil {
		return -1
	}
	return w.lq.Channel().ID()
}

func (w *liveWatch) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.lq != nil {
		w.lq.Close()
	}
}

// runPlain writes one JSON line per store change until ctx is done, the
// connection ends or, unless keepGoing is set, the query is rejected. Slow
// readers see the latest version only.
func (w *liveWatch) runPlain(ctx context.Context, out io.Writer, changes <-chan tree.Change, keepGoing bool) error {
	failed := w.failed
	if keepGoing {
		failed = nil
	}
	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.s.conn.Done():
			return w.s.conn.Err()
		case err := <-failed:
			return err
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			line := plainChange{Channel: w.channelID(), Kind: c.Kind, Version: c.Version, Tree: c.Tree}
			if err := enc.Encode(line); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to write change")
			}
		}
	}
}

func runWatchE(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	plain, _ := cmd.Flags().GetBool("plain")

	statement, err := readStatement(args, file, cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := connect(cmd)
	if err != nil {
		return err
	}
	defer s.conn.Close()

	store, err := newStore(s.cfg, s.logger)
	if err != nil {
		return err
	}
	unwatchDangling := store.OnDangling(func(ref tree.DanglingRef) {
		s.logger.WithError(errors.New(errors.ErrCodeDanglingPath, ref.Error())).Warn("update did not apply")
	})
	defer unwatchDangling()

	changes, unsubscribe := store.Subscribe()
	defer unsubscribe()

	w := newLiveWatch(s, store)
	defer w.close()

	var program *tea.Program
	if !plain {
		tui.InitializeTUI()
		model := livetree.New(livetree.Options{
			Title:      "livequery " + s.cfg.Server.Address,
			Statement:  statement,
			Changes:    changes,
			Stats:      store.Stats,
			PrimaryKey: s.cfg.Tree.PrimaryKey,
		})
		program = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
		w.onChannel = func(id int) { go program.Send(livetree.ChannelMsg(id)) }
		w.onError = func(err error) { program.Send(livetree.StatusMsg{State: "error", Err: err}) }
		s.conn.On(client.EventClose, func(error) {
			program.Send(livetree.StatusMsg{State: "closed", Err: s.conn.Err()})
		})
	}

	w.issue(ctx, statement)

	if file != "" {
		fw, err := filewatch.New(file, 0, func(next string) { w.issue(ctx, next) })
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to watch statement file").
				WithDetail("path", file)
		}
		defer fw.Close()
		go fw.Start(ctx)
	}

	if plain {
		return w.runPlain(ctx, cmd.OutOrStdout(), changes, file != "")
	}

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "viewer failed")
	}
	return nil
}
