package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/grovetools/livequery/cli"
	"github.com/grovetools/livequery/pkg/client"
	"github.com/grovetools/livequery/pkg/wire"
	"github.com/grovetools/livequery/state"
	"github.com/grovetools/livequery/tui/theme"
)

const tablesStatement = "many __tables__ { name, primary_key }"

var shellBuiltins = [][2]string{
	{`\h, \?`, "show this help"},
	{`\d`, "list tables"},
	{`\d <table>`, "describe a table"},
	{`\history [n]`, "show the last n statements"},
	{`\live`, "list open live channels"},
	{`\close <id>`, "close a channel"},
	{`\q`, "quit"},
}

// describeStatement is the introspection query behind `\d <table>`.
func describeStatement(table string) string {
	return fmt.Sprintf("one __tables__ where name = %q { name, primary_key, columns: many __columns__ { name, references } }", table)
}

// NewShellCmd creates the `shell` command.
func NewShellCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive statement shell",
		Long: `Reads statements line by line and prints every reply as it arrives,
tagged with its channel. Live statements keep printing updates until the
channel is closed. Piped input is run as a script.

Examples:
  livequery shell
  livequery shell -a ws://db.internal:9000/ws
  livequery shell < seed.tsql`,
		RunE: runShellE,
	}

	cmd.Flags().Bool("no-history", false, "Do not read or write the statement history")
	cli.SetStyledHelpWithExtras(cmd, func(w io.Writer, t *theme.Theme) {
		fmt.Fprintln(w, t.Header.Render("BUILTINS"))
		for _, b := range shellBuiltins {
			fmt.Fprintf(w, "  %s %s\n", t.Bold.Render(fmt.Sprintf("%-14s", b[0])), t.Muted.Render(b[1]))
		}
	})
	return cmd
}

// lineReader is satisfied by *term.Terminal.
type lineReader interface {
	ReadLine() (string, error)
}

type scannerReader struct {
	scanner *bufio.Scanner
}

func (r scannerReader) ReadLine() (string, error) {
	if r.scanner.Scan() {
		return r.scanner.Text(), nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// shell runs statements on one connection. Output from reply listeners and
// the input loop is serialized through outMu.
type shell struct {
	conn    *client.Conn
	address string
	history *state.History
	logger  *logrus.Entry

	outMu sync.Mutex
	out   io.Writer

	mu      sync.Mutex
	live    map[int]*client.Channel
	pending sync.WaitGroup
}

func newShell(conn *client.Conn, address string, history *state.History, logger *logrus.Entry, out io.Writer) *shell {
	return &shell{
		conn:    conn,
		address: address,
		history: history,
		logger:  logger,
		out:     out,
		live:    make(map[int]*client.Channel),
	}
}

func (sh *shell) printf(format string, args ...any) {
	sh.outMu.Lock()
	defer sh.outMu.Unlock()
	fmt.Fprintf(sh.out, format, args...)
}

// run reads lines until EOF or \q. One-shot replies still in flight are
// awaited before it returns.
func (sh *shell) run(in lineReader) error {
	defer sh.pending.Wait()
	for {
		line, err := in.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if quit := sh.execute(line); quit {
			return nil
		}
	}
}

// execute handles one input line and reports whether the shell should exit.
func (sh *shell) execute(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, `\`) {
		return sh.builtin(line)
	}
	if sh.history != nil {
		sh.history.Add(line, sh.address)
	}
	sh.send(line)
	return false
}

func (sh *shell) builtin(line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case `\q`, `\quit`:
		return true
	case `\h`, `\?`, `\help`:
		for _, b := range shellBuiltins {
			sh.printf("  %-14s %s\n", b[0], b[1])
		}
	case `\d`:
		if len(fields) > 1 {
			sh.send(describeStatement(fields[1]))
		} else {
			sh.send(tablesStatement)
		}
	case `\history`:
		n := 20
		if len(fields) > 1 {
			if v, err := strconv.Atoi(fields[1]); err == nil {
				n = v
			}
		}
		if sh.history == nil {
			sh.printf("history is disabled\n")
			return false
		}
		for _, e := range sh.history.Last(n) {
			sh.printf("  %s  %s\n", e.At.Local().Format("2006-01-02 15:04"), e.Statement)
		}
	case `\live`:
		sh.mu.Lock()
		ids := make([]int, 0, len(sh.live))
		for id := range sh.live {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			sh.printf("  %d  %s\n", id, sh.live[id].Statement())
		}
		sh.mu.Unlock()
	case `\close`:
		if len(fields) < 2 {
			sh.printf("usage: \\close <id>\n")
			return false
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			sh.printf("invalid channel id %q\n", fields[1])
			return false
		}
		sh.mu.Lock()
		ch, ok := sh.live[id]
		delete(sh.live, id)
		sh.mu.Unlock()
		if !ok {
			sh.printf("no live channel %d\n", id)
			return false
		}
		ch.Close()
		sh.printf("closed channel %d\n", id)
	default:
		sh.printf("unknown command %s, \\h for help\n", fields[0])
	}
	return false
}

// send issues statement. Live statements stay subscribed; everything else
// is closed after its first reply.
func (sh *shell) send(statement string) {
	if client.IsLive(statement) {
		ch := sh.subscribe(statement, func(ch *client.Channel, u wire.Update) {
			sh.printUpdate(ch.ID(), u)
		})
		sh.mu.Lock()
		sh.live[ch.ID()] = ch
		sh.mu.Unlock()
		go func() {
			<-ch.Done()
			sh.mu.Lock()
			delete(sh.live, ch.ID())
			sh.mu.Unlock()
		}()
		return
	}

	sh.pending.Add(1)
	var once sync.Once
	finish := func() { once.Do(sh.pending.Done) }
	ch := sh.subscribe(statement, func(ch *client.Channel, u wire.Update) {
		sh.printUpdate(ch.ID(), u)
		finish()
		go ch.Close()
	})
	go func() {
		<-ch.Done()
		finish()
	}()
}

// subscribe sends statement with fn as its update listener. fn may fire
// before SendStatement returns, so it waits until the channel is known.
func (sh *shell) subscribe(statement string, fn func(*client.Channel, wire.Update)) *client.Channel {
	known := make(chan struct{})
	var ch *client.Channel
	ch = sh.conn.SendStatement(statement, func(u wire.Update) {
		<-known
		fn(ch, u)
	})
	close(known)
	return ch
}

// printUpdate prints the message as the server framed it.
func (sh *shell) printUpdate(id int, u wire.Update) {
	data, err := wire.Encode(id, u)
	if err != nil {
		sh.logger.WithError(err).Warn("cannot print update")
		return
	}
	frame, err := wire.DecodeFrame(data)
	if err != nil {
		sh.logger.WithError(err).Warn("cannot print update")
		return
	}
	indented, err := json.MarshalIndent(frame.Message, "", "  ")
	if err != nil {
		sh.logger.WithError(err).Warn("cannot print update")
		return
	}
	sh.printf("from channel %d: %s\n", id, indented)
}

func runShellE(cmd *cobra.Command, args []string) error {
	noHistory, _ := cmd.Flags().GetBool("no-history")

	s, err := connect(cmd)
	if err != nil {
		return err
	}
	defer s.conn.Close()

	var history *state.History
	if !noHistory {
		if history, err = state.Load("", 0); err != nil {
			s.logger.WithError(err).Warn("statement history unavailable")
			history = nil
		}
	}

	stdin, isFile := cmd.InOrStdin().(*os.File)
	interactive := isFile && term.IsTerminal(int(stdin.Fd()))

	var (
		reader lineReader
		out    io.Writer = cmd.OutOrStdout()
	)
	if interactive {
		fd := int(stdin.Fd())
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return err
		}
		defer term.Restore(fd, oldState)

		t := term.NewTerminal(struct {
			io.Reader
			io.Writer
		}{stdin, cmd.OutOrStdout()}, s.cfg.Server.Address+"> ")
		if width, height, err := term.GetSize(fd); err == nil {
			t.SetSize(width, height)
		}
		reader, out = t, t
		fmt.Fprintln(t, "livequery shell")
		fmt.Fprintln(t, `\h for help`)
	} else {
		reader = scannerReader{scanner: bufio.NewScanner(cmd.InOrStdin())}
	}

	sh := newShell(s.conn, s.cfg.Server.Address, history, s.logger, out)
	runErr := sh.run(reader)

	if history != nil {
		if err := history.Save(); err != nil {
			s.logger.WithError(err).Warn("failed to save statement history")
		}
	}
	if interactive {
		fmt.Fprintln(out, "bye!")
	}
	return runErr
}
