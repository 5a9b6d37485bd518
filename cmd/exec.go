package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grovetools/livequery/cli"
	"github.com/grovetools/livequery/logging"
)

// NewExecCmd creates the `exec` command.
func NewExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec [statement]",
		Short: "Run a write statement and print its acknowledgement",
		Long: `Sends a statement that the server acknowledges rather than answers with a
tree, such as an insert, an update or a createtable.

Examples:
  livequery exec 'createtable rooms { id string primarykey, name string }'
  livequery exec 'insert into rooms values ("1", "general")'`,
		RunE: runExecE,
	}

	cmd.Flags().StringP("file", "f", "", "Read the statement from a file")
	return cmd
}

func runExecE(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	statement, err := readStatement(args, file, cmd.InOrStdin())
	if err != nil {
		return err
	}

	s, err := connect(cmd)
	if err != nil {
		return err
	}
	defer s.conn.Close()

	ack, err := s.conn.Exec(cmd.Context(), statement)
	if err != nil {
		return err
	}

	if cli.GetOptions(cmd).JSONOutput {
		data, err := json.Marshal(map[string]string{"ack": ack})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	logging.NewPrettyLogger().WithWriter(cmd.OutOrStdout()).Success(ack)
	return nil
}
