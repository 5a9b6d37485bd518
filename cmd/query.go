package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grovetools/livequery/cli"
	"github.com/grovetools/livequery/pkg/client"
)

// NewQueryCmd creates the `query` command.
func NewQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [statement]",
		Short: "Run a statement once and print its result tree",
		Long: `Sends one statement, waits for its initial result and prints it as JSON.
The statement is read from the arguments, from --file, or from stdin.

Examples:
  livequery query 'many rooms { id, name }'
  livequery query -f rooms.tsql --json
  echo 'many messages { body }' | livequery query -`,
		RunE: runQueryE,
	}

	cmd.Flags().StringP("file", "f", "", "Read the statement from a file")
	return cmd
}

func runQueryE(cmd *cobra.Command, args []string) error {
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

	if client.IsLive(statement) {
		s.logger.Warn("statement is live; query prints the initial result only, use watch to follow updates")
	}

	res, err := s.conn.Query(cmd.Context(), statement)
	if err != nil {
		return err
	}

	var data []byte
	if cli.GetOptions(cmd).JSONOutput {
		data, err = json.Marshal(res.Data)
	} else {
		data, err = json.MarshalIndent(res.Data, "", "  ")
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
