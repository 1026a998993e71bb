package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var collectCount int

var collectCmd = &cobra.Command{
	Use:   "collect <session-id>",
	Short: "Materialize the next batch of candidate profiles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.CollectMore(cmd.Context(), args[0], collectCount)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Profiles); err != nil {
			return err
		}
		if res.NoMore {
			fmt.Fprintln(os.Stderr, "no more results")
		} else {
			fmt.Fprintf(os.Stderr, "%d remaining\n", res.Remaining)
		}
		return nil
	},
}

func init() {
	collectCmd.Flags().IntVar(&collectCount, "count", 0, "batch size (default from config)")
	rootCmd.AddCommand(collectCmd)
}
