package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Session maintenance",
}

var sessionsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete sessions past the inactivity TTL",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Sessions.DeleteExpired(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d expired sessions\n", n)
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsGCCmd)
	rootCmd.AddCommand(sessionsCmd)
}
