package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	assessCriteria string
	assessCount    int
	assessIDs      []string
)

var assessCmd = &cobra.Command{
	Use:   "assess <session-id>",
	Short: "Score collected candidates against role criteria",
	Long: "Assesses candidates from the session. By default the most recently " +
		"collected batch is scored; pass --id to pick specific candidates.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		ids := assessIDs
		if len(ids) == 0 {
			sess, err := env.Sessions.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			collected := sess.DiscoveredIDs[:sess.ProfilesOffset]
			if len(collected) == 0 {
				return eris.New("no collected candidates to assess; run collect first")
			}
			start := len(collected) - assessCount
			if assessCount <= 0 || start < 0 {
				start = 0
			}
			ids = collected[start:]
		}

		outcomes := env.Pipeline.AssessBatch(cmd.Context(), ids, assessCriteria)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(outcomes)
	},
}

func init() {
	assessCmd.Flags().StringVar(&assessCriteria, "criteria", "", "assessment criteria text")
	assessCmd.Flags().IntVar(&assessCount, "count", 20, "how many recently collected candidates to assess")
	assessCmd.Flags().StringSliceVar(&assessIDs, "id", nil, "specific candidate IDs to assess")
	_ = assessCmd.MarkFlagRequired("criteria")
	rootCmd.AddCommand(assessCmd)
}
