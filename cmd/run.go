package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/scout/internal/model"
)

var (
	runTitle    string
	runIndustry string
	runLocation string
	runKeywords []string
	runSeeds    []string
	runRoleFile string
	runResume   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the discovery pipeline for a role",
	Long: "Discovers employers for the role, resolves them against the directory, and " +
		"fetches the candidate ID list. Use --resume to continue a prior session after " +
		"a restart or failure.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		sessionID := runResume
		if sessionID == "" {
			role, err := buildRole()
			if err != nil {
				return err
			}
			sessionID, err = env.Pipeline.Start(cmd.Context(), role)
			if err != nil {
				return err
			}
		}

		if err := env.Pipeline.Run(cmd.Context(), sessionID); err != nil {
			zap.L().Error("pipeline run failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			return err
		}

		status, err := env.Pipeline.Poll(cmd.Context(), sessionID)
		if err != nil {
			return err
		}

		fmt.Printf("session:    %s\n", status.SessionID)
		fmt.Printf("stage:      %s\n", status.Stage)
		fmt.Printf("companies:  %d (%d resolved)\n", status.Companies, status.Resolved)
		fmt.Printf("candidates: %d discovered, %d collected\n", status.Discovered, status.Collected)
		return nil
	},
}

func buildRole() (model.RoleContext, error) {
	var role model.RoleContext
	if runRoleFile != "" {
		data, err := os.ReadFile(runRoleFile)
		if err != nil {
			return role, err
		}
		if err := json.Unmarshal(data, &role); err != nil {
			return role, fmt.Errorf("parse role file: %w", err)
		}
	}
	if runTitle != "" {
		role.Title = runTitle
	}
	if runIndustry != "" {
		role.Industry = runIndustry
	}
	if runLocation != "" {
		role.Location = runLocation
	}
	if len(runKeywords) > 0 {
		role.Keywords = runKeywords
	}
	if len(runSeeds) > 0 {
		role.Seeds = runSeeds
	}
	return role, nil
}

func init() {
	runCmd.Flags().StringVar(&runTitle, "title", "", "role title (required unless --file or --resume)")
	runCmd.Flags().StringVar(&runIndustry, "industry", "", "target industry")
	runCmd.Flags().StringVar(&runLocation, "location", "", "location boost")
	runCmd.Flags().StringSliceVar(&runKeywords, "keyword", nil, "additional title keywords")
	runCmd.Flags().StringSliceVar(&runSeeds, "seed", nil, "seed employer names")
	runCmd.Flags().StringVar(&runRoleFile, "file", "", "JSON file with the role context")
	runCmd.Flags().StringVar(&runResume, "resume", "", "resume an existing session ID")
	rootCmd.AddCommand(runCmd)
}
