package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/scout/internal/cache"
	"github.com/sells-group/scout/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache maintenance",
}

// cacheStatsPayload pairs the in-process counters (meaningful for the
// long-lived server) with the persisted cache state, which is what a
// one-shot CLI invocation can actually observe.
type cacheStatsPayload struct {
	Process map[cache.Class]cache.Stats `json:"process"`
	Store   *store.CacheStats           `json:"store"`
}

func collectCacheStats(ctx context.Context, env *env) (*cacheStatsPayload, error) {
	persisted, err := env.Store.CacheStats(ctx)
	if err != nil {
		return nil, err
	}
	return &cacheStatsPayload{Process: env.Cache.Stats(), Store: persisted}, nil
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache entry counts and hit accounting",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		payload, err := collectCacheStats(cmd.Context(), env)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}
