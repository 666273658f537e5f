package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/campatlas/catalog-cli/internal/model"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a catalog sync to completion",
	Long:  "Starts a sync run and blocks until it reaches a terminal state, printing the run summary.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initSync(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		syncType, _ := cmd.Flags().GetString("type")
		maxPlaces, _ := cmd.Flags().GetInt("max-places")
		provinces, _ := cmd.Flags().GetStringSlice("provinces")
		noPhotos, _ := cmd.Flags().GetBool("no-photos")
		noReviews, _ := cmd.Flags().GetBool("no-reviews")

		runCfg := model.SyncConfig{
			Type:           model.SyncType(syncType),
			MaxPlaces:      maxPlaces,
			Provinces:      provinces,
			DownloadPhotos: !noPhotos,
			FetchReviews:   !noReviews,
		}

		run, err := env.Orchestrator.StartSync(ctx, runCfg)
		if err != nil {
			return eris.Wrap(err, "sync")
		}
		fmt.Fprintf(os.Stderr, "Run %s started.\n", run.ID)

		// The pipeline runs detached; poll until it lets go of the slot.
		cancelled := false
		for env.Orchestrator.GetStatus() != nil {
			if ctx.Err() != nil && !cancelled {
				_ = env.Orchestrator.CancelSync(run.ID)
				cancelled = true
			}
			time.Sleep(200 * time.Millisecond)
		}

		final, err := env.Store.GetRun(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "sync: load final run state")
		}

		formatRunSummary(os.Stdout, final)
		if final.Status == model.RunStatusFailed {
			return eris.Errorf("sync run failed: %s", final.ErrorMessage)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().String("type", "incremental", "sync type (full, incremental)")
	syncCmd.Flags().Int("max-places", 0, "max places per run (0 = configured default)")
	syncCmd.Flags().StringSlice("provinces", nil, "provinces to sweep (default: full list)")
	syncCmd.Flags().Bool("no-photos", false, "skip the photo catalog phase")
	syncCmd.Flags().Bool("no-reviews", false, "skip the review catalog phase")
	rootCmd.AddCommand(syncCmd)
}
