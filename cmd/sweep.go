package main

import (
	"github.com/spf13/cobra"

	"jobmate/admission-service/internal/admission"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reject PENDING applications left on full jobs, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}

			store, _, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			notifier, _, closeNotifier, err := openNotifier(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeNotifier()

			svc := admission.NewService(store, notifier, admission.WithRetryPolicy(retryPolicy(cfg)))
			n, err := svc.ReconcileFullJobs(ctx)
			cmd.Printf("rejected %d application(s)\n", n)
			return err
		},
	}
}
