package main

import (
	"fmt"
	"time"

	"ComandaPay/internal/app"
	"ComandaPay/internal/db"
	"ComandaPay/internal/reconcile"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			applied, err := db.Migrate(cmd.Context(), e.pool, dir)
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "migrations", "directory holding *.sql migrations")
	return cmd
}

func reconcileCmd() *cobra.Command {
	var companyID, reference string
	cmd := &cobra.Command{
		Use:   "reconcile <pendingId>",
		Short: "Reconcile one pending payment against its provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			engine := app.Engine(e.cfg, e.store, app.Providers(e.cfg), e.log)
			res, err := engine.Reconcile(cmd.Context(), reconcile.Input{
				PendingID:         args[0],
				CompanyID:         companyID,
				ProviderReference: reference,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status=%s approved=%t order=%s done=%t\n", res.Status, res.Approved, res.OrderID, res.Done)
			return nil
		},
	}
	cmd.Flags().StringVar(&companyID, "company", "", "company id owning the payment")
	cmd.Flags().StringVar(&reference, "reference", "", "provider reference, when the row has none")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweeper pass over unsettled pending payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			engine := app.Engine(e.cfg, e.store, app.Providers(e.cfg), e.log)
			stats, err := app.Sweeper(e.cfg, e.store, engine, e.log).SyncOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked=%d approved=%d cancelled=%d failed=%d stuck=%d\n",
				stats.Checked, stats.Approved, stats.Cancelled, stats.Failed, stats.Stuck)
			return nil
		},
	}
}

func stuckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stuck",
		Short: "List payments claimed for processing that never completed",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			engine := app.Engine(e.cfg, e.store, app.Providers(e.cfg), e.log)
			rows, err := app.Sweeper(e.cfg, e.store, engine, e.log).Stuck(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "no stuck payments")
				return nil
			}
			for _, p := range rows {
				fmt.Fprintf(out, "%s\tcompany=%s\tprovider=%s\treference=%s\tupdated=%s\n",
					p.ID, p.CompanyID, p.Provider, p.ProviderReference, p.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}
