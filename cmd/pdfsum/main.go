package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/pdfsum-backend/internal/app"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "pdfsum",
	Short:         "Asynchronous PDF summarization service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Runs the HTTP API and the stuck-job sweeper. With --with-worker the
job worker pool runs in the same process.`,
	RunE: runServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job worker pool",
	RunE:  runWorker,
}

var recoverStuckCmd = &cobra.Command{
	Use:   "recover-stuck",
	Short: "Fail pending or running jobs that stopped making progress",
	RunE:  runRecoverStuck,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and seed the template catalog",
	RunE:  runMigrate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("pdfsum version %s\n", version)
	},
}

func init() {
	serveCmd.Flags().Bool("with-worker", false, "also run the job worker pool")
	recoverStuckCmd.Flags().Duration("older-than", 0, "idle threshold (default JOB_TIMEOUT_MINUTES)")
	rootCmd.AddCommand(serveCmd, workerCmd, recoverStuckCmd, migrateCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	withWorker, _ := cmd.Flags().GetBool("with-worker")
	a, err := app.New(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	a.StartBackground(ctx, withWorker)
	err = a.Serve(ctx)
	a.WaitWorkers()
	return err
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := app.New(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	a.StartBackground(ctx, true)
	<-ctx.Done()
	a.Log.Info("Shutting down worker; waiting for in-flight jobs")
	a.WaitWorkers()
	return nil
}

func runRecoverStuck(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	a, err := app.NewStorage(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.RecoverStuck(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("recover stuck jobs: %w", err)
	}
	cmd.Printf("Recovered %d stuck job(s)\n", n)
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()
	a, err := app.NewStorage(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.Cfg.AutoMigrate {
		if err := a.Migrate(ctx); err != nil {
			return err
		}
	}
	cmd.Println("Migrations applied")
	return nil
}
