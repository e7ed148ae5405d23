package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vibast-solutions/ms-go-orders/app/service"
)

var workerMode bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Close pending orders whose payment window has elapsed",
	Long:  "Run the timeout reconciliation sweep once, or continuously with --worker. This is the same backstop the serve command runs in-process.",
	Run: func(_ *cobra.Command, _ []string) {
		deps := mustCreateOrderService(false)
		defer deps.cleanup()

		sweeper := service.NewTimeoutSweeper(deps.orderService, deps.cfg.Orders)

		if workerMode {
			runSweepWorker(sweeper, deps.cfg.Jobs.SweepInterval)
			return
		}

		ctx := context.Background()
		runJob("timeout_sweep", func() error { return sweeper.RunBatch(ctx) })
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().BoolVar(&workerMode, "worker", false, "Run continuously using the configured interval")
}

func runSweepWorker(sweeper *service.TimeoutSweeper, interval time.Duration) {
	if interval <= 0 {
		logrus.WithField("job", "timeout_sweep").Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJob("timeout_sweep", func() error { return sweeper.RunBatch(ctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", "timeout_sweep").Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob("timeout_sweep", func() error { return sweeper.RunBatch(ctx) })
		}
	}
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}
