/*
 * Copyright (c) 2023 VMware, Inc.
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of this software and
 * associated documentation files (the "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is furnished to do
 * so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all copies or substantial
 * portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT
 * NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY,
 * WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 */
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vmware/vmware-go-indexer/clientlibrary/config"
	"github.com/vmware/vmware-go-indexer/clientlibrary/feed"
	"github.com/vmware/vmware-go-indexer/clientlibrary/handlers"
	"github.com/vmware/vmware-go-indexer/clientlibrary/metrics"
	"github.com/vmware/vmware-go-indexer/clientlibrary/metrics/cloudwatch"
	"github.com/vmware/vmware-go-indexer/clientlibrary/metrics/prometheus"
	"github.com/vmware/vmware-go-indexer/clientlibrary/worker"
	"github.com/vmware/vmware-go-indexer/logger"
)

const (
	feedFile      = "file"
	feedS3        = "s3"
	feedSynthetic = "synthetic"

	metricsPrometheus = "prometheus"
	metricsCloudWatch = "cloudwatch"
	metricsNone       = "none"
)

// RunOptions holds the flags of the run command.
type RunOptions struct {
	*RootOptions

	FirstCheckpoint uint64
	LastCheckpoint  uint64
	LagBound        uint64

	Feed              string
	FeedLocation      string
	S3Endpoint        string
	AWSRegion         string
	SyntheticInterval time.Duration

	Metrics     string
	MetricsAddr string
	StatusAddr  string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest checkpoints until the range is done or the process is stopped",
		Long: `Start every enabled lane and ingest checkpoints from the feed.

Settings are read from the configuration file, then the environment, then flags.

Example:
  indexer run --store-driver sqlite --store ./indexer.db --feed file --feed-location ./checkpoints
  indexer run --config indexer.yaml --feed s3 --feed-location s3://bucket/checkpoints --status-addr :8081`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexer(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.Uint64Var(&opts.FirstCheckpoint, "first-checkpoint", config.DefaultFirstCheckpoint, "first checkpoint of a lane without watermark")
	flags.Uint64Var(&opts.LastCheckpoint, "last-checkpoint", config.NoLastCheckpoint, "last checkpoint of the range (default: follow the feed)")
	flags.Uint64Var(&opts.LagBound, "lag-bound", config.DefaultLagBound, "flush a batch trailing the feed head by more than this (0 disables)")
	flags.StringVar(&opts.Feed, "feed", feedFile, "checkpoint feed (file|s3|synthetic)")
	flags.StringVar(&opts.FeedLocation, "feed-location", "", "feed directory, s3://bucket/prefix or the synthetic package id")
	flags.StringVar(&opts.S3Endpoint, "s3-endpoint", "", "custom S3 endpoint")
	flags.StringVar(&opts.AWSRegion, "aws-region", "us-west-2", "AWS region for the S3 feed and CloudWatch")
	flags.DurationVar(&opts.SyntheticInterval, "synthetic-interval", time.Second, "time between synthetic checkpoints")
	flags.StringVar(&opts.Metrics, "metrics", metricsPrometheus, "metrics backend (prometheus|cloudwatch|none)")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "prometheus listen address (default: served by the status server)")
	flags.StringVar(&opts.StatusAddr, "status-addr", ":8081", "status server listen address, empty disables it")

	return cmd
}

func runIndexer(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	opts.applyFlags(cmd, cfg)
	log := cfg.Logger

	reader, err := opts.newFeed(cfg)
	if err != nil {
		return err
	}

	mService, metricsHandler, err := opts.newMonitoringService(log)
	if err != nil {
		return err
	}
	cfg.WithMonitoringService(mService)

	w := worker.NewWorker(handlers.DefaultHandlers(cfg), cfg).WithFeed(reader)
	if err := w.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var server *http.Server
	if opts.StatusAddr != "" {
		server = &http.Server{
			Addr:              opts.StatusAddr,
			Handler:           newStatusHandler(w, metricsHandler),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Infof("Starting status server on %s", opts.StatusAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Status server failed: %+v", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Infof("Received shutdown signal")
	case <-w.Finished():
		log.Infof("Every lane reached checkpoint %d", cfg.LastCheckpoint)
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Error stopping status server: %+v", err)
		}
	}
	w.Shutdown()
	return nil
}

// applyFlags overrides cfg with the run flags given on the command line.
func (o *RunOptions) applyFlags(cmd *cobra.Command, cfg *config.IndexerConfiguration) {
	flags := cmd.Flags()
	if flags.Changed("first-checkpoint") {
		cfg.FirstCheckpoint = o.FirstCheckpoint
	}
	if flags.Changed("last-checkpoint") {
		cfg.LastCheckpoint = o.LastCheckpoint
	}
	if flags.Changed("lag-bound") {
		cfg.LagBound = o.LagBound
	}
}

func (o *RunOptions) newFeed(cfg *config.IndexerConfiguration) (feed.Reader, error) {
	switch o.Feed {
	case feedFile:
		if o.FeedLocation == "" {
			return nil, fmt.Errorf("--feed-location is required for the file feed")
		}
		return feed.NewFileFeed(o.FeedLocation), nil
	case feedS3:
		s3Feed, err := feed.NewS3Feed(o.FeedLocation, o.AWSRegion, o.S3Endpoint, nil)
		if err != nil {
			return nil, err
		}
		s3Feed.Start = cfg.FirstCheckpoint
		return s3Feed, nil
	case feedSynthetic:
		packageID := o.FeedLocation
		if packageID == "" {
			packageID = cfg.SmartContractAddress
		}
		return feed.NewSyntheticFeed(packageID, cfg.FirstCheckpoint, o.SyntheticInterval), nil
	default:
		return nil, fmt.Errorf("unknown feed %q: must be one of file, s3, synthetic", o.Feed)
	}
}

// newMonitoringService returns the selected backend and, for prometheus
// without its own listener, the handler the status server mounts on /metrics.
func (o *RunOptions) newMonitoringService(log logger.Logger) (metrics.MonitoringService, http.Handler, error) {
	switch o.Metrics {
	case metricsPrometheus:
		p := prometheus.NewMonitoringService(o.MetricsAddr, log)
		if o.MetricsAddr == "" {
			return p, p.Handler(), nil
		}
		return p, nil, nil
	case metricsCloudWatch:
		return cloudwatch.NewMonitoringServiceWithOptions(o.AWSRegion, nil, log,
			cloudwatch.DEFAULT_CLOUDWATCH_METRICS_BUFFER_DURATION), nil, nil
	case metricsNone:
		return metrics.NoopMonitoringService{}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown metrics backend %q: must be one of prometheus, cloudwatch, none", o.Metrics)
	}
}
