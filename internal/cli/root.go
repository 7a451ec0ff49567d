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
// Package cli implements the indexer command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vmware/vmware-go-indexer/clientlibrary/config"
	"github.com/vmware/vmware-go-indexer/logger"
	"github.com/vmware/vmware-go-indexer/logger/zap"
	"github.com/vmware/vmware-go-indexer/logger/zerolog"
)

const appName = "vmware-go-indexer"

// RootOptions holds the flags shared by every command.
type RootOptions struct {
	ConfigFile string
	WorkerID   string
	LogBackend string
	LogLevel   string
	LogJSON    bool
	LogFile    string

	StoreDriver     string
	StoreConnection string
}

// NewRootCommand creates the indexer command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "indexer",
		Short: "Checkpoint ingestion pipeline",
		Long: `Reads ledger checkpoints in order, extracts typed records per lane and
commits them to the store together with a per lane watermark.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.LogBackend {
			case "logrus", "zap", "zerolog":
				return nil
			default:
				return fmt.Errorf("invalid log backend %q: must be one of logrus, zap, zerolog", opts.LogBackend)
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "YAML configuration file")
	flags.StringVar(&opts.WorkerID, "worker-id", "", "worker id used in logs and metrics (default: random uuid)")
	flags.StringVar(&opts.LogBackend, "log-backend", "logrus", "logging backend (logrus|zap|zerolog)")
	flags.StringVar(&opts.LogLevel, "log-level", logger.Info, "log level (debug|info|warn|error)")
	flags.BoolVar(&opts.LogJSON, "log-json", false, "log in JSON")
	flags.StringVar(&opts.LogFile, "log-file", "", "also log to this file, rotated")
	flags.StringVar(&opts.StoreDriver, "store-driver", "", "store driver (postgres|sqlite)")
	flags.StringVar(&opts.StoreConnection, "store", "", "store connection string or sqlite path")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewWatermarksCommand(opts))

	return cmd
}

// newLogger builds the logger selected by the root flags.
func (o *RootOptions) newLogger() logger.Logger {
	cfg := logger.Configuration{
		EnableConsole:     true,
		ConsoleJSONFormat: o.LogJSON,
		ConsoleLevel:      o.LogLevel,
		EnableFile:        o.LogFile != "",
		FileJSONFormat:    true,
		FileLevel:         o.LogLevel,
		Filename:          o.LogFile,
		LocalTime:         true,
	}

	switch o.LogBackend {
	case "zap":
		return zap.NewZapLoggerWithConfig(cfg)
	case "zerolog":
		return zerolog.NewZerologLoggerWithConfig(cfg)
	default:
		return logger.NewLogrusLoggerWithConfig(cfg)
	}
}

// loadConfig layers the configuration file, the environment and the store flags.
func (o *RootOptions) loadConfig(cmd *cobra.Command) (*config.IndexerConfiguration, error) {
	cfg := config.NewIndexerConfig(appName, o.WorkerID).WithLogger(o.newLogger())

	if o.ConfigFile != "" {
		if err := config.LoadFile(o.ConfigFile, cfg); err != nil {
			return nil, err
		}
	}
	if err := config.ApplyEnvironment(cfg); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("store-driver") {
		cfg.StoreDriver = o.StoreDriver
	}
	if flags.Changed("store") {
		cfg.StoreConnection = o.StoreConnection
	}
	return cfg, nil
}
