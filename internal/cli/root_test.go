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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmware/vmware-go-indexer/clientlibrary/config"
	"github.com/vmware/vmware-go-indexer/clientlibrary/feed"
	"github.com/vmware/vmware-go-indexer/clientlibrary/handlers"
	"github.com/vmware/vmware-go-indexer/clientlibrary/metrics"
)

const testPackage = "0x5eed"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRunIngestsRangeAndPrintsWatermarks(t *testing.T) {
	dir := t.TempDir()
	feedDir := filepath.Join(dir, "checkpoints")
	require.NoError(t, os.MkdirAll(feedDir, 0o755))
	for seq := uint64(0); seq <= 9; seq++ {
		require.NoError(t, feed.WriteCheckpoint(feedDir, feed.SyntheticCheckpoint(testPackage, seq)))
	}
	store := filepath.Join(dir, "indexer.db")

	_, err := execute(t, "run",
		"--store-driver", "sqlite", "--store", store,
		"--feed", "file", "--feed-location", feedDir,
		"--last-checkpoint", "9",
		"--metrics", "none", "--status-addr", "",
		"--log-level", "warn")
	require.NoError(t, err)

	out, err := execute(t, "watermarks", "--json", "--store-driver", "sqlite", "--store", store, "--log-level", "warn")
	require.NoError(t, err)

	var rows []struct {
		Lane       string `json:"lane"`
		Checkpoint int64  `json:"checkpoint"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	got := map[string]int64{}
	for _, r := range rows {
		got[r.Lane] = r.Checkpoint
	}
	assert.Equal(t, map[string]int64{
		handlers.TransactionDigestLane:   9,
		handlers.DataPodEventLane:        9,
		handlers.SmartContractObjectLane: 9,
		handlers.CheckpointSummaryLane:   9,
	}, got)
}

func TestWatermarksTable(t *testing.T) {
	store := filepath.Join(t.TempDir(), "indexer.db")
	out, err := execute(t, "watermarks", "--store-driver", "sqlite", "--store", store, "--log-level", "warn")
	require.NoError(t, err)
	assert.Contains(t, out, "LANE")
	assert.Contains(t, out, "CHECKPOINT")
}

func TestRunRejectsBadFlags(t *testing.T) {
	store := filepath.Join(t.TempDir(), "indexer.db")

	_, err := execute(t, "run", "--store-driver", "sqlite", "--store", store, "--feed", "kafka", "--metrics", "none")
	assert.ErrorContains(t, err, "unknown feed")

	_, err = execute(t, "run", "--store-driver", "sqlite", "--store", store, "--feed", "file", "--metrics", "none")
	assert.ErrorContains(t, err, "--feed-location")

	_, err = execute(t, "run", "--store-driver", "sqlite", "--store", store, "--feed", "file",
		"--feed-location", t.TempDir(), "--metrics", "statsd")
	assert.ErrorContains(t, err, "unknown metrics backend")

	_, err = execute(t, "run", "--log-backend", "glog")
	assert.ErrorContains(t, err, "invalid log backend")

	_, err = execute(t, "run", "--store-driver", "oracle", "--store", store, "--feed", "file",
		"--feed-location", t.TempDir(), "--metrics", "none", "--status-addr", "")
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestConfigLayering(t *testing.T) {
	file := filepath.Join(t.TempDir(), "indexer.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
store_driver: sqlite
store_connection: /from/file.db
batch_record_limit: 10
lag_bound: 3
`), 0o644))
	t.Setenv("INDEXER_BATCH_RECORD_LIMIT", "20")
	t.Setenv("INDEXER_LAG_BOUND", "")
	t.Setenv("INDEXER_STORE_DRIVER", "")

	rootOpts := &RootOptions{LogBackend: "logrus", LogLevel: "error", ConfigFile: file}
	opts := &RunOptions{RootOptions: rootOpts}
	cmd := newRunCommand(opts)
	cmd.Flags().StringVar(&rootOpts.StoreConnection, "store", "", "")
	require.NoError(t, cmd.ParseFlags([]string{"--store", "/from/flag.db", "--lag-bound", "7"}))

	cfg, err := rootOpts.loadConfig(cmd)
	require.NoError(t, err)
	opts.applyFlags(cmd, cfg)

	assert.Equal(t, config.StoreDriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "/from/flag.db", cfg.StoreConnection)
	assert.Equal(t, 20, cfg.BatchRecordLimit)
	assert.Equal(t, uint64(7), cfg.LagBound)
	assert.Equal(t, uint64(config.DefaultFirstCheckpoint), cfg.FirstCheckpoint)
	assert.Equal(t, config.NoLastCheckpoint, cfg.LastCheckpoint)
}

func TestLoggerBackends(t *testing.T) {
	for _, backend := range []string{"logrus", "zap", "zerolog"} {
		opts := &RootOptions{LogBackend: backend, LogLevel: "error"}
		log := opts.newLogger()
		require.NotNil(t, log, backend)
		log.WithFields(map[string]interface{}{"lane": "a"}).Debugf("not printed")
	}
}

func TestMonitoringServiceSelection(t *testing.T) {
	opts := &RunOptions{RootOptions: &RootOptions{}, Metrics: metricsNone}
	mService, handler, err := opts.newMonitoringService(nil)
	require.NoError(t, err)
	assert.Equal(t, metrics.NoopMonitoringService{}, mService)
	assert.Nil(t, handler)
}
