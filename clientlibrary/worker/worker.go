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
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vmware/vmware-go-indexer/clientlibrary/config"
	"github.com/vmware/vmware-go-indexer/clientlibrary/database"
	"github.com/vmware/vmware-go-indexer/clientlibrary/database/postgres"
	"github.com/vmware/vmware-go-indexer/clientlibrary/database/sqlite"
	"github.com/vmware/vmware-go-indexer/clientlibrary/feed"
	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-indexer/clientlibrary/metrics"
	par "github.com/vmware/vmware-go-indexer/clientlibrary/partition"
	wm "github.com/vmware/vmware-go-indexer/clientlibrary/watermark"
	"github.com/vmware/vmware-go-indexer/logger"
)

// ErrLaneUnknown is returned when a lane name does not match any running lane.
var ErrLaneUnknown = errors.New("unknown lane")

/**
 * Worker is the pipeline supervisor. It registers one lane per enabled record
 * handler, runs every lane in its own goroutine, retries failed lanes with
 * backoff and parks lanes that keep failing until they are restarted.
 */
type Worker struct {
	appName  string
	workerID string

	handlers    []interfaces.IRecordHandler
	cfg         *config.IndexerConfiguration
	reader      feed.Reader
	datastore   database.IndexerDatastore
	ownsStore   bool
	watermarker wm.Watermarker
	mService    metrics.MonitoringService

	pool        *extractionPool
	committer   *batchCommitter
	coordinator *Coordinator

	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup *sync.WaitGroup

	mux      sync.Mutex
	lanes    map[string]*laneRunner
	finished chan struct{}
	started  bool
	done     bool
}

type laneRunner struct {
	status   *par.LaneStatus
	consumer *LaneConsumer
	running  bool
}

// NewWorker constructs a Worker for the given handlers.
func NewWorker(handlers []interfaces.IRecordHandler, cfg *config.IndexerConfiguration) *Worker {
	mService := cfg.MonitoringService
	if mService == nil {
		// Replaces nil with noop monitor service (not emitting any metrics).
		mService = metrics.NoopMonitoringService{}
	}

	return &Worker{
		appName:  cfg.ApplicationName,
		workerID: cfg.WorkerID,
		handlers: handlers,
		cfg:      cfg,
		mService: mService,
	}
}

// WithFeed sets the checkpoint source. It is required.
func (w *Worker) WithFeed(reader feed.Reader) *Worker {
	w.reader = reader
	return w
}

// WithDatastore is used to provide an already opened datastore, for embedding or
// unit testing. Without it the worker opens the configured store and closes it on shutdown.
func (w *Worker) WithDatastore(store database.IndexerDatastore) *Worker {
	w.datastore = store
	return w
}

// WithWatermarker replaces the datastore backed watermark tracker.
func (w *Worker) WithWatermarker(watermarker wm.Watermarker) *Worker {
	w.watermarker = watermarker
	return w
}

// Start initializes the store and the lanes and starts consuming. Errors are
// configuration or startup errors; no lane runs when Start fails.
func (w *Worker) Start() error {
	log := w.cfg.Logger
	if err := w.initialize(); err != nil {
		log.Errorf("Failed to initialize Worker: %+v", err)
		w.release()
		return err
	}

	// Start monitoring service
	log.Infof("Starting monitoring service.")
	if err := w.mService.Start(); err != nil {
		log.Errorf("Failed to start monitoring service: %+v", err)
		w.release()
		return err
	}

	// lanes start with a known head so the first batches see the lag
	w.coordinator.Refresh(w.ctx)
	w.waitGroup.Add(1)
	go func() {
		defer w.waitGroup.Done()
		w.coordinator.Run(w.ctx)
	}()

	w.mux.Lock()
	defer w.mux.Unlock()
	for _, name := range w.laneNames() {
		w.launch(w.lanes[name])
	}
	w.started = true
	log.Infof("Worker %s started %d lanes.", w.workerID, len(w.lanes))
	return nil
}

// Run starts the worker and blocks until ctx is cancelled or every lane
// committed the last checkpoint of the range, then shuts down.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-w.finished:
		w.cfg.Logger.Infof("All lanes finished the checkpoint range.")
	}
	w.Shutdown()
	return nil
}

// Finished is closed once every lane committed the last checkpoint of the
// range. It is nil before Start.
func (w *Worker) Finished() <-chan struct{} {
	return w.finished
}

// Shutdown stops intake on every lane, lets each lane commit its buffered
// checkpoints within the shutdown grace and waits for the lanes to exit.
func (w *Worker) Shutdown() {
	log := w.cfg.Logger
	log.Infof("Worker shutdown is requested.")

	w.mux.Lock()
	if w.done || !w.started {
		w.mux.Unlock()
		return
	}
	w.done = true
	w.mux.Unlock()

	w.cancel()
	w.waitGroup.Wait()
	w.pool.Wait()

	for _, s := range w.LaneStatuses() {
		log.Infof("Lane %s stopped at watermark %d (%s)", s.Name, s.Watermark, s.State)
	}

	w.mService.Shutdown()
	w.release()
	log.Infof("Worker loop is complete. Exiting from worker.")
}

// LaneStatuses returns a snapshot of every lane, ordered by name.
func (w *Worker) LaneStatuses() []par.LaneSnapshot {
	w.mux.Lock()
	defer w.mux.Unlock()

	out := make([]par.LaneSnapshot, 0, len(w.lanes))
	for _, name := range w.laneNames() {
		out = append(out, w.lanes[name].status.Snapshot())
	}
	return out
}

// RestartLane reschedules a lane that was marked UNHEALTHY.
func (w *Worker) RestartLane(name string) error {
	w.mux.Lock()
	defer w.mux.Unlock()

	lr, ok := w.lanes[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrLaneUnknown)
	}
	if w.done || !w.started {
		return fmt.Errorf("lane %s: worker is not running", name)
	}
	if state := lr.status.GetState(); state != par.UNHEALTHY || lr.running {
		return fmt.Errorf("lane %s is %s, only UNHEALTHY lanes can be restarted", name, state)
	}

	w.cfg.Logger.Infof("Restarting lane %s", name)
	lr.status.ResetAttempts()
	w.launch(lr)
	return nil
}

func (w *Worker) initialize() error {
	log := w.cfg.Logger
	log.Infof("Worker initialization in progress...")

	if err := w.cfg.Validate(); err != nil {
		return err
	}
	if w.reader == nil {
		return errors.New("no checkpoint feed configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.ctx, w.cancel = ctx, cancel

	if w.datastore == nil {
		log.Infof("Opening %s datastore", w.cfg.StoreDriver)
		store, err := OpenDatastore(ctx, w.cfg)
		if err != nil {
			return err
		}
		w.datastore = store
		w.ownsStore = true
	} else {
		log.Infof("Use custom %s datastore.", w.datastore.ServiceName())
	}

	if w.watermarker == nil {
		w.watermarker = wm.NewDatastoreWatermarker(w.datastore, log)
	}

	if err := w.mService.Init(w.appName, w.workerID); err != nil {
		log.Errorf("Failed to init monitoring service: %+v", err)
		return err
	}

	log.Infof("Initializing watermark tracker")
	if err := w.watermarker.Init(ctx); err != nil {
		return err
	}

	w.pool = newExtractionPool(w.cfg.ExtractionWorkers,
		time.Duration(w.cfg.ExtractionTimeoutMillis)*time.Millisecond, w.mService)
	w.committer = newBatchCommitter(w.datastore, w.cfg)
	w.coordinator = NewCoordinator(w.reader, w.cfg, w.mService)
	w.waitGroup = &sync.WaitGroup{}
	w.finished = make(chan struct{})
	w.lanes = make(map[string]*laneRunner)

	for _, h := range w.handlers {
		settings := w.cfg.Lane(h.Name())
		if settings.Disabled {
			log.Infof("Lane %s is disabled", h.Name())
			continue
		}
		if _, dup := w.lanes[h.Name()]; dup {
			return fmt.Errorf("duplicate lane %s", h.Name())
		}

		status := par.NewLaneStatus(h.Name(), w.cfg.InitialWatermark())
		if err := w.watermarker.RegisterLane(ctx, status, w.cfg.InitialWatermark()); err != nil {
			return fmt.Errorf("register lane %s: %w", h.Name(), err)
		}
		w.coordinator.Track(status)
		w.lanes[h.Name()] = &laneRunner{
			status:   status,
			consumer: w.newLaneConsumer(h, status, settings),
		}
		log.Infof("Registered lane %s (%s) at watermark %d", h.Name(), settings.Policy, status.GetWatermark())
	}

	if len(w.lanes) == 0 {
		return errors.New("no lane is enabled")
	}

	log.Infof("Initialization complete.")
	return nil
}

func (w *Worker) newLaneConsumer(h interfaces.IRecordHandler, status *par.LaneStatus, settings config.LaneConfiguration) *LaneConsumer {
	return &LaneConsumer{
		handler:     h,
		lane:        status,
		settings:    settings,
		cfg:         w.cfg,
		reader:      w.reader,
		pool:        w.pool,
		committer:   w.committer,
		coordinator: w.coordinator,
		watermarker: w.watermarker,
		mService:    w.mService,
		log:         w.cfg.Logger.WithFields(logger.Fields{"lane": h.Name()}),
	}
}

// launch starts the lane goroutine. Callers hold w.mux.
func (w *Worker) launch(lr *laneRunner) {
	lr.running = true
	w.waitGroup.Add(1)
	go func() {
		defer w.waitGroup.Done()
		w.superviseLane(lr)

		w.mux.Lock()
		defer w.mux.Unlock()
		lr.running = false
		w.checkFinished()
	}()
}

// superviseLane runs the lane until it finishes, is stopped or becomes unhealthy.
func (w *Worker) superviseLane(lr *laneRunner) {
	status := lr.status
	settings := lr.consumer.settings
	log := lr.consumer.log

	for {
		status.SetState(par.RUNNING)
		err := lr.consumer.run(w.ctx)

		if w.ctx.Err() != nil {
			status.SetState(par.STOPPED)
			return
		}
		if err == nil {
			log.Infof("Lane %s finished at watermark %d", status.Name, status.GetWatermark())
			status.SetState(par.FINISHED)
			return
		}

		if lr.consumer.progressed {
			status.ResetAttempts()
		}
		attempts := status.RecordFailure(err)
		if attempts >= settings.MaxAttempts {
			log.Errorf("Lane %s failed %d consecutive times and is marked unhealthy: %+v", status.Name, attempts, err)
			status.SetState(par.UNHEALTHY)
			w.mService.LaneUnhealthy(status.Name)
			return
		}

		backoff := w.laneBackoff(settings, attempts)
		log.Warnf("Lane %s failed (attempt %d/%d), retrying in %s: %+v", status.Name, attempts, settings.MaxAttempts, backoff, err)
		status.SetState(par.BACKOFF)
		w.mService.LaneRetried(status.Name)
		if sleep(w.ctx, backoff) != nil {
			status.SetState(par.STOPPED)
			return
		}
	}
}

// laneBackoff doubles the lane backoff per consecutive failure, up to MaxTaskBackoffTimeMillis.
func (w *Worker) laneBackoff(settings config.LaneConfiguration, attempts int) time.Duration {
	limit := time.Duration(w.cfg.MaxTaskBackoffTimeMillis) * time.Millisecond
	backoff := time.Duration(settings.BackoffMillis) * time.Millisecond
	for i := 1; i < attempts && backoff < limit; i++ {
		backoff *= 2
	}
	if backoff > limit {
		backoff = limit
	}
	return backoff
}

// checkFinished closes finished once every lane committed the whole range. Callers hold w.mux.
func (w *Worker) checkFinished() {
	for _, lr := range w.lanes {
		if lr.running || lr.status.GetState() != par.FINISHED {
			return
		}
	}
	select {
	case <-w.finished:
	default:
		close(w.finished)
	}
}

func (w *Worker) laneNames() []string {
	names := make([]string, 0, len(w.lanes))
	for name := range w.lanes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// release closes the datastore when the worker opened it.
func (w *Worker) release() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.ownsStore && w.datastore != nil {
		if err := w.datastore.Close(); err != nil {
			w.cfg.Logger.Errorf("Failed to close datastore: %+v", err)
		}
		w.datastore = nil
		w.ownsStore = false
	}
}

// OpenDatastore opens the store selected by cfg.StoreDriver.
func OpenDatastore(ctx context.Context, cfg *config.IndexerConfiguration) (database.IndexerDatastore, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		return postgres.Open(ctx, cfg.StoreConnection, cfg.MaxStoreConnections, cfg.Logger)
	case config.StoreDriverSQLite:
		return sqlite.Open(cfg.StoreConnection, cfg.Logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
