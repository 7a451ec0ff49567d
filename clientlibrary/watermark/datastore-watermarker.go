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
package watermark

import (
	"context"
	"fmt"

	"github.com/vmware/vmware-go-indexer/clientlibrary/database"
	par "github.com/vmware/vmware-go-indexer/clientlibrary/partition"
	"github.com/vmware/vmware-go-indexer/logger"
)

// DatastoreWatermarker reads lane watermarks from the same store the batches
// are committed to.
type DatastoreWatermarker struct {
	Datastore database.IndexerDatastore
	log       logger.Logger
}

func NewDatastoreWatermarker(store database.IndexerDatastore, log logger.Logger) *DatastoreWatermarker {
	return &DatastoreWatermarker{
		Datastore: store,
		log:       log,
	}
}

func (w *DatastoreWatermarker) Init(ctx context.Context) error {
	w.log.Infof("Creating %s tables", w.Datastore.ServiceName())
	if err := w.Datastore.Init(ctx); err != nil {
		return fmt.Errorf("init %s datastore: %w", w.Datastore.ServiceName(), err)
	}
	return nil
}

func (w *DatastoreWatermarker) RegisterLane(ctx context.Context, lane *par.LaneStatus, initial int64) error {
	wm, err := w.Datastore.RegisterLane(ctx, lane.Name, initial)
	if err != nil {
		w.log.Errorf("Unable to register lane %s: %+v", lane.Name, err)
		return err
	}

	lane.LoadWatermark(wm.CheckpointHi)
	w.log.Debugf("Registered lane %s at watermark %d", lane.Name, wm.CheckpointHi)
	return nil
}

func (w *DatastoreWatermarker) FetchWatermark(ctx context.Context, lane *par.LaneStatus) error {
	wm, err := w.Datastore.GetWatermark(ctx, lane.Name)
	if err != nil {
		w.log.Errorf("Unable to fetch watermark of lane %s: %+v", lane.Name, err)
		return err
	}
	if wm == nil {
		return ErrWatermarkNotFound
	}

	lane.LoadWatermark(wm.CheckpointHi)
	w.log.Debugf("Retrieved watermark %d of lane %s", wm.CheckpointHi, lane.Name)
	return nil
}

func (w *DatastoreWatermarker) ListWatermarks(ctx context.Context) (map[string]int64, error) {
	all, err := w.Datastore.GetWatermarks(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(all))
	for _, wm := range all {
		out[wm.Lane] = wm.CheckpointHi
	}
	return out, nil
}
