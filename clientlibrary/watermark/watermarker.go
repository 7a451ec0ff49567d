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
	"errors"

	par "github.com/vmware/vmware-go-indexer/clientlibrary/partition"
)

// ErrWatermarkNotFound is returned by FetchWatermark when the lane was never registered.
var ErrWatermarkNotFound = errors.New("WatermarkNotFoundForLane")

// Watermarker tracks the persisted progress of each lane. Advancing the
// watermark is part of the batch commit; it is only read here.
type Watermarker interface {
	// Init prepares the backing store.
	Init(ctx context.Context) error

	// RegisterLane creates the lane watermark at initial unless it already
	// exists, and loads the persisted value into the status.
	RegisterLane(ctx context.Context, lane *par.LaneStatus, initial int64) error

	// FetchWatermark loads the persisted watermark into the status.
	FetchWatermark(ctx context.Context, lane *par.LaneStatus) error

	// ListWatermarks returns the persisted watermark of every registered lane.
	ListWatermarks(ctx context.Context) (map[string]int64, error)
}
