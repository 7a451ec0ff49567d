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
package feed

import (
	"context"
	"sync"

	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
)

// MemoryFeed keeps checkpoints in memory. It backs tests and embedders that
// receive checkpoints from elsewhere.
type MemoryFeed struct {
	mux         sync.RWMutex
	checkpoints map[uint64]*interfaces.Checkpoint
	latest      uint64
	empty       bool
}

func NewMemoryFeed(checkpoints ...*interfaces.Checkpoint) *MemoryFeed {
	f := &MemoryFeed{
		checkpoints: map[uint64]*interfaces.Checkpoint{},
		empty:       true,
	}
	f.Put(checkpoints...)
	return f
}

// Put publishes checkpoints. A checkpoint put again replaces the previous one.
func (f *MemoryFeed) Put(checkpoints ...*interfaces.Checkpoint) {
	f.mux.Lock()
	defer f.mux.Unlock()
	for _, cp := range checkpoints {
		f.checkpoints[cp.SequenceNumber] = cp
		if f.empty || cp.SequenceNumber > f.latest {
			f.latest = cp.SequenceNumber
			f.empty = false
		}
	}
}

func (f *MemoryFeed) Checkpoint(ctx context.Context, seq uint64) (*interfaces.Checkpoint, error) {
	f.mux.RLock()
	defer f.mux.RUnlock()
	cp, ok := f.checkpoints[seq]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return cp, nil
}

func (f *MemoryFeed) Latest(ctx context.Context) (uint64, error) {
	f.mux.RLock()
	defer f.mux.RUnlock()
	if f.empty {
		return 0, ErrCheckpointNotFound
	}
	return f.latest, nil
}
