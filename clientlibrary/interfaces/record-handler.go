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
package interfaces

import (
	"context"
)

// IRecordHandler is the extraction function of a lane. One handler instance is
// bound to one lane, one record kind and one table.
//
// Extract must only depend on the checkpoint content: running it twice on the
// same checkpoint yields identical records in the same order. It may be called
// concurrently for different checkpoints. A malformed checkpoint is reported by
// returning an error; the lane policy decides whether to skip or halt.
type IRecordHandler interface {
	// Name is the lane name. It keys the lane watermark and must be stable across restarts.
	Name() string

	Kind() RecordKind

	Extract(ctx context.Context, checkpoint *Checkpoint) ([]Record, error)
}
