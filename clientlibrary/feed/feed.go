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
// Package feed reads checkpoints from a source in sequence order.
package feed

import (
	"context"
	"errors"

	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
)

var (
	// ErrCheckpointNotFound is returned when the checkpoint is not available yet.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrUnexpectedSequence is returned when the source delivers a checkpoint
	// other than the one requested.
	ErrUnexpectedSequence = errors.New("unexpected checkpoint sequence")

	// ErrMalformedCheckpoint is returned when a checkpoint exists but cannot be decoded.
	ErrMalformedCheckpoint = errors.New("malformed checkpoint")
)

// Reader gives random access to the checkpoints of a source. Implementations
// must be safe for concurrent use; every lane reads through the same Reader.
type Reader interface {
	// Checkpoint returns ErrCheckpointNotFound when seq has not been produced yet.
	Checkpoint(ctx context.Context, seq uint64) (*interfaces.Checkpoint, error)

	// Latest returns the sequence number of the newest available checkpoint, or
	// ErrCheckpointNotFound when the source is empty.
	Latest(ctx context.Context) (uint64, error)
}
