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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmware/vmware-go-indexer/clientlibrary/database/models"
	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
)

func digestRecords(seq uint64, n int) []interfaces.Record {
	out := make([]interfaces.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &models.StoredTransactionDigest{TxDigest: "d", CheckpointSequenceNumber: seq})
	}
	return out
}

func TestAccumulatorTracksRange(t *testing.T) {
	acc := NewAccumulator("digests", 5, 100, 100)
	assert.True(t, acc.Empty())
	_, ok := acc.High()
	assert.False(t, ok)

	require.NoError(t, acc.Append(5, digestRecords(5, 2)))
	require.NoError(t, acc.Append(6, nil))
	require.NoError(t, acc.Append(7, digestRecords(7, 1)))

	high, ok := acc.High()
	assert.True(t, ok)
	assert.Equal(t, uint64(7), high)

	batch := acc.Take()
	assert.Equal(t, "digests", batch.Lane)
	assert.Equal(t, uint64(5), batch.Low)
	assert.Equal(t, uint64(7), batch.High)
	assert.Equal(t, 3, batch.Checkpoints)
	assert.Equal(t, 3, batch.Len())
	assert.True(t, acc.Empty())
	assert.Equal(t, uint64(8), acc.Next())

	require.NoError(t, acc.Append(8, nil))
	assert.Equal(t, uint64(8), acc.Take().Low)
}

func TestAccumulatorRejectsOutOfOrder(t *testing.T) {
	acc := NewAccumulator("digests", 0, 100, 100)
	require.NoError(t, acc.Append(0, nil))

	assert.True(t, errors.Is(acc.Append(2, nil), ErrOutOfOrder))
	assert.True(t, errors.Is(acc.Append(0, nil), ErrOutOfOrder))
	assert.Equal(t, uint64(1), acc.Next())
}

func TestAccumulatorLimits(t *testing.T) {
	acc := NewAccumulator("digests", 0, 4, 3)
	require.NoError(t, acc.Append(0, digestRecords(0, 1)))
	_, full := acc.Full()
	assert.False(t, full)

	require.NoError(t, acc.Append(1, digestRecords(1, 3)))
	reason, full := acc.Full()
	assert.True(t, full)
	assert.Equal(t, RECORD_LIMIT, reason)

	acc.Take()
	for seq := uint64(2); seq < 5; seq++ {
		require.NoError(t, acc.Append(seq, nil))
	}
	reason, full = acc.Full()
	assert.True(t, full)
	assert.Equal(t, CHECKPOINT_LIMIT, reason)
	assert.Equal(t, "checkpoint_limit", reason.String())
}
