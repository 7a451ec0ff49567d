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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmware/vmware-go-indexer/clientlibrary/config"
	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
)

func testConfig() *config.IndexerConfiguration {
	return config.NewIndexerConfig("feed-test", "worker-1").
		WithIdleTimeBetweenReadsInMillis(1).
		WithTaskBackoffTimeMillis(1).
		WithMaxTaskBackoffTimeMillis(4)
}

func checkpoints(from, to uint64) []*interfaces.Checkpoint {
	var out []*interfaces.Checkpoint
	for seq := from; seq <= to; seq++ {
		out = append(out, &interfaces.Checkpoint{SequenceNumber: seq, Digest: syntheticDigest("test", seq)})
	}
	return out
}

// flakyReader fails the first reads of every sequence and can serve a wrong checkpoint.
type flakyReader struct {
	Reader
	mux      sync.Mutex
	failures int
	calls    int
	override map[uint64]*interfaces.Checkpoint
}

func (f *flakyReader) Checkpoint(ctx context.Context, seq uint64) (*interfaces.Checkpoint, error) {
	f.mux.Lock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		f.mux.Unlock()
		return nil, errors.New("connection reset by peer")
	}
	cp, ok := f.override[seq]
	f.mux.Unlock()
	if ok {
		return cp, nil
	}
	return f.Reader.Checkpoint(ctx, seq)
}

func TestStreamDeliversRangeInOrder(t *testing.T) {
	mem := NewMemoryFeed(checkpoints(0, 9)...)
	s := NewStream(mem, 3, 6, testConfig())

	var got []uint64
	for {
		cp, err := s.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, cp.SequenceNumber)
	}
	assert.Equal(t, []uint64{3, 4, 5, 6}, got)

	_, err := s.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestStreamReportsMalformedCheckpointOnce(t *testing.T) {
	dir := t.TempDir()
	for _, cp := range checkpoints(0, 3) {
		require.NoError(t, WriteCheckpoint(dir, cp))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, checkpointFileName(1)), []byte("{not json"), 0o644))

	s := NewStream(NewFileFeed(dir), 0, 3, testConfig())
	ctx := context.Background()

	cp, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cp.SequenceNumber)

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, ErrMalformedCheckpoint)
	assert.Contains(t, err.Error(), "checkpoint 1")
	assert.Equal(t, uint64(2), s.Position())

	var got []uint64
	for {
		cp, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, cp.SequenceNumber)
	}
	assert.Equal(t, []uint64{2, 3}, got)
}

func TestStreamMalformedLastCheckpointEndsRange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, checkpointFileName(5)), []byte("[]"), 0o644))

	s := NewStream(NewFileFeed(dir), 5, 5, testConfig())
	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, ErrMalformedCheckpoint)

	_, err = s.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestStreamEmptyRange(t *testing.T) {
	s := NewStream(NewMemoryFeed(), 5, 4, testConfig())
	_, err := s.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestStreamWaitsForCheckpoint(t *testing.T) {
	mem := NewMemoryFeed(checkpoints(0, 0)...)
	s := NewStream(mem, 0, config.NoLastCheckpoint, testConfig())

	cp, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cp.SequenceNumber)

	go func() {
		time.Sleep(20 * time.Millisecond)
		mem.Put(checkpoints(1, 1)...)
	}()

	cp, err = s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cp.SequenceNumber)
	assert.Equal(t, uint64(2), s.Position())
}

func TestStreamRetriesTransientErrors(t *testing.T) {
	reader := &flakyReader{Reader: NewMemoryFeed(checkpoints(0, 2)...), failures: 3}
	s := NewStream(reader, 0, 2, testConfig())

	cp, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cp.SequenceNumber)
	assert.Equal(t, 4, reader.calls)
}

func TestStreamUnexpectedSequence(t *testing.T) {
	reader := &flakyReader{
		Reader:   NewMemoryFeed(checkpoints(0, 2)...),
		override: map[uint64]*interfaces.Checkpoint{1: {SequenceNumber: 7}},
	}
	s := NewStream(reader, 0, 2, testConfig())

	_, err := s.Next(context.Background())
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	assert.True(t, errors.Is(err, ErrUnexpectedSequence))
}

func TestStreamCancelled(t *testing.T) {
	s := NewStream(NewMemoryFeed(), 0, 10, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Next(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestMemoryFeed(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryFeed()
	_, err := mem.Latest(ctx)
	assert.True(t, errors.Is(err, ErrCheckpointNotFound))

	mem.Put(checkpoints(4, 6)...)
	latest, err := mem.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), latest)

	_, err = mem.Checkpoint(ctx, 3)
	assert.True(t, errors.Is(err, ErrCheckpointNotFound))
}

func TestFileFeed(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f := NewFileFeed(dir)

	_, err := f.Latest(ctx)
	assert.True(t, errors.Is(err, ErrCheckpointNotFound))

	for _, cp := range checkpoints(0, 11) {
		require.NoError(t, WriteCheckpoint(dir, cp))
	}

	latest, err := f.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), latest)

	cp, err := f.Checkpoint(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), cp.SequenceNumber)
	assert.Equal(t, syntheticDigest("test", 10), cp.Digest)

	_, err = f.Checkpoint(ctx, 12)
	assert.True(t, errors.Is(err, ErrCheckpointNotFound))
}

type mockS3 struct {
	s3iface.S3API
	mux     sync.Mutex
	objects map[string][]byte
	heads   int
}

func (m *mockS3) GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	data, ok := m.objects[aws.StringValue(input.Bucket)+"/"+aws.StringValue(input.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) HeadObjectWithContext(ctx aws.Context, input *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.heads++
	if _, ok := m.objects[aws.StringValue(input.Bucket)+"/"+aws.StringValue(input.Key)]; !ok {
		return nil, awserr.New("NotFound", "Not Found", nil)
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *mockS3) put(t *testing.T, key string, cp *interfaces.Checkpoint) {
	data, err := json.Marshal(cp)
	require.NoError(t, err)
	m.mux.Lock()
	defer m.mux.Unlock()
	m.objects[key] = data
}

func TestS3Feed(t *testing.T) {
	ctx := context.Background()
	svc := &mockS3{objects: map[string][]byte{}}
	f := NewS3FeedWithClient(svc, "checkpoints", "/mainnet/")
	f.Start = 100

	_, err := f.Latest(ctx)
	assert.True(t, errors.Is(err, ErrCheckpointNotFound))

	for _, cp := range checkpoints(100, 137) {
		svc.put(t, fmt.Sprintf("checkpoints/mainnet/%d.json", cp.SequenceNumber), cp)
	}

	latest, err := f.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(137), latest)

	for _, cp := range checkpoints(138, 140) {
		svc.put(t, fmt.Sprintf("checkpoints/mainnet/%d.json", cp.SequenceNumber), cp)
	}
	svc.heads = 0
	latest, err = f.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(140), latest)
	assert.Less(t, svc.heads, 8)

	cp, err := f.Checkpoint(ctx, 120)
	require.NoError(t, err)
	assert.Equal(t, syntheticDigest("test", 120), cp.Digest)

	_, err = f.Checkpoint(ctx, 141)
	assert.True(t, errors.Is(err, ErrCheckpointNotFound))

	svc.objects["checkpoints/mainnet/141.json"] = []byte("{not json")
	_, err = f.Checkpoint(ctx, 141)
	assert.ErrorIs(t, err, ErrMalformedCheckpoint)
}

func TestParseS3Location(t *testing.T) {
	bucket, prefix, err := parseS3Location("s3://sui-checkpoints/testnet/v1/")
	require.NoError(t, err)
	assert.Equal(t, "sui-checkpoints", bucket)
	assert.Equal(t, "testnet/v1", prefix)

	_, _, err = parseS3Location("/var/lib/checkpoints")
	assert.Error(t, err)
}

func TestSyntheticFeed(t *testing.T) {
	ctx := context.Background()
	f := NewSyntheticFeed("0xdata", 10, time.Second)
	now := f.created
	f.now = func() time.Time { return now }

	latest, err := f.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), latest)

	_, err = f.Checkpoint(ctx, 11)
	assert.True(t, errors.Is(err, ErrCheckpointNotFound))

	now = now.Add(2500 * time.Millisecond)
	latest, err = f.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), latest)

	cp, err := f.Checkpoint(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, SyntheticCheckpoint("0xdata", 12), cp)
	assert.Len(t, cp.Transactions, 1)
	assert.Equal(t, 1, cp.EventCount())
	assert.NotEqual(t, SyntheticCheckpoint("0xdata", 13).Digest, cp.Digest)
}
