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
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
)

// S3Feed reads checkpoints stored as s3://<bucket>/<prefix>/<sequence>.json.
// The bucket cannot be listed in sequence order, so Latest checks keys with
// HeadObject starting at the last head it found.
type S3Feed struct {
	svc    s3iface.S3API
	bucket string
	prefix string

	// Start is the first sequence number the bucket is expected to hold.
	Start uint64

	mux   sync.Mutex
	head  uint64
	known bool
}

// NewS3Feed creates a feed for a location of the form s3://bucket/prefix. An
// empty endpoint uses the regional AWS endpoint; nil credentials use the default chain.
func NewS3Feed(location, region, endpoint string, creds *credentials.Credentials) (*S3Feed, error) {
	bucket, prefix, err := parseS3Location(location)
	if err != nil {
		return nil, err
	}

	cfg := &aws.Config{Region: aws.String(region)}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	cfg.Credentials = creds
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("create s3 session: %w", err)
	}

	return NewS3FeedWithClient(s3.New(sess), bucket, prefix), nil
}

func NewS3FeedWithClient(svc s3iface.S3API, bucket, prefix string) *S3Feed {
	return &S3Feed{
		svc:    svc,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (f *S3Feed) Checkpoint(ctx context.Context, seq uint64) (*interfaces.Checkpoint, error) {
	out, err := f.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(seq)),
	})
	if isNotFound(err) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %d: %w", seq, err)
	}

	cp := &interfaces.Checkpoint{}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %d: %v: %w", seq, err, ErrMalformedCheckpoint)
	}
	return cp, nil
}

func (f *S3Feed) Latest(ctx context.Context) (uint64, error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	if !f.known {
		ok, err := f.exists(ctx, f.Start)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, ErrCheckpointNotFound
		}
		f.head, f.known = f.Start, true
	}

	// gallop forward from the last known head, then bisect the last step
	lo, step := f.head, uint64(1)
	for {
		ok, err := f.exists(ctx, lo+step)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		lo += step
		step *= 2
	}

	hi := lo + step
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		ok, err := f.exists(ctx, mid)
		if err != nil {
			return 0, err
		}
		if ok {
			lo = mid
		} else {
			hi = mid
		}
	}

	f.head = lo
	return lo, nil
}

func (f *S3Feed) exists(ctx context.Context, seq uint64) (bool, error) {
	_, err := f.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(seq)),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *S3Feed) key(seq uint64) string {
	if f.prefix == "" {
		return checkpointFileName(seq)
	}
	return path.Join(f.prefix, checkpointFileName(seq))
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

func parseS3Location(location string) (bucket, prefix string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 location %q: %w", location, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 location %q: expected s3://bucket/prefix", location)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}
