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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
)

const checkpointFileSuffix = ".json"

// FileFeed reads checkpoints stored as <dir>/<sequence>.json.
type FileFeed struct {
	dir string
}

func NewFileFeed(dir string) *FileFeed {
	return &FileFeed{dir: dir}
}

func (f *FileFeed) Checkpoint(ctx context.Context, seq uint64) (*interfaces.Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, checkpointFileName(seq)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, err
	}

	cp := &interfaces.Checkpoint{}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %d: %v: %w", seq, err, ErrMalformedCheckpoint)
	}
	return cp, nil
}

func (f *FileFeed) Latest(ctx context.Context) (uint64, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, err
	}

	var (
		latest uint64
		found  bool
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), checkpointFileSuffix) {
			continue
		}
		seq, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), checkpointFileSuffix), 10, 64)
		if err != nil {
			continue
		}
		if !found || seq > latest {
			latest, found = seq, true
		}
	}
	if !found {
		return 0, ErrCheckpointNotFound
	}
	return latest, nil
}

// WriteCheckpoint stores cp in dir in the layout FileFeed reads. The file is
// renamed into place so readers never see a partial checkpoint.
func WriteCheckpoint(dir string, cp *interfaces.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}

	name := filepath.Join(dir, checkpointFileName(cp.SequenceNumber))
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, name)
}

func checkpointFileName(seq uint64) string {
	return strconv.FormatUint(seq, 10) + checkpointFileSuffix
}
