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
package partition

import (
	"sync"
	"time"
)

// LaneState is the supervisor view of a lane.
type LaneState int

const (
	// STARTING lane is registering its watermark.
	STARTING LaneState = iota + 1

	// RUNNING lane is consuming checkpoints.
	RUNNING

	// BACKOFF lane failed and waits before its next attempt.
	BACKOFF

	// UNHEALTHY lane exhausted its attempts and is not rescheduled until restarted.
	UNHEALTHY

	// FINISHED lane committed the last checkpoint of the configured range.
	FINISHED

	// STOPPED lane was shut down.
	STOPPED
)

var laneStateStrings = map[LaneState]string{
	STARTING:  "STARTING",
	RUNNING:   "RUNNING",
	BACKOFF:   "BACKOFF",
	UNHEALTHY: "UNHEALTHY",
	FINISHED:  "FINISHED",
	STOPPED:   "STOPPED",
}

func (s LaneState) String() string {
	if str, ok := laneStateStrings[s]; ok {
		return str
	}
	return "UNKNOWN"
}

// MarshalText lets the state render as its name in JSON.
func (s LaneState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// LaneStatus is the shared, mutable status of one lane.
type LaneStatus struct {
	Name string
	Mux  *sync.RWMutex

	// Watermark is the highest committed checkpoint, -1 when nothing is committed.
	Watermark int64
	State     LaneState
	// Attempts counts consecutive failed runs.
	Attempts  int
	LastError string
	UpdatedAt time.Time
}

// LaneSnapshot is a point-in-time copy of a LaneStatus.
type LaneSnapshot struct {
	Name      string    `json:"name"`
	Watermark int64     `json:"watermark"`
	State     LaneState `json:"state"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewLaneStatus(name string, watermark int64) *LaneStatus {
	return &LaneStatus{
		Name:      name,
		Mux:       &sync.RWMutex{},
		Watermark: watermark,
		State:     STARTING,
		UpdatedAt: time.Now().UTC(),
	}
}

func (ls *LaneStatus) GetWatermark() int64 {
	ls.Mux.RLock()
	defer ls.Mux.RUnlock()
	return ls.Watermark
}

// SetWatermark only moves the watermark forward.
func (ls *LaneStatus) SetWatermark(w int64) {
	ls.Mux.Lock()
	defer ls.Mux.Unlock()
	if w > ls.Watermark {
		ls.Watermark = w
		ls.UpdatedAt = time.Now().UTC()
	}
}

// LoadWatermark replaces the watermark with the persisted value.
func (ls *LaneStatus) LoadWatermark(w int64) {
	ls.Mux.Lock()
	defer ls.Mux.Unlock()
	ls.Watermark = w
	ls.UpdatedAt = time.Now().UTC()
}

func (ls *LaneStatus) GetState() LaneState {
	ls.Mux.RLock()
	defer ls.Mux.RUnlock()
	return ls.State
}

func (ls *LaneStatus) SetState(s LaneState) {
	ls.Mux.Lock()
	defer ls.Mux.Unlock()
	ls.State = s
	ls.UpdatedAt = time.Now().UTC()
}

// RecordFailure bumps the attempt counter and returns its new value.
func (ls *LaneStatus) RecordFailure(err error) int {
	ls.Mux.Lock()
	defer ls.Mux.Unlock()
	ls.Attempts++
	if err != nil {
		ls.LastError = err.Error()
	}
	ls.UpdatedAt = time.Now().UTC()
	return ls.Attempts
}

// ResetAttempts clears the failure streak. The last error is kept for operators.
func (ls *LaneStatus) ResetAttempts() {
	ls.Mux.Lock()
	defer ls.Mux.Unlock()
	ls.Attempts = 0
}

func (ls *LaneStatus) GetAttempts() int {
	ls.Mux.RLock()
	defer ls.Mux.RUnlock()
	return ls.Attempts
}

func (ls *LaneStatus) Snapshot() LaneSnapshot {
	ls.Mux.RLock()
	defer ls.Mux.RUnlock()
	return LaneSnapshot{
		Name:      ls.Name,
		Watermark: ls.Watermark,
		State:     ls.State,
		Attempts:  ls.Attempts,
		LastError: ls.LastError,
		UpdatedAt: ls.UpdatedAt,
	}
}
