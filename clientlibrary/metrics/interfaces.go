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
// The implementation is derived from https://github.com/patrobinson/gokini
//
// Copyright 2018 Patrick robinson
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of this software and associated documentation files (the "Software"), to deal in the Software without restriction, including without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of the Software, and to permit persons to whom the Software is furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
package metrics

// MonitoringService publishes per lane metrics. All methods must be safe for
// concurrent use since every lane reports from its own goroutine.
type MonitoringService interface {
	Init(appName, workerID string) error
	Start() error
	IncrCheckpointsProcessed(lane string, count int)
	IncrRecordsCommitted(lane string, count int64)
	SetWatermark(lane string, watermark int64)
	LaneLag(lane string, checkpoints float64)
	BatchFlushed(lane string, reason string)
	ExtractionSkipped(lane string)
	LaneRetried(lane string)
	LaneUnhealthy(lane string)
	RecordExtractTime(lane string, millis float64)
	RecordCommitTime(lane string, millis float64)
	Shutdown()
}

// NoopMonitoringService implements MonitoringService by does nothing.
type NoopMonitoringService struct{}

func (NoopMonitoringService) Init(appName, workerID string) error { return nil }
func (NoopMonitoringService) Start() error                        { return nil }
func (NoopMonitoringService) Shutdown()                           {}

func (NoopMonitoringService) IncrCheckpointsProcessed(lane string, count int) {}
func (NoopMonitoringService) IncrRecordsCommitted(lane string, count int64)   {}
func (NoopMonitoringService) SetWatermark(lane string, watermark int64)       {}
func (NoopMonitoringService) LaneLag(lane string, checkpoints float64)        {}
func (NoopMonitoringService) BatchFlushed(lane string, reason string)         {}
func (NoopMonitoringService) ExtractionSkipped(lane string)                   {}
func (NoopMonitoringService) LaneRetried(lane string)                         {}
func (NoopMonitoringService) LaneUnhealthy(lane string)                       {}
func (NoopMonitoringService) RecordExtractTime(lane string, millis float64)   {}
func (NoopMonitoringService) RecordCommitTime(lane string, millis float64)    {}
