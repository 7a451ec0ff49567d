package models

import "time"

// Watermark is the highest checkpoint a lane has durably committed.
type Watermark struct {
	Lane         string
	CheckpointHi int64
	UpdatedAt    *time.Time
}
