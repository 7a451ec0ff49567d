package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vmware/vmware-go-indexer/clientlibrary/database/models"
	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
)

var (
	// ErrWatermarkGap is returned when a batch does not start right after the lane watermark.
	ErrWatermarkGap = errors.New("batch does not continue the lane watermark")

	// ErrLaneNotRegistered is returned when committing for a lane without a watermark row.
	ErrLaneNotRegistered = errors.New("lane is not registered")
)

type Datastore interface {
	ServiceName() string
	GetDBStats() sql.DBStats
	PingContext(context.Context) error
	Close() error
}

// IndexerDatastore persists lane records and watermarks. One implementation
// is shared by every lane; it must be safe for concurrent use.
type IndexerDatastore interface {
	Datastore

	// Init creates the record and watermark tables if they do not exist.
	Init(ctx context.Context) error

	// RegisterLane creates the lane watermark with the initial value unless it
	// already exists, and returns the persisted watermark.
	RegisterLane(ctx context.Context, lane string, initial int64) (*models.Watermark, error)

	// GetWatermark returns nil when the lane has never been registered.
	GetWatermark(ctx context.Context, lane string) (*models.Watermark, error)

	GetWatermarks(ctx context.Context) ([]*models.Watermark, error)

	// CommitBatch upserts the batch records and advances the lane watermark to
	// batch.High in one transaction. It returns the number of rows affected, 0 for
	// a batch already covered by the watermark.
	CommitBatch(ctx context.Context, batch *interfaces.Batch) (int64, error)

	// IsRetryable reports whether err is a transient infrastructure failure.
	IsRetryable(err error) bool
}
