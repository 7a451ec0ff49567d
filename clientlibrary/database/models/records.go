package models

import (
	"encoding/json"
	"strconv"

	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
)

// StoredTransactionDigest maps to the transaction_digests table.
type StoredTransactionDigest struct {
	TxDigest                 string
	CheckpointSequenceNumber uint64
}

func (r *StoredTransactionDigest) Kind() interfaces.RecordKind {
	return interfaces.TRANSACTION_DIGEST
}

func (r *StoredTransactionDigest) NaturalKey() string {
	return r.TxDigest
}

func (r *StoredTransactionDigest) MergePolicy() interfaces.MergePolicy {
	return interfaces.APPEND_ONLY
}

func (r *StoredTransactionDigest) Version() uint64 {
	return 0
}

func (r *StoredTransactionDigest) Values() []interface{} {
	return []interface{}{
		r.TxDigest,
		int64(r.CheckpointSequenceNumber),
	}
}

// StoredDataPodEvent maps to the datapod_events table. Optional payload fields
// are nil when the event type does not carry them.
type StoredDataPodEvent struct {
	TransactionDigest        string
	EventIndex               int64
	EventType                string
	DataPodID                *string
	Seller                   *string
	Title                    *string
	Category                 *string
	PriceSui                 *int64
	KioskID                  *string
	OldPrice                 *int64
	NewPrice                 *int64
	CheckpointSequenceNumber uint64
	TimestampMs              int64
}

func (r *StoredDataPodEvent) Kind() interfaces.RecordKind {
	return interfaces.DATAPOD_EVENT
}

func (r *StoredDataPodEvent) NaturalKey() string {
	return r.TransactionDigest + ":" + strconv.FormatInt(r.EventIndex, 10)
}

func (r *StoredDataPodEvent) MergePolicy() interfaces.MergePolicy {
	return interfaces.APPEND_ONLY
}

func (r *StoredDataPodEvent) Version() uint64 {
	return 0
}

func (r *StoredDataPodEvent) Values() []interface{} {
	return []interface{}{
		r.TransactionDigest,
		r.EventIndex,
		r.EventType,
		nullString(r.DataPodID),
		nullString(r.Seller),
		nullString(r.Title),
		nullString(r.Category),
		nullInt64(r.PriceSui),
		nullString(r.KioskID),
		nullInt64(r.OldPrice),
		nullInt64(r.NewPrice),
		int64(r.CheckpointSequenceNumber),
		r.TimestampMs,
	}
}

// StoredSmartContractObject maps to the smart_contract_objects table.
type StoredSmartContractObject struct {
	ObjectID                 string
	ObjectType               string
	Owner                    string
	ObjectVersion            uint64
	Digest                   string
	ContentType              string
	Data                     json.RawMessage
	CheckpointSequenceNumber uint64
	TransactionDigest        string
}

func (r *StoredSmartContractObject) Kind() interfaces.RecordKind {
	return interfaces.SMART_CONTRACT_OBJECT
}

func (r *StoredSmartContractObject) NaturalKey() string {
	return r.ObjectID
}

func (r *StoredSmartContractObject) MergePolicy() interfaces.MergePolicy {
	return interfaces.VERSIONED_MERGE
}

func (r *StoredSmartContractObject) Version() uint64 {
	return r.ObjectVersion
}

func (r *StoredSmartContractObject) Values() []interface{} {
	var data interface{}
	if len(r.Data) > 0 {
		data = string(r.Data)
	}
	return []interface{}{
		r.ObjectID,
		r.ObjectType,
		r.Owner,
		int64(r.ObjectVersion),
		r.Digest,
		r.ContentType,
		data,
		int64(r.CheckpointSequenceNumber),
		r.TransactionDigest,
	}
}

// StoredCheckpointSummary maps to the checkpoint_summaries table.
type StoredCheckpointSummary struct {
	SequenceNumber   uint64
	Digest           string
	TimestampMs      int64
	TransactionCount int64
	EventCount       int64
}

func (r *StoredCheckpointSummary) Kind() interfaces.RecordKind {
	return interfaces.CHECKPOINT_SUMMARY
}

func (r *StoredCheckpointSummary) NaturalKey() string {
	return strconv.FormatUint(r.SequenceNumber, 10)
}

func (r *StoredCheckpointSummary) MergePolicy() interfaces.MergePolicy {
	return interfaces.REPLACE_ON_CONFLICT
}

func (r *StoredCheckpointSummary) Version() uint64 {
	return 0
}

func (r *StoredCheckpointSummary) Values() []interface{} {
	return []interface{}{
		int64(r.SequenceNumber),
		r.Digest,
		r.TimestampMs,
		r.TransactionCount,
		r.EventCount,
	}
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt64(n *int64) interface{} {
	if n == nil {
		return nil
	}
	return *n
}
