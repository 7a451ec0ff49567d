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
package schema

import (
	"fmt"

	"github.com/vmware/vmware-go-indexer/clientlibrary/interfaces"
)

var TransactionDigests = &Table{
	Name: "transaction_digests",
	Kind: interfaces.TRANSACTION_DIGEST,
	Columns: []Column{
		{Name: "tx_digest", Type: Text},
		{Name: "checkpoint_sequence_number", Type: BigInt},
	},
	KeyColumns: []string{"tx_digest"},
	Policy:     interfaces.APPEND_ONLY,
	Indexes: [][]string{
		{"checkpoint_sequence_number"},
	},
}

var DataPodEvents = &Table{
	Name: "datapod_events",
	Kind: interfaces.DATAPOD_EVENT,
	Columns: []Column{
		{Name: "transaction_digest", Type: Text},
		{Name: "event_index", Type: BigInt},
		{Name: "event_type", Type: Text},
		{Name: "datapod_id", Type: Text, Nullable: true},
		{Name: "seller", Type: Text, Nullable: true},
		{Name: "title", Type: Text, Nullable: true},
		{Name: "category", Type: Text, Nullable: true},
		{Name: "price_sui", Type: BigInt, Nullable: true},
		{Name: "kiosk_id", Type: Text, Nullable: true},
		{Name: "old_price", Type: BigInt, Nullable: true},
		{Name: "new_price", Type: BigInt, Nullable: true},
		{Name: "checkpoint_sequence_number", Type: BigInt},
		{Name: "timestamp_ms", Type: BigInt},
	},
	KeyColumns: []string{"transaction_digest", "event_index"},
	Policy:     interfaces.APPEND_ONLY,
	Indexes: [][]string{
		{"event_type"},
		{"datapod_id"},
		{"checkpoint_sequence_number"},
	},
}

var SmartContractObjects = &Table{
	Name: "smart_contract_objects",
	Kind: interfaces.SMART_CONTRACT_OBJECT,
	Columns: []Column{
		{Name: "object_id", Type: Text},
		{Name: "object_type", Type: Text},
		{Name: "owner", Type: Text},
		{Name: "version", Type: BigInt},
		{Name: "digest", Type: Text},
		{Name: "content_type", Type: Text},
		{Name: "data", Type: JSON, Nullable: true},
		{Name: "checkpoint_sequence_number", Type: BigInt},
		{Name: "transaction_digest", Type: Text},
	},
	KeyColumns:    []string{"object_id"},
	VersionColumn: "version",
	Policy:        interfaces.VERSIONED_MERGE,
	Indexes: [][]string{
		{"owner"},
		{"object_type"},
		{"checkpoint_sequence_number"},
	},
}

var CheckpointSummaries = &Table{
	Name: "checkpoint_summaries",
	Kind: interfaces.CHECKPOINT_SUMMARY,
	Columns: []Column{
		{Name: "sequence_number", Type: BigInt},
		{Name: "digest", Type: Text},
		{Name: "timestamp_ms", Type: BigInt},
		{Name: "transaction_count", Type: BigInt},
		{Name: "event_count", Type: BigInt},
	},
	KeyColumns: []string{"sequence_number"},
	Policy:     interfaces.REPLACE_ON_CONFLICT,
}

// Tables returns every record table in creation order.
func Tables() []*Table {
	return []*Table{TransactionDigests, DataPodEvents, SmartContractObjects, CheckpointSummaries}
}

// ForKind returns the table storing records of the given kind.
func ForKind(kind interfaces.RecordKind) (*Table, error) {
	for _, t := range Tables() {
		if t.Kind == kind {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no table for record kind %s", kind)
}
