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
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vmware/vmware-go-indexer/clientlibrary/database/models"
	"github.com/vmware/vmware-go-indexer/clientlibrary/worker"
)

// NewWatermarksCommand creates the watermarks command.
func NewWatermarksCommand(rootOpts *RootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "watermarks",
		Short: "Print the persisted watermark of every lane",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig(cmd)
			if err != nil {
				return err
			}

			store, err := worker.OpenDatastore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Init(cmd.Context()); err != nil {
				return err
			}

			watermarks, err := store.GetWatermarks(cmd.Context())
			if err != nil {
				return fmt.Errorf("read watermarks: %w", err)
			}
			if asJSON {
				return writeWatermarksJSON(cmd.OutOrStdout(), watermarks)
			}
			return writeWatermarks(cmd.OutOrStdout(), watermarks)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeWatermarks(out io.Writer, watermarks []*models.Watermark) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LANE\tCHECKPOINT\tUPDATED")
	for _, wm := range watermarks {
		updated := "-"
		if wm.UpdatedAt != nil {
			updated = wm.UpdatedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", wm.Lane, wm.CheckpointHi, updated)
	}
	return tw.Flush()
}

func writeWatermarksJSON(out io.Writer, watermarks []*models.Watermark) error {
	type row struct {
		Lane       string     `json:"lane"`
		Checkpoint int64      `json:"checkpoint"`
		UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	}
	rows := make([]row, 0, len(watermarks))
	for _, wm := range watermarks {
		rows = append(rows, row{Lane: wm.Lane, Checkpoint: wm.CheckpointHi, UpdatedAt: wm.UpdatedAt})
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
