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
	"errors"
	"net/http"

	par "github.com/vmware/vmware-go-indexer/clientlibrary/partition"
	"github.com/vmware/vmware-go-indexer/clientlibrary/worker"
)

// laneSupervisor is the part of the worker the status server needs.
type laneSupervisor interface {
	LaneStatuses() []par.LaneSnapshot
	RestartLane(name string) error
}

type healthResponse struct {
	Status    string   `json:"status"`
	Unhealthy []string `json:"unhealthy,omitempty"`
}

// newStatusHandler serves lane health and the manual restart of unhealthy
// lanes. metricsHandler is mounted on /metrics when not nil.
func newStatusHandler(lanes laneSupervisor, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		for _, s := range lanes.LaneStatuses() {
			if s.State == par.UNHEALTHY {
				resp.Unhealthy = append(resp.Unhealthy, s.Name)
			}
		}
		code := http.StatusOK
		if len(resp.Unhealthy) > 0 {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	})

	mux.HandleFunc("GET /lanes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, lanes.LaneStatuses())
	})

	mux.HandleFunc("POST /lanes/{name}/restart", func(w http.ResponseWriter, r *http.Request) {
		err := lanes.RestartLane(r.PathValue("name"))
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarted"})
		case errors.Is(err, worker.ErrLaneUnknown):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		}
	})

	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
