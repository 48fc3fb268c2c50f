package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/entityops/matchd/internal/jobs"
	"github.com/google/uuid"
)

const sseKeepAlive = 15 * time.Second

// NewEventsHandler returns an http.HandlerFunc for GET /api/v1/jobs/events.
// It streams progress events as Server-Sent Events until the client
// disconnects. An optional job_id query parameter narrows the stream to a
// single job.
func NewEventsHandler(bus *jobs.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		var filterID uuid.UUID
		if raw := r.URL.Query().Get("job_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				http.Error(w, "job_id must be a valid UUID", http.StatusBadRequest)
				return
			}
			filterID = id
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		events, cancel := bus.Subscribe()
		defer cancel()

		keepAlive := time.NewTicker(sseKeepAlive)
		defer keepAlive.Stop()

		clientGone := r.Context().Done()
		for {
			select {
			case <-clientGone:
				return
			case <-keepAlive.C:
				// Comment line keeps idle connections from being reaped
				// by proxies.
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case ev := <-events:
				if filterID != uuid.Nil && ev.JobID != filterID {
					continue
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: progress\n")
				fmt.Fprintf(w, "data: %s\n\n", payload)
				flusher.Flush()
			}
		}
	}
}
