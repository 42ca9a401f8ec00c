package relay

import (
	"fmt"
	"net/http"
	"strings"
)

// SSEHandler streams broker events. Clients may filter by event type with
// ?types=playerStateChange,runFinished and by run with ?run=<id>.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		var typeFilter map[string]bool
		if q := r.URL.Query().Get("types"); q != "" {
			typeFilter = make(map[string]bool)
			for _, f := range strings.Split(q, ",") {
				if f = strings.TrimSpace(f); f != "" {
					typeFilter[f] = true
				}
			}
		}
		runFilter := r.URL.Query().Get("run")

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if typeFilter != nil && !typeFilter[evt.Type] {
					continue
				}
				if runFilter != "" && evt.RunID != runFilter {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Payload)
				flusher.Flush()
			}
		}
	}
}
