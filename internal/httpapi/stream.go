package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"loyaltydesk.org/internal/auth"
	"loyaltydesk.org/internal/stream"
)

const (
	sseHeartbeat = 25 * time.Second

	eventRewardsSnapshot = "rewards.snapshot"
)

func startSSE(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": stream started\n\n"))
}

func writeSSE(w http.ResponseWriter, event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	_, _ = w.Write([]byte("event: " + event + "\n"))
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(payload)
	_, err = w.Write([]byte("\n\n"))
	return err
}

// Stream serves the caller's change notifications as Server-Sent Events.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.Hub == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())

	ctx := r.Context()
	ch := a.Hub.Subscribe(ctx, stream.Filter{PrincipalID: p.ID})

	startSSE(w)
	flusher.Flush()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSE(w, string(evt.Kind), evt); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// RewardsStream serves the caller's rewards snapshot, then a fresh snapshot
// with recomputed tier and next milestone after every balance or perk change.
func (a *API) RewardsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())

	ctx := r.Context()
	live, err := a.Aggregator.Watch(ctx, p.ID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	startSSE(w)
	if err := writeSSE(w, eventRewardsSnapshot, newRewardsResponse(live.Snapshot())); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case snap, ok := <-live.Updates():
			if !ok {
				return
			}
			if err := writeSSE(w, eventRewardsSnapshot, newRewardsResponse(snap)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
