package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/hperssn/trialclock/internal/runner"
)

// StreamTrialFrames streams display frames of a trial as server-sent events
// until the trial closes or the client goes away.
func StreamTrialFrames(manager *runner.TrialManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		frames, cancel, err := manager.Subscribe(id)
		if err != nil {
			respondError(w, err)
			return
		}
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		if snapshot, err := manager.Snapshot(id); err == nil {
			if err := writeFrame(w, snapshot); err != nil {
				log.Debug().Err(err).Str("trial_id", id).Msg("sse client gone")
				return
			}
			flusher.Flush()
		}

		for {
			select {
			case frame, ok := <-frames:
				if !ok {
					return
				}
				if err := writeFrame(w, frame); err != nil {
					log.Debug().Err(err).Str("trial_id", id).Msg("sse client gone")
					return
				}
				flusher.Flush()
				if frame.Closed {
					return
				}

			case <-r.Context().Done():
				return
			}
		}
	}
}

func writeFrame(w http.ResponseWriter, frame runner.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
