package handlers

import (
	"net/http"

	"github.com/nftwatch/nftwatch/internal/watcher"
)

const (
	StatusOK       = "OK"
	StatusDegraded = "DEGRADED"
)

type StreamStatusProvider interface {
	Status() []watcher.StreamStatus
}

type StatusResponse struct {
	Status  string                 `json:"status"`
	Streams []watcher.StreamStatus `json:"streams"`
}

// StatusGetHandler reports DEGRADED while any stream is failing.
func StatusGetHandler(provider StreamStatusProvider) func(r *http.Request) (StatusResponse, error) {
	return func(r *http.Request) (StatusResponse, error) {
		resp := StatusResponse{Status: StatusOK, Streams: []watcher.StreamStatus{}}
		if provider == nil {
			return resp, nil
		}
		resp.Streams = provider.Status()
		for _, s := range resp.Streams {
			if s.ConsecutiveErrors > 0 {
				resp.Status = StatusDegraded
			}
		}
		return resp, nil
	}
}
