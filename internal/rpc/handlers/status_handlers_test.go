package handlers

import (
	"net/http/httptest"
	"testing"

	"github.com/nftwatch/nftwatch/internal/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStatus []watcher.StreamStatus

func (s staticStatus) Status() []watcher.StreamStatus {
	return s
}

func TestStatusGetHandler(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/status", nil)

	resp, err := StatusGetHandler(nil)(req)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Empty(t, resp.Streams)

	healthy := staticStatus{{Stream: "mint", Status: "steady"}, {Stream: "sale", Status: "seeded"}}
	resp, err = StatusGetHandler(healthy)(req)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Len(t, resp.Streams, 2)

	failing := staticStatus{{Stream: "mint", Status: "steady"}, {Stream: "sale", ConsecutiveErrors: 3}}
	resp, err = StatusGetHandler(failing)(req)
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, resp.Status)
}
