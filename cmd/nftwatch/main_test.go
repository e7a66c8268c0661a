package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nftwatch/nftwatch/internal/config"
	"github.com/nftwatch/nftwatch/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCmd(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["state"])
	assert.NotNil(t, root.RunE)
}

func TestPrintState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := state.NewFileStore(path)
	require.NoError(t, store.Save(context.Background(), "sale", state.StreamSnapshot{Anchor: "S9", Seeded: true, Seen: []string{"S9"}}))

	var out bytes.Buffer
	err := printState(context.Background(), config.Config{StateBackend: config.StateBackendFile, StatePath: path}, &out)
	require.NoError(t, err)

	var decoded map[string]*state.StreamSnapshot
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.NotNil(t, decoded["sale"])
	assert.Equal(t, "S9", decoded["sale"].Anchor)
	assert.Nil(t, decoded["mint"])
}

// upstream fakes the three HTTP collaborators of a running watcher.
type upstream struct {
	mu    sync.Mutex
	sales []map[string]any
	sent  []map[string]any
}

func (u *upstream) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/nft-sales", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-bithomp-token"))
		u.mu.Lock()
		defer u.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"sales": u.sales})
	})
	mux.HandleFunc("/xrpl", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"status":"success","transactions":[]}}`))
	})
	mux.HandleFunc("/botBOT/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		u.mu.Lock()
		u.sent = append(u.sent, payload)
		u.mu.Unlock()
		w.Write([]byte(`{"ok":true}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (u *upstream) addSale(hash string, at time.Time, drops int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	sale := map[string]any{
		"acceptedTxHash": hash,
		"acceptedAt":     at.Unix(),
		"amount":         fmt.Sprint(drops),
		"buyer":          "rBuyerAccount",
		"seller":         "rSellerAccount",
		"nftoken":        map[string]any{"nftokenID": "000800" + hash},
	}
	u.sales = append([]map[string]any{sale}, u.sales...)
}

func TestNewApp_AnnouncesOnlyNewSales(t *testing.T) {
	u := &upstream{}
	srv := u.server(t)
	u.addSale("S1", time.Now().Add(-time.Hour), 1_000_000)

	cfg := config.Config{
		IssuerAddress:         "rIssuer",
		BithompApiUrl:         srv.URL,
		BithompApiToken:       "secret",
		XrplRpcUrl:            srv.URL + "/xrpl",
		MintPageLimit:         50,
		TelegramApiUrl:        srv.URL,
		TelegramBotToken:      "BOT",
		TelegramChatId:        "-100",
		PollIntervalSeconds:   1,
		MaxEventAgeMinutes:    120,
		RequestTimeoutSeconds: 5,
		HttpMaxRetries:        1,
		MaxSeen:               100,
		ErrorThreshold:        3,
		BackoffMaxSeconds:     10,
		AnchorMissLimit:       3,
		IpfsGateway:           "ipfs.io",
		StateBackend:          config.StateBackendMemory,
	}
	require.NoError(t, cfg.Validate())

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	for _, res := range a.watcher.RunOnce(ctx) {
		require.NoError(t, res.Err)
	}
	assert.Empty(t, u.sent)

	u.addSale("S2", time.Now(), 5_000_000)
	a.watcher.RunOnce(ctx)
	a.watcher.RunOnce(ctx)

	require.Len(t, u.sent, 1)
	assert.Equal(t, "-100", u.sent[0]["chat_id"])
	assert.Contains(t, u.sent[0]["text"], "5 XRP")
	assert.Contains(t, u.sent[0]["text"], "https://bithomp.com/explorer/S2")
}
