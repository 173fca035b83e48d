package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/consensusbot/internal/cache/memory"
	"github.com/alanyoungcy/consensusbot/internal/domain"
)

type frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func TestHubRelaysBusMessages(t *testing.T) {
	bus := memory.NewSignalBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "engine"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var status frame
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, "status", status.Type)
	assert.Contains(t, string(status.Data), `"mode":"engine"`)

	// Subscriptions start asynchronously, so publish until one lands.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				_ = bus.Publish(context.Background(), domain.ChannelSignal, []byte(`{"signal_id":"sig-1"}`))
			}
		}
	}()

	var msg frame
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "message", msg.Type)
	assert.Equal(t, domain.ChannelSignal, msg.Channel)
	assert.JSONEq(t, `{"signal_id":"sig-1"}`, string(msg.Data))
}

func TestClientSubscriptions(t *testing.T) {
	hub := NewHub(memory.NewSignalBus(), slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})
	c := &client{hub: hub, subs: map[string]bool{domain.ChannelSignal: true}}

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{domain.ChannelExit, "ch:unknown"}})
	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelSignal}})

	assert.True(t, c.isSubscribed(domain.ChannelExit))
	assert.False(t, c.isSubscribed("ch:unknown"))
	assert.False(t, c.isSubscribed(domain.ChannelSignal))
}
