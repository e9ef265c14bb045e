package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestParseWalletMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    WalletEvent
		wantErr bool
	}{
		{"account", `{"type":"accountsChanged","accounts":["0xAbC"]}`, AccountChanged{Address: "0xAbC"}, false},
		{"no accounts", `{"type":"accountsChanged","accounts":[]}`, Disconnected{}, false},
		{"hex chain", `{"type":"chainChanged","chainId":"0x14a34"}`, ChainChanged{ChainID: 84532}, false},
		{"numeric chain", `{"type":"chainChanged","chainId":8453}`, ChainChanged{ChainID: 8453}, false},
		{"disconnect", `{"type":"disconnect"}`, Disconnected{}, false},
		{"bad chain", `{"type":"chainChanged","chainId":"base"}`, nil, true},
		{"unknown", `{"type":"message"}`, nil, true},
		{"garbage", `not json`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWalletMessage([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestWalletEventSourceForwardsEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"accountsChanged","accounts":["0x1"]}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"disconnect"}`))
		// hold the connection until the client goes away
		conn.ReadMessage()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := NewWalletEventSource("ws"+strings.TrimPrefix(server.URL, "http"), newTestLogger(t))
	out := make(chan WalletEvent, 4)
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx, out) }()

	expected := []WalletEvent{AccountChanged{Address: "0x1"}, Disconnected{}}
	for _, want := range expected {
		select {
		case got := <-out:
			if got != want {
				t.Errorf("Expected %v, got %v", want, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("Timed out waiting for %v", want)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
