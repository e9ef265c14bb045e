package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0xmetaHQ/merchant-demo/internal/utils"
)

const (
	walletEventMinBackoff = 1 * time.Second
	walletEventMaxBackoff = 30 * time.Second
)

// walletMessage is what a wallet bridge sends over the websocket
type walletMessage struct {
	Type     string      `json:"type"`
	Accounts []string    `json:"accounts,omitempty"`
	ChainID  interface{} `json:"chainId,omitempty"`
}

// WalletEventSource reads wallet events from a websocket bridge and forwards
// them to a controller. It reconnects until its context is cancelled.
type WalletEventSource struct {
	url    string
	logger *utils.LogsManager
	dialer websocket.Dialer
}

// NewWalletEventSource creates a source for the bridge at url (ws:// or wss://)
func NewWalletEventSource(url string, logger *utils.LogsManager) *WalletEventSource {
	return &WalletEventSource{
		url:    url,
		logger: logger,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run forwards events to out until ctx is done
func (s *WalletEventSource) Run(ctx context.Context, out chan<- WalletEvent) error {
	backoff := walletEventMinBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.logger.Warn(fmt.Sprintf("Wallet bridge connection failed: %v (retry in %s)", err, backoff), "wallet")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, walletEventMaxBackoff)
			continue
		}

		s.logger.Info(fmt.Sprintf("Connected to wallet bridge %s", s.url), "wallet")
		backoff = walletEventMinBackoff
		s.readLoop(ctx, conn, out)
	}
}

func (s *WalletEventSource) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- WalletEvent) {
	// unblock ReadMessage when ctx is cancelled
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn(fmt.Sprintf("Wallet bridge connection closed: %v", err), "wallet")
			}
			return
		}

		event, err := ParseWalletMessage(payload)
		if err != nil {
			s.logger.Debug(fmt.Sprintf("Ignoring wallet bridge message: %v", err), "wallet")
			continue
		}

		select {
		case out <- event:
		case <-ctx.Done():
			return
		}
	}
}

// ParseWalletMessage decodes one bridge message into a WalletEvent
func ParseWalletMessage(payload []byte) (WalletEvent, error) {
	var msg walletMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %v", err)
	}

	switch msg.Type {
	case "accountsChanged":
		if len(msg.Accounts) == 0 {
			return Disconnected{}, nil
		}
		return AccountChanged{Address: msg.Accounts[0]}, nil
	case "chainChanged":
		chainID, err := parseChainID(msg.ChainID)
		if err != nil {
			return nil, err
		}
		return ChainChanged{ChainID: chainID}, nil
	case "disconnect":
		return Disconnected{}, nil
	}

	return nil, fmt.Errorf("unknown message type %q", msg.Type)
}

func parseChainID(value interface{}) (int64, error) {
	switch v := value.(type) {
	case float64:
		return int64(v), nil
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(v), 0, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid chain id %q", v)
		}
		return id, nil
	}
	return 0, fmt.Errorf("missing chain id")
}
