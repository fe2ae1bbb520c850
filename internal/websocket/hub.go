package websocket

import (
	"encoding/json"
	"sync"
)

// StatusUpdate is pushed to a user's dashboard whenever one of their bots
// reports in or changes state.
type StatusUpdate struct {
	AccountID     string `json:"account_id"`
	MT5AccountID  string `json:"mt5_account_id"`
	BotStatus     string `json:"bot_status"`
	Balance       string `json:"balance"`
	DDBlocked     bool   `json:"dd_blocked"`
	DDBlockReason string `json:"dd_block_reason,omitempty"`
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][client] = struct{}{}
}

func (h *Hub) Unregister(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		return
	}
	delete(h.clients[userID], client)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

// BroadcastStatus fans an update out to every open dashboard session of the
// owning user. Slow clients are skipped rather than blocking the heartbeat
// path.
func (h *Hub) BroadcastStatus(userID string, update StatusUpdate) {
	payload, _ := json.Marshal(update)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
		}
	}
}
