package api

import (
	"strings"

	"github.com/sirupsen/logrus"
)

type sseMessage struct {
	event string
	data  interface{}
}

// sseKey 客户端 ID 只在同一用户下有效
func sseKey(userID, clientID string) string {
	userID = strings.TrimSpace(userID)
	clientID = strings.TrimSpace(clientID)
	if userID == "" || clientID == "" {
		return ""
	}
	return userID + ":" + clientID
}

func (h *HTTPHandler) registerSSEClient(key string, ch chan sseMessage) {
	if h == nil || ch == nil || key == "" {
		return
	}
	h.sseMu.Lock()
	defer h.sseMu.Unlock()

	if h.sseClients == nil {
		h.sseClients = make(map[string][]chan sseMessage)
	}
	h.sseClients[key] = append(h.sseClients[key], ch)
}

func (h *HTTPHandler) unregisterSSEClient(key string, target chan sseMessage) {
	if h == nil || target == nil || key == "" {
		return
	}
	h.sseMu.Lock()
	defer h.sseMu.Unlock()

	current := h.sseClients[key]
	remaining := current[:0]
	for _, ch := range current {
		if ch != target {
			remaining = append(remaining, ch)
		}
	}
	if len(remaining) == 0 {
		delete(h.sseClients, key)
		return
	}
	h.sseClients[key] = remaining
}

func (h *HTTPHandler) publishSSEMessage(key string, msg sseMessage) {
	if h == nil || key == "" {
		return
	}

	h.sseMu.Lock()
	channels := append([]chan sseMessage(nil), h.sseClients[key]...)
	h.sseMu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- msg:
		default:
			logrus.WithFields(logrus.Fields{
				"client": key,
				"event":  msg.event,
			}).Warn("dropping sse message due to slow consumer")
		}
	}
}
