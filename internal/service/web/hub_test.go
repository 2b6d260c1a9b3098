package web

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"keyprobe/internal/core/validator"
	"keyprobe/internal/shared/settings"
	"keyprobe/internal/shared/types"
)

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		count := len(h.clients)
		h.mu.Unlock()
		if count == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d websocket clients", n)
}

func TestHub_BroadcastsKeyResult(t *testing.T) {
	sm, err := settings.NewSettingsManager("")
	if err != nil {
		t.Fatal(err)
	}
	h := NewHub()
	go h.Run()
	defer h.Stop()

	srv := httptest.NewServer(NewRouter(&types.Config{}, sm, &fakeController{}, h))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitForClients(t, h, 1)

	h.BroadcastKeyResult(&validator.Outcome{Kind: validator.KindRejected, Key: "sk-x", Verdict: validator.VerdictInvalid})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type string            `json:"type"`
		Data validator.Outcome `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != MsgKeyResult || msg.Data.Key != "sk-x" || msg.Data.Verdict != validator.VerdictInvalid {
		t.Errorf("unexpected message: %s", data)
	}
}

func TestHub_CountsDroppedMessages(t *testing.T) {
	// 未启动 Run，广播通道填满后后续消息被丢弃
	h := NewHub()
	capacity := cap(h.broadcast)
	for i := 0; i < capacity; i++ {
		h.BroadcastKeyAdmitted(&KeyAdmittedEvent{Key: "sk-x"})
	}
	if h.Dropped() != 0 {
		t.Fatalf("expected no drops while the channel has room, got %d", h.Dropped())
	}

	h.BroadcastKeyResult(&validator.Outcome{Key: "sk-x"})
	h.BroadcastKeyAdmitted(&KeyAdmittedEvent{Key: "sk-y"})
	h.BroadcastBatchComplete(&BatchCompleteEvent{BatchID: "b"})
	if got := h.Dropped(); got != 3 {
		t.Errorf("expected 3 dropped messages, got %d", got)
	}
}
