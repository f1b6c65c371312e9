package telemetry

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func fixedSnapshot() QueueSnapshot {
	return QueueSnapshot{
		Head: 1, Write: 3, Count: 2, Cap: 16,
		Head0: &SegmentSnapshot{PrimaryAxis: 0, StepsRemaining: 800, FullSpeed: 60},
	}
}

func TestHandleStatusReturnsSnapshotJSON(t *testing.T) {
	srv := New(fixedSnapshot, time.Second)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var got QueueSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Count != 2 || got.Cap != 16 {
		t.Fatalf("got = %+v, want count=2 cap=16", got)
	}
	if got.Head0 == nil || got.Head0.StepsRemaining != 800 {
		t.Fatalf("got.Head0 = %+v, want StepsRemaining=800", got.Head0)
	}
}

func TestHandleWSStreamsSnapshotsOnInterval(t *testing.T) {
	srv := New(fixedSnapshot, 20*time.Millisecond)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var got QueueSnapshot
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Count != 2 {
		t.Fatalf("got.Count = %d, want 2", got.Count)
	}
}

func TestHandleWSTracksClientCountAcrossConnectAndClose(t *testing.T) {
	srv := New(fixedSnapshot, 20*time.Millisecond)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got QueueSnapshot
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}

	srv.mu.Lock()
	n := len(srv.clients)
	srv.mu.Unlock()
	if n != 1 {
		t.Fatalf("clients = %d, want 1 while connected", n)
	}

	conn.Close()
	// give handleWS a moment to fail a write on the closed connection
	// and remove the client map entry in its deferred cleanup.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		srv.mu.Lock()
		n = len(srv.clients)
		srv.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("clients = %d, want 0 after close", n)
}
