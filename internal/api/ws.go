package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

const (
	notificationBuffer = 64
	writeWait          = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamNotifications streams runtime notifications over WebSocket as JSON
// messages. Retained notifications with a sequence number above the
// "since" query parameter are replayed first.
func (s *Server) StreamNotifications(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since: "+v)
			return
		}
		since = n
	}

	// Subscribe before upgrading so nothing published in between is lost.
	notes, cancel := s.Runtime.Notifier().Subscribe(notificationBuffer)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// The client never sends; reading detects when it goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sent := since
	send := func(n ir.Notification) bool {
		if n.Seq <= sent {
			return true
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(n); err != nil {
			s.Log.Debug("notification stream closed", "error", err)
			return false
		}
		sent = n.Seq
		return true
	}

	for _, n := range s.Runtime.Notifier().Recent() {
		if !send(n) {
			return
		}
	}
	for {
		select {
		case n, ok := <-notes:
			if !ok || !send(n) {
				return
			}
		case <-closed:
			return
		}
	}
}
