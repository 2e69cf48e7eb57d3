package app

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"margin/sync/internal/room"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// maxFrameSize bounds a single inbound frame. Snapshots only travel
	// server-to-client; client frames are incremental.
	maxFrameSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin enforcement happens at the CORS layer; the sync endpoint
	// accepts any upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the request and attaches the connection to its
// room. The connection immediately receives the full document snapshot and
// the live awareness channel, then participates in the fan-out.
func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room"]

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}

	resident := s.registry.Activate(r.Context(), roomID)
	conn, err := resident.Attach(r.Context())
	if err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "attach failed"),
			time.Now().Add(writeWait))
		ws.Close()
		return
	}

	go writePump(ws, conn)
	readPump(ws, resident, conn)
}

// readPump feeds inbound frames into the room until the connection drops,
// then detaches and retracts its presence entry.
func readPump(ws *websocket.Conn, resident *room.Room, conn *room.Conn) {
	defer func() {
		resident.Detach(conn)
		ws.Close()
	}()

	ws.SetReadLimit(maxFrameSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			resident.HandleBinary(conn, data)
		case websocket.TextMessage:
			resident.HandleText(conn, data)
		}
	}
}

// writePump drains the connection's outbox onto the wire and keeps the
// connection alive with pings.
func writePump(ws *websocket.Conn, conn *room.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-conn.Outbox():
			if !ok {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			messageType := websocket.BinaryMessage
			if msg.Kind == room.KindText {
				messageType = websocket.TextMessage
			}
			if err := ws.WriteMessage(messageType, msg.Data); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
