package main

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func newWSLink(conn *websocket.Conn) *wsLink {
	return &wsLink{
		conn: conn,
		send: make(chan outMessage, SendBufferSize),
	}
}

// trySend queues a message for the connection's write pump. Returns false
// once the link has been shut down. A full buffer drops the message instead
// of blocking; a slow viewer must never back up the hub.
func (l *wsLink) trySend(m outMessage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	select {
	case l.send <- m:
	default:
		log.Debug().Msg("send buffer full, message dropped")
	}
	return true
}

// shutdown marks the link dead and closes the socket. Idempotent.
func (l *wsLink) shutdown() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.send)
	l.mu.Unlock()
	if l.conn != nil {
		l.conn.Close()
	}
}

// writePump drains the outbound queue onto the socket and keeps the
// connection alive with periodic pings.
func (l *wsLink) writePump() {
	ticker := time.NewTicker(WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		l.conn.Close()
	}()

	for {
		select {
		case m, ok := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteDeadline))
			if !ok {
				l.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := l.conn.WriteMessage(m.kind, m.payload); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteDeadline))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleConnection is the per-connection receive loop. The first message
// classifies the connection; everything after is dispatched to the camera or
// viewer path. A connection that could not be classified keeps being read so
// a late camera announcement still registers it.
func (h *hub) handleConnection(conn *websocket.Conn) {
	conn.SetReadLimit(WebSocketReadLimit)
	conn.SetReadDeadline(time.Now().Add(WebSocketReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(WebSocketReadDeadline))
		return nil
	})

	link := newWSLink(conn)
	go link.writePump()
	defer h.unregister(link)

	var cam *cameraSession
	var viewer *viewerSession
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(WebSocketReadDeadline))

		switch {
		case cam != nil:
			h.handleCameraMessage(cam, kind, data)
		case viewer != nil:
			if kind == websocket.TextMessage {
				h.handleViewerMessage(viewer, data)
			}
		default:
			cam, viewer = h.classify(link, kind, data)
		}
	}
}

// handleCameraMessage routes a registered camera's traffic: binary frames go
// to its worker queue, text heartbeats refresh liveness.
func (h *hub) handleCameraMessage(cam *cameraSession, kind int, data []byte) {
	if kind == websocket.BinaryMessage {
		h.touchCamera(cam.id)
		h.mu.Lock()
		w := h.workers[cam.id]
		h.mu.Unlock()
		if w != nil {
			w.enqueue(data)
		}
		return
	}

	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("camera_id", cam.id).Msg("undecodable camera message discarded")
		return
	}
	if msg.Type == "camera" {
		h.touchCamera(cam.id)
		h.broadcastStatus()
	}
}

// handleViewerMessage routes dashboard actions.
func (h *hub) handleViewerMessage(v *viewerSession, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("viewer_id", v.id).Msg("undecodable viewer message discarded")
		return
	}

	switch msg.Type {
	case "web":
		switch msg.Action {
		case "select_camera":
			h.selectCamera(v, msg.CameraID)
		case "get_settings":
			h.sendSettings(v)
		case "command":
			h.forwardCommand(h.commandTarget(v, msg.CameraID), msg.Message)
		case "settings":
			h.applySettingsUpdate(v, msg.CameraID, msg.Data)
		default:
			log.Warn().Str("action", msg.Action).Msg("unknown viewer action discarded")
		}
	case "settings":
		h.applySettingsUpdate(v, msg.CameraID, msg.Data)
	case "command":
		h.forwardCommand(h.commandTarget(v, msg.CameraID), msg.Message)
	default:
		log.Warn().Str("type", msg.Type).Msg("unknown message type discarded")
	}
}

// commandTarget resolves the camera a viewer message is aimed at: an explicit
// camera_id wins, otherwise the viewer's current selection.
func (h *hub) commandTarget(v *viewerSession, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return h.selectedCamera(v)
}

// sendSettings unicasts the current camera and motion config for the
// viewer's selected camera, or the global defaults if nothing is selected.
func (h *hub) sendSettings(v *viewerSession) {
	id := h.selectedCamera(v)
	camCfg := h.settings.CameraConfigFor(id)
	motCfg := h.settings.MotionConfigFor(id)
	payload, err := json.Marshal(settingsMessage{
		Type: "settings",
		Data: settingsOut{Camera: &camCfg, Motion: &motCfg},
	})
	if err != nil {
		log.Error().Err(err).Msg("marshal settings reply")
		return
	}
	v.link.trySend(outMessage{kind: websocket.TextMessage, payload: payload})
}

// applySettingsUpdate merges a partial settings payload into the store,
// persists the document, pushes capture changes to the target camera and
// echoes the result to the viewers watching it. A persistence failure keeps
// the in-memory update; it is just unpersisted.
func (h *hub) applySettingsUpdate(v *viewerSession, explicitID string, raw json.RawMessage) {
	var patch settingsPatch
	if err := json.Unmarshal(raw, &patch); err != nil {
		log.Warn().Err(err).Msg("undecodable settings payload discarded")
		return
	}
	if patch.Camera == nil && patch.Motion == nil {
		log.Warn().Msg("settings payload without camera or motion section ignored")
		return
	}

	id := h.commandTarget(v, explicitID)
	var out settingsOut
	if patch.Camera != nil {
		cfg := h.settings.ApplyCameraPatch(id, patch.Camera)
		out.Camera = &cfg
	}
	if patch.Motion != nil {
		cfg := h.settings.ApplyMotionPatch(id, patch.Motion)
		out.Motion = &cfg
	}
	log.Info().Str("camera_id", id).Msg("settings updated")

	if err := h.settings.Persist(h.cameraNames()); err != nil {
		log.Error().Err(err).Msg("settings persistence failed, in-memory update stands")
	}
	if patch.Camera != nil && id != "" {
		h.applySettingsToCamera(id)
	}
	h.broadcastSettings(id, settingsMessage{Type: "settings", Data: out})
}
