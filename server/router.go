package main

import (
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// runRouter consumes completed frames from the workers and fans them out to
// the viewers watching each camera. Runs on its own goroutine so workers
// never touch connection state directly.
func (h *hub) runRouter() {
	for f := range h.outbound {
		h.broadcastFrame(f.cameraID, f.data)
	}
}

// broadcastFrame delivers a frame to every viewer that selected this camera,
// plus viewers that have not selected any camera yet so a fresh dashboard
// shows some stream immediately. A failed send unregisters that viewer only.
func (h *hub) broadcastFrame(cameraID string, data []byte) {
	h.mu.Lock()
	targets := make([]*viewerSession, 0, len(h.viewers))
	for _, v := range h.viewers {
		if v.selectedCamera == cameraID || v.selectedCamera == "" {
			targets = append(targets, v)
		}
	}
	h.mu.Unlock()

	var failed []*viewerSession
	for _, v := range targets {
		if !v.link.trySend(outMessage{kind: websocket.BinaryMessage, payload: data}) {
			failed = append(failed, v)
		}
	}
	if len(failed) > 0 {
		h.removeViewers(failed)
		h.broadcastStatus()
	}
}

// broadcastStatus sends the aggregate device status to every viewer. Sends go
// to a snapshot of the viewer set; failures are collected, those viewers are
// unregistered after the pass, and the broadcast repeats against the shrunk
// set. The loop terminates because each pass with failures strictly shrinks
// the viewer set.
func (h *hub) broadcastStatus() {
	for {
		h.mu.Lock()
		status := h.deviceStatusLocked()
		viewers := make([]*viewerSession, 0, len(h.viewers))
		for _, v := range h.viewers {
			viewers = append(viewers, v)
		}
		h.mu.Unlock()

		payload, err := json.Marshal(statusMessage{Type: "status", Data: status})
		if err != nil {
			log.Error().Err(err).Msg("marshal device status")
			return
		}

		var failed []*viewerSession
		for _, v := range viewers {
			if !v.link.trySend(outMessage{kind: websocket.TextMessage, payload: payload}) {
				failed = append(failed, v)
			}
		}
		if len(failed) == 0 {
			return
		}
		h.removeViewers(failed)
	}
}

// broadcastSettings delivers a settings snapshot to the viewers watching the
// given camera. An empty camera id targets viewers with no selection.
func (h *hub) broadcastSettings(cameraID string, msg settingsMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("marshal settings broadcast")
		return
	}

	h.mu.Lock()
	targets := make([]*viewerSession, 0, len(h.viewers))
	for _, v := range h.viewers {
		if v.selectedCamera == cameraID {
			targets = append(targets, v)
		}
	}
	h.mu.Unlock()

	var failed []*viewerSession
	for _, v := range targets {
		if !v.link.trySend(outMessage{kind: websocket.TextMessage, payload: payload}) {
			failed = append(failed, v)
		}
	}
	if len(failed) > 0 {
		h.removeViewers(failed)
		h.broadcastStatus()
	}
}

// forwardCommand unicasts an opcode to a camera; a no-op when the camera is
// not live.
func (h *hub) forwardCommand(cameraID, opcode string) {
	if cameraID == "" || opcode == "" {
		log.Warn().Str("camera_id", cameraID).Str("command", opcode).Msg("command with missing target or opcode ignored")
		return
	}

	h.mu.Lock()
	cam, ok := h.cameras[cameraID]
	var link *wsLink
	if ok && cam.connected {
		link = cam.link
	}
	h.mu.Unlock()
	if link == nil {
		log.Warn().Str("camera_id", cameraID).Str("command", opcode).Msg("command for offline camera dropped")
		return
	}

	payload, err := json.Marshal(commandMessage{Type: "command", Message: opcode})
	if err != nil {
		log.Error().Err(err).Msg("marshal command")
		return
	}
	log.Info().Str("camera_id", cameraID).Str("command", opcode).Msg("forwarding command")
	if !link.trySend(outMessage{kind: websocket.TextMessage, payload: payload}) {
		log.Warn().Str("camera_id", cameraID).Msg("command send failed, camera connection gone")
	}
}

// removeViewers drops dead viewer sessions without triggering a broadcast;
// callers decide whether a fresh status push follows.
func (h *hub) removeViewers(failed []*viewerSession) {
	h.mu.Lock()
	for _, v := range failed {
		delete(h.viewers, v.id)
	}
	h.mu.Unlock()
	for _, v := range failed {
		v.link.shutdown()
		log.Info().Str("viewer_id", v.id).Msg("viewer dropped after failed send")
	}
}
