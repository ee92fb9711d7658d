package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// hub is the session registry: it classifies connections, owns the camera and
// viewer session maps and is the single writer of connection membership. All
// mutation happens under one lock; broadcast paths read snapshots.
type hub struct {
	mu      sync.Mutex
	cameras map[string]*cameraSession
	viewers map[string]*viewerSession
	workers map[string]*cameraWorker

	settings *settingsStore
	events   *motionEmitter
	outbound chan outboundFrame
}

func newHub(settings *settingsStore, events *motionEmitter) *hub {
	return &hub{
		cameras:  make(map[string]*cameraSession),
		viewers:  make(map[string]*viewerSession),
		workers:  make(map[string]*cameraWorker),
		settings: settings,
		events:   events,
		outbound: make(chan outboundFrame, OutboundBufferSize),
	}
}

// loadPersisted merges the settings document into the registry: saved display
// names land on known cameras, and cameras known only from settings appear as
// disconnected placeholder entries.
func (h *hub) loadPersisted() {
	names, err := h.settings.Load()
	if err != nil {
		log.Warn().Err(err).Msg("settings file unreadable, defaults apply")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range h.settings.KnownCameraIDs() {
		if _, ok := h.cameras[id]; !ok {
			h.cameras[id] = &cameraSession{id: id, name: defaultCameraName(id)}
		}
	}
	for id, name := range names {
		cam, ok := h.cameras[id]
		if !ok {
			cam = &cameraSession{id: id}
			h.cameras[id] = cam
		}
		cam.name = name
	}
}

// classify decides what a connection is from its first message. A text frame
// announcing a camera identity registers a camera; a binary frame can only
// belong to an already known camera connection (a frame from anything else is
// dropped without creating a session); any other text frame registers a
// viewer.
func (h *hub) classify(link *wsLink, kind int, data []byte) (*cameraSession, *viewerSession) {
	if kind == websocket.BinaryMessage {
		if cam := h.cameraForLink(link); cam != nil {
			return cam, nil
		}
		log.Debug().Int("size", len(data)).Msg("binary frame from unidentified connection dropped")
		return nil, nil
	}

	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err == nil && msg.Type == "camera" {
		if msg.CameraID == "" {
			log.Warn().Msg("camera announcement without camera_id ignored")
			return nil, nil
		}
		return h.registerCamera(msg.CameraID, msg.CameraName, link), nil
	}
	return nil, h.registerViewer(link)
}

// registerCamera upserts the camera session, replaces its connection and
// ensures a frame worker is running with an empty queue. Settings are pushed
// to the device on every (re)connect.
func (h *hub) registerCamera(id, name string, link *wsLink) *cameraSession {
	h.mu.Lock()
	cam, ok := h.cameras[id]
	if !ok {
		cam = &cameraSession{id: id}
		h.cameras[id] = cam
	}
	if cam.link != nil && cam.link != link {
		cam.link.shutdown()
	}
	cam.link = link
	cam.connected = true
	cam.lastSeen = time.Now()
	if name != "" {
		cam.name = name
	} else if cam.name == "" {
		cam.name = defaultCameraName(id)
	}

	if w, running := h.workers[id]; running {
		// requests that raced with the reconnect are stale
		w.drainQueue()
	} else {
		w := newCameraWorker(id, h.settings, h.outbound, h, h.events)
		h.workers[id] = w
		go w.run()
	}
	displayName := cam.name
	h.mu.Unlock()

	log.Info().Str("camera_id", id).Str("name", displayName).Msg("camera connected")
	h.applySettingsToCamera(id)
	h.broadcastStatus()
	return cam
}

// registerViewer creates a viewer session with no camera selected yet.
func (h *hub) registerViewer(link *wsLink) *viewerSession {
	v := &viewerSession{id: uuid.NewString(), link: link}
	h.mu.Lock()
	h.viewers[v.id] = v
	h.mu.Unlock()

	log.Info().Str("viewer_id", v.id).Msg("viewer connected")
	h.broadcastStatus()
	return v
}

// unregister tears down whatever session the link belongs to. Cameras are
// marked disconnected rather than deleted so their history survives; viewers
// are removed outright.
func (h *hub) unregister(link *wsLink) {
	var stopped *cameraWorker
	handled := false

	h.mu.Lock()
	for _, cam := range h.cameras {
		if cam.link == link {
			cam.connected = false
			cam.lastSeen = time.Now()
			cam.link = nil
			if w, ok := h.workers[cam.id]; ok {
				stopped = w
				delete(h.workers, cam.id)
			}
			log.Info().Str("camera_id", cam.id).Msg("camera disconnected")
			handled = true
			break
		}
	}
	if !handled {
		for id, v := range h.viewers {
			if v.link == link {
				delete(h.viewers, id)
				log.Info().Str("viewer_id", id).Msg("viewer disconnected")
				handled = true
				break
			}
		}
	}
	h.mu.Unlock()

	if stopped != nil {
		stopped.stop()
	}
	link.shutdown()
	if handled {
		h.broadcastStatus()
	}
}

func (h *hub) cameraForLink(link *wsLink) *cameraSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, cam := range h.cameras {
		if cam.connected && cam.link == link {
			return cam
		}
	}
	return nil
}

// touchCamera stamps a camera's liveness.
func (h *hub) touchCamera(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cam, ok := h.cameras[id]; ok {
		cam.lastSeen = time.Now()
	}
}

// setCameraFPS implements statusSink for the frame workers.
func (h *hub) setCameraFPS(id string, fps float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cam, ok := h.cameras[id]; ok {
		cam.fps = fps
	}
}

// selectCamera records the viewer's chosen stream. The selection is
// per-viewer and survives camera disconnects.
func (h *hub) selectCamera(v *viewerSession, cameraID string) {
	h.mu.Lock()
	v.selectedCamera = cameraID
	h.mu.Unlock()
	log.Info().Str("viewer_id", v.id).Str("camera_id", cameraID).Msg("viewer selected camera")
	h.broadcastStatus()
}

func (h *hub) selectedCamera(v *viewerSession) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return v.selectedCamera
}

// cameraNames snapshots the display names for persistence.
func (h *hub) cameraNames() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make(map[string]string, len(h.cameras))
	for id, cam := range h.cameras {
		names[id] = cam.name
	}
	return names
}

func (h *hub) currentStatus() deviceStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deviceStatusLocked()
}

func (h *hub) deviceStatusLocked() deviceStatus {
	ds := deviceStatus{
		Cameras:    make(map[string]cameraStatus, len(h.cameras)),
		WebClients: len(h.viewers),
	}
	for id, cam := range h.cameras {
		var lastSeen int64
		if !cam.lastSeen.IsZero() {
			lastSeen = cam.lastSeen.Unix()
		}
		ds.Cameras[id] = cameraStatus{
			Connected: cam.connected,
			Name:      cam.name,
			LastSeen:  lastSeen,
			FPS:       cam.fps,
		}
	}
	return ds
}

// applySettingsToCamera pushes the current capture config to a live camera.
// Failure to send is logged and non-fatal.
func (h *hub) applySettingsToCamera(id string) {
	h.mu.Lock()
	cam, ok := h.cameras[id]
	var link *wsLink
	if ok && cam.connected {
		link = cam.link
	}
	h.mu.Unlock()
	if link == nil {
		return
	}

	cfg := h.settings.CameraConfigFor(id)
	payload, err := json.Marshal(settingsMessage{Type: "settings", Data: settingsOut{Camera: &cfg}})
	if err != nil {
		log.Error().Err(err).Msg("marshal camera settings")
		return
	}
	if !link.trySend(outMessage{kind: websocket.TextMessage, payload: payload}) {
		log.Warn().Str("camera_id", id).Msg("settings push failed, camera connection gone")
	}
}

// shutdown stops all frame workers; called on process exit.
func (h *hub) shutdown() {
	h.mu.Lock()
	workers := make([]*cameraWorker, 0, len(h.workers))
	for _, w := range h.workers {
		workers = append(workers, w)
	}
	h.workers = make(map[string]*cameraWorker)
	h.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
}
