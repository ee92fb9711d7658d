package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsLink wraps a WebSocket connection with a buffered outbound queue so that
// exactly one goroutine ever writes to the socket.
type wsLink struct {
	conn   *websocket.Conn
	send   chan outMessage
	mu     sync.Mutex
	closed bool
}

// outMessage is a queued outbound WebSocket message.
type outMessage struct {
	kind    int
	payload []byte
}

// cameraSession tracks one camera device. Entries are kept after a disconnect
// so name and last observed fps survive reconnects.
type cameraSession struct {
	id        string
	link      *wsLink
	name      string
	connected bool
	lastSeen  time.Time
	fps       float64
}

// viewerSession tracks one dashboard connection and which camera it watches.
type viewerSession struct {
	id             string
	link           *wsLink
	selectedCamera string // empty until the viewer picks one
}

// inboundMessage is the JSON envelope received from cameras and viewers.
// Data stays raw until the type discriminator is known.
type inboundMessage struct {
	Type       string          `json:"type"`
	CameraID   string          `json:"camera_id"`
	CameraName string          `json:"camera_name"`
	Action     string          `json:"action"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

// settingsPatch is the payload of an inbound settings update; only supplied
// fields overwrite stored configuration.
type settingsPatch struct {
	Camera *cameraConfigPatch `json:"camera"`
	Motion *motionConfigPatch `json:"motion"`
}

// cameraStatus is one camera's entry in the aggregate device status.
type cameraStatus struct {
	Connected bool    `json:"connected"`
	Name      string  `json:"name"`
	LastSeen  int64   `json:"last_seen"`
	FPS       float64 `json:"fps"`
}

// deviceStatus is the aggregate state pushed to viewers.
type deviceStatus struct {
	Cameras    map[string]cameraStatus `json:"cameras"`
	WebClients int                     `json:"web_clients"`
}

type statusMessage struct {
	Type string       `json:"type"`
	Data deviceStatus `json:"data"`
}

// settingsOut carries full configuration snapshots back to clients.
type settingsOut struct {
	Camera *CameraConfig `json:"camera,omitempty"`
	Motion *MotionConfig `json:"motion,omitempty"`
}

type settingsMessage struct {
	Type string      `json:"type"`
	Data settingsOut `json:"data"`
}

type commandMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// outboundFrame is a processed frame a worker hands to the broadcast router.
type outboundFrame struct {
	cameraID string
	data     []byte
}
