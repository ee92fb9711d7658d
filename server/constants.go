package main

import "time"

// Hub tuning constants
const (
	// FrameQueueCapacity is the maximum number of raw frames buffered per camera
	FrameQueueCapacity = 30

	// OutboundBufferSize is the capacity of the worker-to-router frame channel
	OutboundBufferSize = 100

	// SendBufferSize is the maximum number of messages buffered per connection
	SendBufferSize = 10

	// MinFrameBytes is the smallest payload accepted as a plausible JPEG frame
	MinFrameBytes = 100

	// MinFrameDim is the smallest usable decoded frame dimension in pixels
	MinFrameDim = 100

	// JPEGQuality is the re-encode quality for processed frames
	JPEGQuality = 85

	// DownscaleFactor shrinks frames before motion analysis
	DownscaleFactor = 0.5

	// QueuePollTimeout bounds the worker's wait on its frame queue so stop
	// requests are observed promptly
	QueuePollTimeout = time.Second

	// WorkerJoinTimeout is how long stop waits for a worker loop to exit
	WorkerJoinTimeout = 2 * time.Second

	// FPSWindow is the interval at which a worker republishes its observed fps
	FPSWindow = time.Second

	// WebSocketPingInterval is how often to send ping messages to clients
	WebSocketPingInterval = 54 * time.Second

	// WebSocketReadDeadline is the deadline for reading WebSocket messages
	WebSocketReadDeadline = 60 * time.Second

	// WebSocketWriteDeadline is the deadline for writing WebSocket messages
	WebSocketWriteDeadline = 10 * time.Second

	// WebSocketReadLimit is the maximum incoming message size; frames from
	// high-resolution cameras can run to a couple of megabytes
	WebSocketReadLimit = 4 << 20

	// MQTTConnectTimeout bounds the initial broker handshake
	MQTTConnectTimeout = 5 * time.Second

	// ShutdownTimeout is the grace period for the HTTP listeners on exit
	ShutdownTimeout = 5 * time.Second
)

// defaultCameraName is the display name used until a camera announces one.
func defaultCameraName(id string) string {
	return "Camera " + id
}
