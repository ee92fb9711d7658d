package main

import (
	"image"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// statusSink receives the fps a worker observes for its camera.
type statusSink interface {
	setCameraFPS(id string, fps float64)
}

// cameraWorker drives the decode -> detect -> encode -> publish pipeline for
// one camera. It exclusively owns the camera's frame queue and motion state.
type cameraWorker struct {
	cameraID string
	settings *settingsStore
	out      chan<- outboundFrame
	status   statusSink
	events   *motionEmitter

	queue    chan []byte
	stopping atomic.Bool
	done     chan struct{}

	// owned by the run loop
	state         *motionState
	lastProcessed time.Time
	windowStart   time.Time
	windowFrames  int
}

func newCameraWorker(cameraID string, settings *settingsStore, out chan<- outboundFrame, status statusSink, events *motionEmitter) *cameraWorker {
	return &cameraWorker{
		cameraID: cameraID,
		settings: settings,
		out:      out,
		status:   status,
		events:   events,
		queue:    make(chan []byte, FrameQueueCapacity),
		done:     make(chan struct{}),
	}
}

// enqueue pushes a raw frame without ever blocking the caller. When the queue
// is full the oldest frame is dropped to admit the newest; frame currency
// matters more than completeness.
func (w *cameraWorker) enqueue(frame []byte) {
	if frame == nil {
		return
	}
	select {
	case w.queue <- frame:
	default:
		select {
		case <-w.queue:
		default:
		}
		select {
		case w.queue <- frame:
		default:
		}
		log.Debug().Str("camera_id", w.cameraID).Msg("frame queue full, dropped oldest frame")
	}
}

// run is the worker's processing loop. A nil frame is the stop sentinel. The
// wait on the queue is bounded so a raised stop flag is observed within one
// poll interval even when no sentinel got through; the same tick drives the
// fps window when no frames arrive.
func (w *cameraWorker) run() {
	defer close(w.done)
	w.state = newMotionState()
	defer w.state.Close()

	log.Info().Str("camera_id", w.cameraID).Msg("frame worker started")
	defer log.Info().Str("camera_id", w.cameraID).Msg("frame worker stopped")

	w.windowStart = time.Now()
	for {
		if w.stopping.Load() {
			return
		}
		select {
		case frame := <-w.queue:
			if frame == nil {
				return
			}
			w.process(frame)
		case <-time.After(QueuePollTimeout):
			w.publishFPS(time.Now())
		}
	}
}

// process runs one frame through the pipeline. Every failure here is
// per-frame: log, discard, move on.
func (w *cameraWorker) process(frame []byte) {
	now := time.Now()
	cfg := w.settings.MotionConfigFor(w.cameraID)

	if cfg.MaxFPS > 0 && !w.lastProcessed.IsZero() {
		interval := time.Duration(float64(time.Second) / float64(cfg.MaxFPS))
		if now.Sub(w.lastProcessed) < interval {
			return
		}
	}

	if len(frame) < MinFrameBytes {
		log.Warn().Str("camera_id", w.cameraID).Int("size", len(frame)).Msg("frame payload too small")
		return
	}

	img, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		log.Warn().Err(err).Str("camera_id", w.cameraID).Msg("frame decode failed")
		return
	}
	defer img.Close()
	if img.Empty() || img.Cols() < MinFrameDim || img.Rows() < MinFrameDim {
		log.Warn().
			Str("camera_id", w.cameraID).
			Int("width", img.Cols()).
			Int("height", img.Rows()).
			Msg("decoded frame unusable")
		return
	}

	boxes := w.detect(&img, cfg)

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, JPEGQuality})
	if err != nil {
		log.Warn().Err(err).Str("camera_id", w.cameraID).Msg("frame encode failed")
		return
	}
	encoded := make([]byte, len(buf.GetBytes()))
	copy(encoded, buf.GetBytes())
	buf.Close()
	if len(encoded) < MinFrameBytes {
		log.Warn().Str("camera_id", w.cameraID).Int("size", len(encoded)).Msg("encoded frame too small")
		return
	}

	w.lastProcessed = now
	w.windowFrames++
	w.publishFPS(now)

	select {
	case w.out <- outboundFrame{cameraID: w.cameraID, data: encoded}:
	default:
		log.Debug().Str("camera_id", w.cameraID).Msg("outbound channel full, frame dropped")
	}

	if len(boxes) > 0 {
		w.events.PublishMotion(w.cameraID, boxes)
	}
}

// detect runs motion analysis on a decoded frame, recovering from a panic so
// a frame the detector chokes on is relayed unannotated rather than taking
// the worker down with it.
func (w *cameraWorker) detect(img *gocv.Mat, cfg MotionConfig) (boxes []image.Rectangle) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("camera_id", w.cameraID).Interface("panic", r).Msg("motion detection failed, frame relayed unannotated")
			boxes = nil
		}
	}()
	return detectMotion(img, cfg, w.state)
}

// publishFPS recomputes and reports the camera's observed fps once per
// window. Reached from both the frame path and the idle poll tick, so a
// stalled camera's fps decays to zero instead of going stale.
func (w *cameraWorker) publishFPS(now time.Time) {
	elapsed := now.Sub(w.windowStart)
	if elapsed < FPSWindow {
		return
	}
	w.status.setCameraFPS(w.cameraID, float64(w.windowFrames)/elapsed.Seconds())
	w.windowStart = now
	w.windowFrames = 0
}

// stop raises the stop flag, unblocks the loop with a sentinel, waits a
// bounded time for it to exit and clears residual queue state. Idempotent;
// never blocks shutdown indefinitely.
func (w *cameraWorker) stop() {
	w.stopping.Store(true)
	select {
	case w.queue <- nil:
	default:
	}
	select {
	case <-w.done:
	case <-time.After(WorkerJoinTimeout):
		log.Warn().Str("camera_id", w.cameraID).Msg("worker did not stop within join timeout")
	}
	w.drainQueue()
}

func (w *cameraWorker) drainQueue() {
	for {
		select {
		case <-w.queue:
		default:
			return
		}
	}
}
