package main

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type fpsRecorder struct {
	mu   sync.Mutex
	vals map[string][]float64
}

func newFPSRecorder() *fpsRecorder {
	return &fpsRecorder{vals: make(map[string][]float64)}
}

func (r *fpsRecorder) setCameraFPS(id string, fps float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vals[id] = append(r.vals[id], fps)
}

func (r *fpsRecorder) snapshot(id string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.vals[id]...)
}

// encodeTestJPEG builds a JPEG payload big enough to clear the minimum frame
// checks.
func encodeTestJPEG(t *testing.T, rows, cols int) []byte {
	t.Helper()
	m := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC3)
	defer m.Close()
	m.SetTo(gocv.NewScalar(90, 90, 90, 0))
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, m, []int{gocv.IMWriteJpegQuality, 90})
	require.NoError(t, err)
	defer buf.Close()
	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	return data
}

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	w := newCameraWorker("cam1", newTestStore(t), make(chan outboundFrame, 1), newFPSRecorder(), nil)

	total := FrameQueueCapacity + 5
	for i := 0; i < total; i++ {
		w.enqueue([]byte(fmt.Sprintf("frame-%03d", i)))
	}

	var survivors []string
	for {
		select {
		case f := <-w.queue:
			survivors = append(survivors, string(f))
		default:
			require.Len(t, survivors, FrameQueueCapacity)
			for i, s := range survivors {
				assert.Equal(t, fmt.Sprintf("frame-%03d", total-FrameQueueCapacity+i), s)
			}
			return
		}
	}
}

func TestStopReachesIdleAndClearsQueue(t *testing.T) {
	w := newCameraWorker("cam1", newTestStore(t), make(chan outboundFrame, 1), newFPSRecorder(), nil)
	go w.run()

	w.enqueue(make([]byte, 10)) // undersized, rejected without decode
	w.stop()

	select {
	case <-w.done:
	default:
		t.Fatal("worker loop still running after stop")
	}
	assert.Empty(t, w.queue)

	// stop is idempotent
	assert.NotPanics(t, w.stop)
}

func TestRateGovernorDropsBurst(t *testing.T) {
	store := newTestStore(t)
	maxFPS := 1
	store.ApplyMotionPatch("cam1", &motionConfigPatch{MaxFPS: &maxFPS})

	out := make(chan outboundFrame, 10)
	w := newCameraWorker("cam1", store, out, newFPSRecorder(), nil)
	go w.run()
	defer w.stop()

	frame := encodeTestJPEG(t, 240, 240)
	for i := 0; i < 5; i++ {
		w.enqueue(frame)
	}

	// give the loop time to chew through the burst
	deadline := time.After(time.Second)
	for len(w.queue) > 0 {
		select {
		case <-deadline:
			t.Fatal("worker did not drain the burst in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, out, 1, "rate governor should drop all but the first frame of the burst")
}

func TestFPSPublishesPerWindowAndDecaysWhenIdle(t *testing.T) {
	store := newTestStore(t)
	maxFPS := 1
	store.ApplyMotionPatch("cam1", &motionConfigPatch{MaxFPS: &maxFPS})

	rec := newFPSRecorder()
	w := newCameraWorker("cam1", store, make(chan outboundFrame, 10), rec, nil)
	go w.run()
	defer w.stop()

	// a fast burst of which the governor admits exactly one frame
	frame := encodeTestJPEG(t, 240, 240)
	for i := 0; i < 5; i++ {
		w.enqueue(frame)
	}

	// the window recompute runs off the idle poll tick, not the next frame
	deadline := time.After(3 * time.Second)
	for len(rec.snapshot("cam1")) == 0 {
		select {
		case <-deadline:
			t.Fatal("no fps published after the window elapsed")
		case <-time.After(50 * time.Millisecond):
		}
	}
	assert.InDelta(t, 1.0, rec.snapshot("cam1")[0], 0.3)

	// with no further frames the next window reports zero
	deadline = time.After(3 * time.Second)
	for {
		vals := rec.snapshot("cam1")
		if len(vals) >= 2 {
			assert.Equal(t, 0.0, vals[len(vals)-1], "idle window must decay fps to zero")
			return
		}
		select {
		case <-deadline:
			t.Fatal("idle window never published")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestDetectPanicRelaysFrameUnannotated(t *testing.T) {
	w := newCameraWorker("cam1", newTestStore(t), make(chan outboundFrame, 1), newFPSRecorder(), nil)
	// no run loop, so w.state is nil and the detector dereferences it

	frame := uniformFrame(t, 200, 200, 60)
	defer frame.Close()

	assert.NotPanics(t, func() {
		assert.Nil(t, w.detect(&frame, testMotionConfig()))
	})
}

func TestMalformedFramesNeverReachTheRouter(t *testing.T) {
	out := make(chan outboundFrame, 10)
	w := newCameraWorker("cam1", newTestStore(t), out, newFPSRecorder(), nil)
	go w.run()
	defer w.stop()

	w.enqueue([]byte("too short"))
	w.enqueue(make([]byte, 500)) // large enough, but not a decodable image

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, out)
}

func TestProcessedFramesAreReencoded(t *testing.T) {
	out := make(chan outboundFrame, 10)
	w := newCameraWorker("cam1", newTestStore(t), out, newFPSRecorder(), nil)
	go w.run()
	defer w.stop()

	w.enqueue(encodeTestJPEG(t, 240, 320))

	select {
	case f := <-out:
		assert.Equal(t, "cam1", f.cameraID)
		require.Greater(t, len(f.data), MinFrameBytes)
		// JPEG magic
		assert.Equal(t, byte(0xFF), f.data[0])
		assert.Equal(t, byte(0xD8), f.data[1])
	case <-time.After(2 * time.Second):
		t.Fatal("no frame reached the router")
	}
}
