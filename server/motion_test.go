package main

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func testMotionConfig() MotionConfig {
	return MotionConfig{MinArea: 100, Threshold: 25, BlurSize: 5, Dilation: 2}
}

// uniformFrame builds a solid-color BGR frame.
func uniformFrame(t *testing.T, rows, cols int, value float64) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC3)
	m.SetTo(gocv.NewScalar(value, value, value, 0))
	return m
}

func TestFirstFramePrimesWithoutAnnotation(t *testing.T) {
	state := newMotionState()
	defer state.Close()

	frame := uniformFrame(t, 400, 400, 60)
	defer frame.Close()

	boxes := detectMotion(&frame, testMotionConfig(), state)
	assert.Empty(t, boxes)
	assert.False(t, state.prevBlurred.Empty())
}

func TestStaticSceneYieldsNoBoxes(t *testing.T) {
	state := newMotionState()
	defer state.Close()
	cfg := testMotionConfig()

	prime := uniformFrame(t, 400, 400, 60)
	defer prime.Close()
	detectMotion(&prime, cfg, state)

	same := uniformFrame(t, 400, 400, 60)
	defer same.Close()
	boxes := detectMotion(&same, cfg, state)
	assert.Empty(t, boxes)
}

func TestInjectedRectangleIsDetected(t *testing.T) {
	state := newMotionState()
	defer state.Close()
	cfg := testMotionConfig()

	prime := uniformFrame(t, 400, 400, 60)
	defer prime.Close()
	detectMotion(&prime, cfg, state)

	moved := uniformFrame(t, 400, 400, 60)
	defer moved.Close()
	region := image.Rect(100, 100, 220, 220)
	gocv.Rectangle(&moved, region, color.RGBA{R: 255, G: 255, B: 255}, -1)

	boxes := detectMotion(&moved, cfg, state)
	require.NotEmpty(t, boxes)

	found := false
	for _, b := range boxes {
		if b.Overlaps(region) {
			found = true
		}
	}
	assert.True(t, found, "no bounding box overlaps the injected rectangle, got %v", boxes)
}

func TestResolutionChangeKeepsBaseline(t *testing.T) {
	state := newMotionState()
	defer state.Close()
	cfg := testMotionConfig()

	prime := uniformFrame(t, 400, 400, 60)
	defer prime.Close()
	detectMotion(&prime, cfg, state)

	// the stored baseline is resized, not discarded
	bigger := uniformFrame(t, 480, 640, 60)
	defer bigger.Close()
	detectMotion(&bigger, cfg, state)
	assert.Equal(t, 480/2, state.prevBlurred.Rows())
	assert.Equal(t, 640/2, state.prevBlurred.Cols())

	same := uniformFrame(t, 480, 640, 60)
	defer same.Close()
	boxes := detectMotion(&same, cfg, state)
	assert.Empty(t, boxes)
}

func TestZeroDilationLeavesMaskUndilated(t *testing.T) {
	state := newMotionState()
	defer state.Close()
	cfg := testMotionConfig()
	cfg.Dilation = 0

	prime := uniformFrame(t, 400, 400, 60)
	defer prime.Close()
	detectMotion(&prime, cfg, state)

	moved := uniformFrame(t, 400, 400, 60)
	defer moved.Close()
	region := image.Rect(100, 100, 220, 220)
	gocv.Rectangle(&moved, region, color.RGBA{R: 255, G: 255, B: 255}, -1)

	boxes := detectMotion(&moved, cfg, state)
	require.NotEmpty(t, boxes, "a large change must be detected without dilation")

	found := false
	for _, b := range boxes {
		if b.Overlaps(region) {
			found = true
		}
	}
	assert.True(t, found, "no bounding box overlaps the changed region, got %v", boxes)
}

func TestEvenBlurSizeIsForcedOdd(t *testing.T) {
	state := newMotionState()
	defer state.Close()
	cfg := testMotionConfig()
	cfg.BlurSize = 4 // Gaussian kernels must be odd; caller errors are tolerated

	frame := uniformFrame(t, 400, 400, 60)
	defer frame.Close()
	assert.NotPanics(t, func() {
		detectMotion(&frame, cfg, state)
	})
}
