package main

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// motionState holds the previous blurred frame for one camera. It is owned by
// that camera's worker and never shared.
type motionState struct {
	prevBlurred gocv.Mat
}

func newMotionState() *motionState {
	return &motionState{prevBlurred: gocv.NewMat()}
}

func (s *motionState) Close() {
	s.prevBlurred.Close()
}

var motionBoxColor = color.RGBA{G: 255}

// detectMotion compares the frame against the camera's previous frame and
// draws a bounding box around each region of change larger than
// cfg.MinArea. Analysis runs on a downscaled grayscale copy; only the final
// rectangles are mapped back to full resolution. The first frame primes the
// state and is never annotated. Returns the drawn boxes in full-resolution
// coordinates.
func detectMotion(frame *gocv.Mat, cfg MotionConfig, state *motionState) []image.Rectangle {
	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(*frame, &small, image.Point{}, DownscaleFactor, DownscaleFactor, gocv.InterpolationArea)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(small, &gray, gocv.ColorBGRToGray)

	ksize := cfg.BlurSize
	if ksize < 1 {
		ksize = 1
	}
	if ksize%2 == 0 {
		ksize++
	}
	blurred := gocv.NewMat()
	gocv.GaussianBlur(gray, &blurred, image.Pt(ksize, ksize), 0, 0, gocv.BorderDefault)

	if state.prevBlurred.Empty() {
		state.prevBlurred.Close()
		state.prevBlurred = blurred
		return nil
	}

	// Resolution changes must not discard the baseline; resize it instead.
	if state.prevBlurred.Rows() != blurred.Rows() || state.prevBlurred.Cols() != blurred.Cols() {
		resized := gocv.NewMat()
		gocv.Resize(state.prevBlurred, &resized, image.Pt(blurred.Cols(), blurred.Rows()), 0, 0, gocv.InterpolationLinear)
		state.prevBlurred.Close()
		state.prevBlurred = resized
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(state.prevBlurred, blurred, &diff)
	state.prevBlurred.Close()
	state.prevBlurred = blurred

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, float32(cfg.Threshold), 255, gocv.ThresholdBinary)

	mask := thresh
	dilated := gocv.NewMat()
	defer dilated.Close()
	if cfg.Dilation > 0 {
		kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 5))
		defer kernel.Close()
		gocv.Dilate(thresh, &dilated, kernel)
		for i := 1; i < cfg.Dilation; i++ {
			gocv.Dilate(dilated, &dilated, kernel)
		}
		mask = dilated
	}

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var boxes []image.Rectangle
	scale := 1.0 / DownscaleFactor
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		if gocv.ContourArea(contour) <= float64(cfg.MinArea) {
			continue
		}
		r := gocv.BoundingRect(contour)
		box := image.Rect(
			int(float64(r.Min.X)*scale), int(float64(r.Min.Y)*scale),
			int(float64(r.Max.X)*scale), int(float64(r.Max.Y)*scale),
		)
		gocv.Rectangle(frame, box, motionBoxColor, 3)
		boxes = append(boxes, box)
	}
	return boxes
}
