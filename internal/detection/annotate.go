package detection

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/vigil-sec/vigil/internal/camera"
)

var (
	colorPerson     = color.RGBA{R: 255, A: 255}
	colorAnimal     = color.RGBA{G: 255, A: 255}
	colorAuthorized = color.RGBA{G: 200, B: 255, A: 255}
)

// DrawDetections renders bounding boxes and labels onto a copy of the
// frame. The source frame is left untouched.
func DrawDetections(frame *camera.Frame, detections []Detection) *camera.Frame {
	if frame == nil {
		return nil
	}
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return frame.Clone()
	}
	defer mat.Close()

	for _, det := range detections {
		boxColor := colorForClassification(det.Classification)
		thickness := 1
		if det.Classification == ClassPerson || det.Classification == ClassIntruder {
			thickness = 2
		}

		rect := image.Rect(det.BBox.X1, det.BBox.Y1, det.BBox.X2, det.BBox.Y2)
		gocv.Rectangle(&mat, rect, boxColor, thickness)

		label := fmt.Sprintf("%s %.0f%%", det.ClassName, det.Confidence*100)
		origin := image.Pt(det.BBox.X1, det.BBox.Y1-6)
		if origin.Y < 12 {
			origin.Y = det.BBox.Y1 + 14
		}
		gocv.PutText(&mat, label, origin, gocv.FontHersheySimplex, 0.5, boxColor, 1)
	}

	return &camera.Frame{
		Data:      mat.ToBytes(),
		Width:     frame.Width,
		Height:    frame.Height,
		Timestamp: frame.Timestamp,
	}
}

func colorForClassification(classification string) color.RGBA {
	switch classification {
	case ClassAnimal:
		return colorAnimal
	case ClassAuthorized:
		return colorAuthorized
	default:
		return colorPerson
	}
}
