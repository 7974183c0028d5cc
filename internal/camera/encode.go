package camera

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"
)

// EncodeJPEG compresses a BGR frame to JPEG bytes
func EncodeJPEG(frame *Frame) ([]byte, error) {
	if frame == nil {
		return nil, fmt.Errorf("nil frame")
	}
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap frame: %w", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data, nil
}

// ReadImage loads an image file from disk as a BGR frame
func ReadImage(path string) (*Frame, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return nil, fmt.Errorf("failed to read image: %s", path)
	}
	defer mat.Close()

	return &Frame{
		Data:      mat.ToBytes(),
		Width:     mat.Cols(),
		Height:    mat.Rows(),
		Timestamp: time.Now(),
	}, nil
}

// PlaceholderFrame renders a dark frame with centered status text.
// Served when no live frame is available.
func PlaceholderFrame(width, height int, text string) *Frame {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), height, width, gocv.MatTypeCV8UC3)
	defer mat.Close()

	font := gocv.FontHersheySimplex
	scale := 1.0
	thickness := 2
	size := gocv.GetTextSize(text, font, scale, thickness)
	origin := image.Pt((width-size.X)/2, (height+size.Y)/2)
	gocv.PutText(&mat, text, origin, font, scale, color.RGBA{R: 200, G: 200, B: 200, A: 0}, thickness)

	return &Frame{
		Data:      mat.ToBytes(),
		Width:     width,
		Height:    height,
		Timestamp: time.Now(),
	}
}
