package camera

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

// gocvDevice wraps a gocv VideoCapture as a CaptureDevice
type gocvDevice struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
}

// OpenGoCVDevice opens the webcam at the given index via OpenCV
func OpenGoCVDevice(index int) (CaptureDevice, error) {
	capture, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture device %d: %w", index, err)
	}
	return &gocvDevice{
		capture: capture,
		mat:     gocv.NewMat(),
	}, nil
}

func (d *gocvDevice) SetProperties(width, height, fps int) {
	d.capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
	d.capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	d.capture.Set(gocv.VideoCaptureFPS, float64(fps))
}

func (d *gocvDevice) Read() (*Frame, bool) {
	if !d.capture.Read(&d.mat) || d.mat.Empty() {
		return nil, false
	}

	// ToBytes copies; the Mat is reused on the next Read
	data := d.mat.ToBytes()
	frame := &Frame{
		Data:      data,
		Width:     d.mat.Cols(),
		Height:    d.mat.Rows(),
		Timestamp: time.Now(),
	}
	return frame, true
}

func (d *gocvDevice) IsOpened() bool {
	return d.capture.IsOpened()
}

func (d *gocvDevice) Close() error {
	d.mat.Close()
	return d.capture.Close()
}
