package detection

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/vigil-sec/vigil/internal/camera"
	"github.com/vigil-sec/vigil/internal/config"
)

// VOC class ids used by the MobileNet-SSD model
const vocPersonClass = 15

var vocAnimalClasses = map[int]string{
	3:  "bird",
	8:  "cat",
	10: "cow",
	12: "dog",
	13: "horse",
	17: "sheep",
}

const dnnInputSize = 300

// DNNClassifier is the gocv-backed primary classifier: a MobileNet-SSD
// network reduced to person-vs-animal classification
type DNNClassifier struct {
	mu            sync.Mutex
	net           gocv.Net
	loaded        bool
	minConfidence float64
	logger        *slog.Logger

	inferences       atomic.Uint64
	personDetections atomic.Uint64
	animalDetections atomic.Uint64
}

// NewDNNClassifier loads the detection network from the configured
// model files. Missing files leave the classifier unloaded and the
// system arms in degraded mode instead of failing.
func NewDNNClassifier(cfg config.DetectionConfig) *DNNClassifier {
	c := &DNNClassifier{
		minConfidence: cfg.MinConfidence,
		logger:        slog.Default().With("component", "classifier"),
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		c.logger.Warn("Detection model not found, classifier disabled", "path", cfg.ModelPath)
		return c
	}
	if _, err := os.Stat(cfg.ModelConfigPath); err != nil {
		c.logger.Warn("Detection model config not found, classifier disabled", "path", cfg.ModelConfigPath)
		return c
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ModelConfigPath)
	if net.Empty() {
		c.logger.Error("Failed to load detection network", "path", cfg.ModelPath)
		return c
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		c.logger.Warn("Failed to set network backend", "error", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		c.logger.Warn("Failed to set network target", "error", err)
	}

	c.net = net
	c.loaded = true
	c.logger.Info("Detection network loaded", "model", cfg.ModelPath)
	return c
}

// Loaded reports whether a usable model is available
func (c *DNNClassifier) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Detect classifies one frame as person/animal/both and derives the
// alert level from the counts
func (c *DNNClassifier) Detect(frame *camera.Frame, draw bool) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		return nil, fmt.Errorf("detection network not loaded")
	}

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap frame: %w", err)
	}
	defer mat.Close()

	// Caffe MobileNet-SSD preprocessing: 1/127.5 scale, 127.5 mean,
	// BGR input so no channel swap
	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(dnnInputSize, dnnInputSize),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), false, false)
	defer blob.Close()

	c.net.SetInput(blob, "")
	output := c.net.Forward("")
	defer output.Close()

	detections := c.parseOutput(output, frame.Width, frame.Height)

	personCount, animalCount := 0, 0
	for _, det := range detections {
		switch det.Classification {
		case ClassPerson:
			personCount++
		case ClassAnimal:
			animalCount++
		}
	}

	c.inferences.Add(1)
	c.personDetections.Add(uint64(personCount))
	c.animalDetections.Add(uint64(animalCount))

	result := &Result{
		Type:        TypeFor(personCount, animalCount),
		AlertLevel:  AlertLevelFor(personCount, animalCount),
		Detections:  detections,
		PersonCount: personCount,
		AnimalCount: animalCount,
	}
	if draw {
		result.Annotated = DrawDetections(frame, detections)
	}
	return result, nil
}

// parseOutput extracts person and animal detections from the SSD
// output tensor (rows of [_, classID, confidence, x1, y1, x2, y2])
func (c *DNNClassifier) parseOutput(output gocv.Mat, width, height int) []Detection {
	var detections []Detection

	rows := output.Total() / 7
	for i := 0; i < rows; i++ {
		confidence := float64(output.GetFloatAt(0, i*7+2))
		if confidence < c.minConfidence {
			continue
		}

		classID := int(output.GetFloatAt(0, i*7+1))
		className, classification := classify(classID)
		if classification == "" {
			continue
		}

		x1 := int(output.GetFloatAt(0, i*7+3) * float32(width))
		y1 := int(output.GetFloatAt(0, i*7+4) * float32(height))
		x2 := int(output.GetFloatAt(0, i*7+5) * float32(width))
		y2 := int(output.GetFloatAt(0, i*7+6) * float32(height))

		detections = append(detections, Detection{
			BBox:           clampBBox(BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}, width, height),
			ClassName:      className,
			Confidence:     confidence,
			Classification: classification,
		})
	}
	return detections
}

// classify maps a VOC class id to the person/animal split; other
// classes are ignored
func classify(classID int) (name, classification string) {
	if classID == vocPersonClass {
		return "person", ClassPerson
	}
	if name, ok := vocAnimalClasses[classID]; ok {
		return name, ClassAnimal
	}
	return "", ""
}

func clampBBox(b BBox, width, height int) BBox {
	if b.X1 < 0 {
		b.X1 = 0
	}
	if b.Y1 < 0 {
		b.Y1 = 0
	}
	if b.X2 > width {
		b.X2 = width
	}
	if b.Y2 > height {
		b.Y2 = height
	}
	return b
}

// ClassifierStats holds inference counters
type ClassifierStats struct {
	Inferences       uint64 `json:"inferences"`
	PersonDetections uint64 `json:"person_detections"`
	AnimalDetections uint64 `json:"animal_detections"`
}

// Stats returns inference statistics
func (c *DNNClassifier) Stats() ClassifierStats {
	return ClassifierStats{
		Inferences:       c.inferences.Load(),
		PersonDetections: c.personDetections.Load(),
		AnimalDetections: c.animalDetections.Load(),
	}
}

// Close releases the network
func (c *DNNClassifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		c.net.Close()
		c.loaded = false
	}
}
