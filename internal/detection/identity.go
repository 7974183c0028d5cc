package detection

import (
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/vigil-sec/vigil/internal/camera"
	"github.com/vigil-sec/vigil/internal/config"
)

const (
	faceInputSize  = 300
	embedInputSize = 96
	faceMinConf    = 0.5
)

// personDB is the on-disk face database: named reference embeddings
type personDB struct {
	People []personEntry `json:"people"`
}

type personEntry struct {
	Name       string      `json:"name"`
	Embeddings [][]float32 `json:"embeddings"`
}

// FaceClassifier is the gocv-backed identity classifier: a face
// detector network plus an embedding network, matched against a JSON
// database of authorized embeddings
type FaceClassifier struct {
	mu        sync.Mutex
	detector  gocv.Net
	embedder  gocv.Net
	db        personDB
	dbPath    string
	tolerance float64
	loaded    bool
	logger    *slog.Logger

	inferences   atomic.Uint64
	authorized   atomic.Uint64
	unknownsSeen atomic.Uint64
}

// NewFaceClassifier loads the face networks and the authorized-person
// database. Missing files disable the classifier; the pipeline then
// escalates on stage-1 results alone.
func NewFaceClassifier(cfg config.IdentityConfig) *FaceClassifier {
	c := &FaceClassifier{
		dbPath:    cfg.DatabasePath,
		tolerance: cfg.Tolerance,
		logger:    slog.Default().With("component", "identity"),
	}
	if !cfg.Enabled {
		return c
	}

	for _, path := range []string{cfg.DetectorPath, cfg.EmbedderPath} {
		if _, err := os.Stat(path); err != nil {
			c.logger.Warn("Identity model not found, classifier disabled", "path", path)
			return c
		}
	}

	detector := gocv.ReadNet(cfg.DetectorPath, "")
	if detector.Empty() {
		c.logger.Error("Failed to load face detector", "path", cfg.DetectorPath)
		return c
	}
	embedder := gocv.ReadNet(cfg.EmbedderPath, "")
	if embedder.Empty() {
		detector.Close()
		c.logger.Error("Failed to load face embedder", "path", cfg.EmbedderPath)
		return c
	}

	c.detector = detector
	c.embedder = embedder
	if err := c.loadDB(); err != nil {
		c.logger.Warn("No face database loaded", "path", cfg.DatabasePath, "error", err)
	}
	c.loaded = true
	c.logger.Info("Identity classifier loaded", "people", len(c.db.People))
	return c
}

// Loaded reports whether the identity stage is usable
func (c *FaceClassifier) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Detect finds faces in the frame and labels each as an authorized
// person or an intruder
func (c *FaceClassifier) Detect(frame *camera.Frame, draw bool) (*IdentityResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		return nil, fmt.Errorf("identity classifier not loaded")
	}

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap frame: %w", err)
	}
	defer mat.Close()

	faces := c.detectFaces(mat, frame.Width, frame.Height)
	result := &IdentityResult{}

	for _, rect := range faces {
		name, confidence, ok := c.recognize(mat, rect)
		classification := ClassIntruder
		className := "unknown"
		if ok {
			classification = ClassAuthorized
			className = name
			result.AuthorizedDetected = true
			result.AuthorizedNames = append(result.AuthorizedNames, name)
			c.authorized.Add(1)
		} else {
			result.UnknownCount++
			c.unknownsSeen.Add(1)
		}
		result.Detections = append(result.Detections, Detection{
			BBox:           BBox{X1: rect.Min.X, Y1: rect.Min.Y, X2: rect.Max.X, Y2: rect.Max.Y},
			ClassName:      className,
			Confidence:     confidence,
			Classification: classification,
		})
	}

	c.inferences.Add(1)
	if draw {
		result.Annotated = DrawDetections(frame, result.Detections)
	}
	return result, nil
}

// detectFaces runs the face detector and returns face rectangles
func (c *FaceClassifier) detectFaces(mat gocv.Mat, width, height int) []image.Rectangle {
	blob := gocv.BlobFromImage(mat, 1.0, image.Pt(faceInputSize, faceInputSize),
		gocv.NewScalar(104, 177, 123, 0), false, false)
	defer blob.Close()

	c.detector.SetInput(blob, "")
	output := c.detector.Forward("")
	defer output.Close()

	var faces []image.Rectangle
	rows := output.Total() / 7
	for i := 0; i < rows; i++ {
		confidence := output.GetFloatAt(0, i*7+2)
		if confidence < faceMinConf {
			continue
		}
		x1 := int(output.GetFloatAt(0, i*7+3) * float32(width))
		y1 := int(output.GetFloatAt(0, i*7+4) * float32(height))
		x2 := int(output.GetFloatAt(0, i*7+5) * float32(width))
		y2 := int(output.GetFloatAt(0, i*7+6) * float32(height))
		rect := image.Rect(x1, y1, x2, y2).Intersect(image.Rect(0, 0, width, height))
		if !rect.Empty() {
			faces = append(faces, rect)
		}
	}
	return faces
}

// embed runs the embedding network on one face crop
func (c *FaceClassifier) embed(mat gocv.Mat, rect image.Rectangle) []float32 {
	crop := mat.Region(rect)
	defer crop.Close()

	blob := gocv.BlobFromImage(crop, 1.0/255.0, image.Pt(embedInputSize, embedInputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	c.embedder.SetInput(blob, "")
	output := c.embedder.Forward("")
	defer output.Close()

	embedding := make([]float32, output.Total())
	for i := range embedding {
		embedding[i] = output.GetFloatAt(0, i)
	}
	return embedding
}

// recognize embeds one face crop and matches it against the database
func (c *FaceClassifier) recognize(mat gocv.Mat, rect image.Rectangle) (name string, confidence float64, authorized bool) {
	embedding := c.embed(mat, rect)

	bestName, bestDist := "", math.MaxFloat64
	for _, person := range c.db.People {
		for _, ref := range person.Embeddings {
			if d := euclidean(embedding, ref); d < bestDist {
				bestName, bestDist = person.Name, d
			}
		}
	}

	if bestDist <= c.tolerance {
		return bestName, 1 - bestDist/c.tolerance, true
	}
	return "", 0, false
}

// Enroll detects faces in the frame, embeds each one and stores the
// embeddings under the given name. Returns the number of faces
// enrolled. Backs the enroll subcommand.
func (c *FaceClassifier) Enroll(name string, frame *camera.Frame) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		return 0, fmt.Errorf("identity classifier not loaded")
	}

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return 0, fmt.Errorf("failed to wrap frame: %w", err)
	}
	defer mat.Close()

	faces := c.detectFaces(mat, frame.Width, frame.Height)
	if len(faces) == 0 {
		return 0, fmt.Errorf("no face found in image")
	}

	embeddings := make([][]float32, 0, len(faces))
	for _, rect := range faces {
		embeddings = append(embeddings, c.embed(mat, rect))
	}
	if err := c.addPersonLocked(name, embeddings); err != nil {
		return 0, err
	}
	return len(faces), nil
}

// AddPerson appends reference embeddings for a name and saves the
// database
func (c *FaceClassifier) AddPerson(name string, embeddings [][]float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addPersonLocked(name, embeddings)
}

func (c *FaceClassifier) addPersonLocked(name string, embeddings [][]float32) error {
	for i := range c.db.People {
		if c.db.People[i].Name == name {
			c.db.People[i].Embeddings = append(c.db.People[i].Embeddings, embeddings...)
			return c.saveDB()
		}
	}
	c.db.People = append(c.db.People, personEntry{Name: name, Embeddings: embeddings})
	return c.saveDB()
}

func (c *FaceClassifier) loadDB() error {
	data, err := os.ReadFile(c.dbPath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &c.db)
}

func (c *FaceClassifier) saveDB() error {
	data, err := json.MarshalIndent(&c.db, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.dbPath, data, 0o600)
}

// Close releases both networks
func (c *FaceClassifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		c.detector.Close()
		c.embedder.Close()
		c.loaded = false
	}
}

func euclidean(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
