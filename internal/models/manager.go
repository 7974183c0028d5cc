// Package models fetches the DNN model files the classifiers load.
// Models are downloaded once into <data>/models and reused across
// restarts.
package models

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

// Model identifiers resolvable through the catalog
const (
	ObjectModel  = "mobilenet-ssd"
	ObjectConfig = "mobilenet-ssd-proto"
	FaceDetector = "res10-face"
	FaceEmbedder = "openface-nn4"
)

// Info describes one downloadable model file
type Info struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Size     int64  `json:"size"` // bytes, 0 = unknown
}

// Catalog maps model ids to their download sources
var Catalog = map[string]Info{
	ObjectModel: {
		ID:       ObjectModel,
		Filename: "MobileNetSSD_deploy.caffemodel",
		URL:      "https://github.com/chuanqi305/MobileNet-SSD/raw/master/mobilenet_iter_73000.caffemodel",
		Size:     23147564,
	},
	ObjectConfig: {
		ID:       ObjectConfig,
		Filename: "MobileNetSSD_deploy.prototxt",
		URL:      "https://raw.githubusercontent.com/chuanqi305/MobileNet-SSD/master/deploy.prototxt",
	},
	FaceDetector: {
		ID:       FaceDetector,
		Filename: "res10_300x300_ssd_iter_140000.caffemodel",
		URL:      "https://github.com/opencv/opencv_3rdparty/raw/dnn_samples_face_detector_20170830/res10_300x300_ssd_iter_140000.caffemodel",
		Size:     10666211,
	},
	FaceEmbedder: {
		ID:       FaceEmbedder,
		Filename: "nn4.small2.v1.t7",
		URL:      "https://storage.cmusatyalab.org/openface-models/nn4.small2.v1.t7",
		Size:     31510785,
	},
}

// Manager downloads catalog models into the models directory
type Manager struct {
	mu     sync.Mutex
	dir    string
	client *http.Client
	logger *slog.Logger
}

// NewManager creates a model manager rooted at <dataPath>/models
func NewManager(dataPath string) *Manager {
	return &Manager{
		dir:    filepath.Join(dataPath, "models"),
		client: http.DefaultClient,
		logger: slog.Default().With("component", "models"),
	}
}

// Path returns where the given model lives once downloaded
func (m *Manager) Path(id string) string {
	info, ok := Catalog[id]
	if !ok {
		return ""
	}
	return filepath.Join(m.dir, info.Filename)
}

// Downloaded reports whether the model file is present and complete
func (m *Manager) Downloaded(id string) bool {
	info, ok := Catalog[id]
	if !ok {
		return false
	}
	fi, err := os.Stat(filepath.Join(m.dir, info.Filename))
	if err != nil {
		return false
	}
	return info.Size == 0 || fi.Size() == info.Size
}

// Ensure returns the local path of the model, downloading it first if
// it is missing. Safe for concurrent callers; downloads are serialized.
func (m *Manager) Ensure(ctx context.Context, id string) (string, error) {
	info, ok := Catalog[id]
	if !ok {
		return "", fmt.Errorf("unknown model %q", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dest := filepath.Join(m.dir, info.Filename)
	if m.Downloaded(id) {
		return dest, nil
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create models directory: %w", err)
	}

	m.logger.Info("Downloading model", "id", id, "url", info.URL)
	if err := m.download(ctx, info, dest); err != nil {
		return "", err
	}
	m.logger.Info("Model ready", "id", id, "path", dest)
	return dest, nil
}

// download fetches to a temp file and renames, so a partial download
// never passes the size check on the next start
func (m *Manager) download(ctx context.Context, info Info, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return err
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", info.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: status %d", info.ID, resp.StatusCode)
	}

	tmp := dest + ".download"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	written, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", info.ID, err)
	}
	if info.Size != 0 && written != info.Size {
		os.Remove(tmp)
		return fmt.Errorf("model %s truncated: got %d bytes, want %d", info.ID, written, info.Size)
	}

	return os.Rename(tmp, dest)
}
