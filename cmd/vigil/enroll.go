package main

import (
	"fmt"
	"os"

	"github.com/vigil-sec/vigil/internal/camera"
	"github.com/vigil-sec/vigil/internal/detection"
	"github.com/vigil-sec/vigil/internal/models"
)

// runEnroll adds a person to the authorized face database from one or
// more photos, fetching the face models first if they are missing.
func runEnroll(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: vigil enroll <name> <image>...")
		return 2
	}
	name, images := args[0], args[1:]

	cfg := loadConfig()
	initLogging(cfg)

	// Enrollment needs the face networks even when runtime identity
	// checks are switched off
	cfg.Identity.Enabled = true
	manager := models.NewManager(cfg.System.DataPath)
	resolveModel(manager, &cfg.Identity.DetectorPath, models.FaceDetector)
	resolveModel(manager, &cfg.Identity.EmbedderPath, models.FaceEmbedder)

	face := detection.NewFaceClassifier(cfg.Identity)
	defer face.Close()
	if !face.Loaded() {
		fmt.Fprintln(os.Stderr, "identity models unavailable")
		return 1
	}

	total := 0
	for _, path := range images {
		frame, err := camera.ReadImage(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			return 1
		}
		n, err := face.Enroll(name, frame)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			return 1
		}
		total += n
	}

	fmt.Printf("Enrolled %d face(s) for %s\n", total, name)
	return 0
}
