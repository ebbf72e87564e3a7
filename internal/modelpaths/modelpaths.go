// Package modelpaths writes the derived YAML document the payload reads
// to resolve shared model directories.
package modelpaths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

// FileName is the document name under the launcher data directory.
const FileName = "extra_model_paths.yaml"

// modelCategories are the subdirectories resolved against each model
// root, matching the payload's own layout.
var modelCategories = []string{
	"checkpoints", "clip", "clip_vision", "configs", "controlnet",
	"diffusion_models", "embeddings", "gligen", "hypernetworks", "loras",
	"style_models", "text_encoders", "unet", "upscale_models", "vae",
}

// document is a profile name mapping category to a newline-joined list
// of directories; earlier entries win lookups.
type document map[string]map[string]string

// Write renders the model-path document for the ordered model roots
// into dir and returns the file path, handed to the payload as
// --extra-model-paths-config.
func Write(dir string, modelRoots []string) (string, error) {
	profile := map[string]string{}
	for _, category := range modelCategories {
		var paths []string
		for _, root := range modelRoots {
			paths = append(paths, filepath.Join(root, category))
		}
		if len(paths) > 0 {
			profile[category] = strings.Join(paths, "\n")
		}
	}

	data, err := yaml.Marshal(document{"hangar": profile})
	if err != nil {
		return "", fmt.Errorf("failed to encode model paths: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	path := filepath.Join(dir, FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write model paths: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to write model paths: %w", err)
	}
	return path, nil
}
