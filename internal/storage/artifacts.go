// Package storage keeps the registry of export artifacts produced by scrape
// runs, backed by a JSON file so downloads survive a restart.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/lfzhong/amazon-web-scrawler/internal/models"
)

type ArtifactRegistry struct {
	mu        sync.RWMutex
	artifacts map[string]*models.Artifact
	filename  string
}

func NewArtifactRegistry(filename string) (*ArtifactRegistry, error) {
	r := &ArtifactRegistry{
		artifacts: make(map[string]*models.Artifact),
		filename:  filename,
	}

	if err := r.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return r, nil
}

func (r *ArtifactRegistry) Add(artifact *models.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if artifact.ID == "" {
		return fmt.Errorf("artifact ID is required")
	}

	r.artifacts[artifact.ID] = artifact
	return r.save()
}

func (r *ArtifactRegistry) Get(id string) (*models.Artifact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	artifact, exists := r.artifacts[id]
	return artifact, exists
}

// List returns all artifacts, newest first.
func (r *ArtifactRegistry) List() []*models.Artifact {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*models.Artifact, 0, len(r.artifacts))
	for _, a := range r.artifacts {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return all
}

func (r *ArtifactRegistry) save() error {
	data, err := json.MarshalIndent(r.artifacts, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := r.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpFile, r.filename)
}

func (r *ArtifactRegistry) Load() error {
	data, err := os.ReadFile(r.filename)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &r.artifacts)
}
