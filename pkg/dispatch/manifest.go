// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package dispatch

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/config"
)

// ManifestAction is one declared tool in the tier-0 manifest. Older
// manifests carry the identifier under "aid"; both spellings resolve
// to the canonical form.
type ManifestAction struct {
	ID          string      `json:"id"`
	LegacyID    string      `json:"aid"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema *JSONSchema `json:"inputs_schema"`
	SideEffects []string    `json:"side_effects"`
}

// CanonicalID returns the normalized action identifier.
func (a *ManifestAction) CanonicalID() string {
	id := a.ID
	if id == "" {
		id = a.LegacyID
	}
	return ResolveAlias(id)
}

// Manifest is the tier-0 tool declaration file written by the tool-host
// build.
type Manifest struct {
	Tools []ManifestAction `json:"tools"`
}

// Action finds a declared action by canonical identifier.
func (m *Manifest) Action(id string) (*ManifestAction, bool) {
	for i := range m.Tools {
		if m.Tools[i].CanonicalID() == id {
			return &m.Tools[i], true
		}
	}
	return nil, false
}

// SideEffects reports a declared action's side effects.
func (m *Manifest) SideEffects(id string) ([]string, bool) {
	action, ok := m.Action(id)
	if !ok {
		return nil, false
	}
	return action.SideEffects, true
}

// IDs returns every declared canonical identifier.
func (m *Manifest) IDs() []string {
	ids := make([]string, 0, len(m.Tools))
	for i := range m.Tools {
		if id := m.Tools[i].CanonicalID(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// LoadManifest reads a manifest file. A missing file is an empty
// manifest, not an error; the tool host is optional.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ManifestLoader caches the parsed manifest and re-reads it only when
// the file's mtime moves, so permission inference can consult it on
// every check without hammering the disk.
type ManifestLoader struct {
	path   string
	logger *zap.Logger

	mu       sync.Mutex
	mtime    time.Time
	manifest *Manifest
}

// NewManifestLoader creates a loader; empty path uses the configured
// location.
func NewManifestLoader(path string, logger *zap.Logger) *ManifestLoader {
	if path == "" {
		path = config.GetManifestPath()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ManifestLoader{path: path, logger: logger, manifest: &Manifest{}}
}

// Current returns the manifest, re-parsing when the file changed.
func (l *ManifestLoader) Current() *Manifest {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.path)
	if err != nil {
		return l.manifest
	}
	if info.ModTime().Equal(l.mtime) && l.manifest != nil {
		return l.manifest
	}
	m, err := LoadManifest(l.path)
	if err != nil {
		l.logger.Warn("manifest load failed", zap.String("path", l.path), zap.Error(err))
		return l.manifest
	}
	l.mtime = info.ModTime()
	l.manifest = m
	return l.manifest
}

// RegisterHostTools installs every manifest-declared action as a
// tool-host forward and returns how many registered.
func RegisterHostTools(reg *Registry, manifest *Manifest, host *Host) int {
	count := 0
	for i := range manifest.Tools {
		action := &manifest.Tools[i]
		id := action.CanonicalID()
		if id == "" || ValidateActionID(id) != nil {
			continue
		}
		tool := NewHostTool(id, action.Description, action.InputSchema, action.SideEffects, host)
		if reg.Register(tool) == nil {
			count++
		}
	}
	return count
}
