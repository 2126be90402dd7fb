// Package store persists stream settings into the appliance's shared
// config.json. The document is owned by several subsystems, so updates
// are read-modify-write and only touch the "rist" subtree; every other
// key round-trips untouched.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/glowf1sh/glowboxremote/internal/pipeline"
)

// StreamSettings is the slice of the document this package owns.
type StreamSettings struct {
	VideoBitrateBps int
	AudioBitrateBps int
	Links           []pipeline.Link
}

// ConfigStore reads and updates the shared JSON configuration document.
// Methods are not internally synchronized; the adaptive controller is
// the single writer.
type ConfigStore struct {
	logger hclog.Logger
	path   string
}

// New creates a store bound to the given document path.
func New(path string, logger hclog.Logger) *ConfigStore {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ConfigStore{
		logger: logger.Named("store"),
		path:   path,
	}
}

// Path returns the backing document path.
func (s *ConfigStore) Path() string { return s.path }

// Load reads the stream settings from the document. A missing document
// or a missing "rist" subtree yields zero settings without error, so a
// fresh appliance boots on profile defaults.
func (s *ConfigStore) Load() (StreamSettings, error) {
	var settings StreamSettings

	doc, err := s.readDocument()
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("config document absent, using defaults", "path", s.path)
			return settings, nil
		}
		return settings, err
	}

	section, ok := doc["rist"].(map[string]any)
	if !ok {
		return settings, nil
	}

	if v, ok := section["video_bitrate"].(float64); ok {
		settings.VideoBitrateBps = int(v)
	}
	if v, ok := section["audio_bitrate"].(float64); ok {
		settings.AudioBitrateBps = int(v)
	}
	if raw, ok := section["links"].([]any); ok {
		for _, entry := range raw {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			link := pipeline.Link{Weight: 100}
			if v, ok := m["address"].(string); ok {
				link.Address = v
			}
			if v, ok := m["port"].(float64); ok {
				link.Port = int(v)
			}
			if v, ok := m["enabled"].(bool); ok {
				link.Enabled = v
			}
			if v, ok := m["weight"].(float64); ok {
				link.Weight = int(v)
			}
			settings.Links = append(settings.Links, link)
		}
	}
	return settings, nil
}

// SaveStreamConfig implements adaptive.ConfigSaver. The document is
// re-read on every save so concurrent edits to unrelated sections are
// never lost.
func (s *ConfigStore) SaveStreamConfig(videoBitrateBps, audioBitrateBps int, links []pipeline.Link) error {
	doc, err := s.readDocument()
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		doc = make(map[string]any)
	}

	section, ok := doc["rist"].(map[string]any)
	if !ok {
		section = make(map[string]any)
		doc["rist"] = section
	}

	if videoBitrateBps > 0 {
		section["video_bitrate"] = videoBitrateBps
	}
	if audioBitrateBps > 0 {
		section["audio_bitrate"] = audioBitrateBps
	}
	if links != nil {
		entries := make([]any, 0, len(links))
		for _, link := range links {
			entries = append(entries, map[string]any{
				"address": link.Address,
				"port":    link.Port,
				"enabled": link.Enabled,
			})
		}
		section["links"] = entries
	}

	if err := s.writeDocument(doc); err != nil {
		return err
	}
	s.logger.Debug("stream configuration saved", "path", s.path)
	return nil
}

func (s *ConfigStore) readDocument() (map[string]any, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return doc, nil
}

// writeDocument replaces the document atomically so a crash mid-write
// never leaves a truncated config behind.
func (s *ConfigStore) writeDocument(doc map[string]any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
