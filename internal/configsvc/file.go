package configsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"query-orchestrator/internal/common/logger"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileSource reads keys from a YAML document whose top-level keys are config keys.
type FileSource struct {
	path string
	log  logger.Logger
}

func NewFileSource(path string, log logger.Logger) *FileSource {
	return &FileSource{path: path, log: logger.Component(log, "config-file")}
}

func (s *FileSource) Name() string { return "file" }

func (s *FileSource) Fetch(ctx context.Context, key string) ([]byte, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	value, ok := doc[key]
	if !ok {
		return nil, ErrNotFound
	}
	body, err := json.Marshal(normalizeYAML(value))
	if err != nil {
		return nil, fmt.Errorf("config file key %s: %w", key, err)
	}
	return body, nil
}

// Keys lists the top-level keys present in the file.
func (s *FileSource) Keys() ([]string, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *FileSource) load() (map[string]interface{}, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", s.path, err)
	}
	return doc, nil
}

// normalizeYAML converts non-string map keys so the value can be encoded as JSON.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		for i := range t {
			t[i] = normalizeYAML(t[i])
		}
		return t
	default:
		return v
	}
}

// Watch calls onChange whenever the file is written, created or replaced, until ctx is done.
// Change events are hints; callers still poll.
func (s *FileSource) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	// Watch the directory so editors that replace the file by rename are seen.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	target := filepath.Clean(s.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				s.log.Debug("config file changed", map[string]interface{}{
					"file": event.Name,
					"op":   event.Op.String(),
				})
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("config file watcher error", map[string]interface{}{"error": err.Error()})
			}
		}
	}()
	return nil
}
