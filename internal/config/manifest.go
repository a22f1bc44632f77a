package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"streamsync/internal/model"
)

// manifestSchema validates sync manifests before they are trusted:
// the file is user-edited and a malformed id would silently break
// priority ordering.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "highPriorityStreams"],
  "properties": {
    "version": { "type": "integer", "minimum": 1, "maximum": 1 },
    "highPriorityStreams": {
      "type": "array",
      "items": { "type": "string", "pattern": "^[0-9a-f]{64}$" }
    }
  },
  "additionalProperties": false
}`

var (
	compileManifestSchemaOnce sync.Once
	compiledManifestSchema    *jsonschema.Schema
	manifestSchemaErr         error
)

func getManifestSchema() (*jsonschema.Schema, error) {
	compileManifestSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("manifest.schema.json", bytes.NewReader([]byte(manifestSchema))); err != nil {
			manifestSchemaErr = err
			return
		}
		compiledManifestSchema, manifestSchemaErr = compiler.Compile("manifest.schema.json")
	})
	return compiledManifestSchema, manifestSchemaErr
}

// Manifest lists the streams the application wants hydrated first.
type Manifest struct {
	Version             int              `json:"version"`
	HighPriorityStreams []model.StreamID `json:"highPriorityStreams"`
}

// LoadManifest reads, schema-validates, and parses a sync manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	schema, err := getManifestSchema()
	if err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("manifest schema validation: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	for _, id := range m.HighPriorityStreams {
		if !id.Valid() {
			return nil, fmt.Errorf("manifest: invalid stream id %q", string(id))
		}
	}
	return &m, nil
}

// ManifestWatcher reloads the sync manifest when its file changes and
// pushes the new high-priority set to a callback.
type ManifestWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Manifest)
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.RWMutex
	manifest *Manifest
}

// NewManifestWatcher loads the manifest once and prepares watching.
func NewManifestWatcher(path string, onChange func(*Manifest)) (*ManifestWatcher, error) {
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ManifestWatcher{
		path:     path,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
		manifest: m,
	}, nil
}

// Manifest returns the most recently loaded manifest.
func (w *ManifestWatcher) Manifest() *Manifest {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.manifest
}

// Start begins watching the manifest file.
func (w *ManifestWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.watcher = watcher
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch manifest dir: %w", err)
	}
	go w.loop()
	return nil
}

func (w *ManifestWatcher) loop() {
	var debounce *time.Timer
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, w.reload)
		case <-w.watcher.Errors:
		}
	}
}

func (w *ManifestWatcher) reload() {
	m, err := LoadManifest(w.path)
	if err != nil {
		// A half-written or invalid manifest keeps the previous one.
		return
	}
	w.mu.Lock()
	w.manifest = m
	w.mu.Unlock()
	if w.onChange != nil {
		w.onChange(m)
	}
}

// Close stops watching.
func (w *ManifestWatcher) Close() error {
	w.cancel()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
