// Package registry stores encoder checkpoints and training metrics on the
// local filesystem. One directory holds one artifact file per model version
// plus an append-only metrics log.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
)

// FileRegistry is safe for concurrent use within one process. It does not
// coordinate across processes.
type FileRegistry struct {
	dir string
	log zerolog.Logger

	mu sync.Mutex
}

func NewFileRegistry(dir string, logger zerolog.Logger) (*FileRegistry, error) {
	if dir == "" {
		return nil, fmt.Errorf("registry directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating registry directory: %w", err)
	}
	return &FileRegistry{
		dir: dir,
		log: logger.With().Str("component", "registry").Logger(),
	}, nil
}

func (r *FileRegistry) artifactPath(version string) string {
	// Versions come from the encoder and contain only [a-z0-9-], but a
	// stray separator must not escape the registry directory.
	safe := strings.ReplaceAll(version, string(os.PathSeparator), "_")
	return filepath.Join(r.dir, safe+".json")
}

// SaveArtifact writes the checkpoint atomically via a temp file rename.
func (r *FileRegistry) SaveArtifact(version string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.artifactPath(version)
	tmp, err := os.CreateTemp(r.dir, "artifact-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming artifact: %w", err)
	}
	r.log.Info().Str("model_version", version).Int("bytes", len(data)).Msg("saved model artifact")
	return nil
}

func (r *FileRegistry) LoadArtifact(version string) ([]byte, error) {
	data, err := os.ReadFile(r.artifactPath(version))
	if err != nil {
		return nil, fmt.Errorf("loading artifact %s: %w", version, err)
	}
	return data, nil
}

// Versions lists the stored model versions, sorted by os.ReadDir order.
func (r *FileRegistry) Versions() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("listing registry: %w", err)
	}
	var versions []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		versions = append(versions, strings.TrimSuffix(name, ".json"))
	}
	return versions, nil
}

type metricRecord struct {
	Name     string    `json:"name"`
	Value    float64   `json:"value"`
	Step     int       `json:"step"`
	LoggedAt time.Time `json:"logged_at"`
}

// LogMetric appends one JSON line to metrics.log.
func (r *FileRegistry) LogMetric(name string, value float64, step int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := metricRecord{Name: name, Value: value, Step: step, LoggedAt: time.Now().UTC()}
	line, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling metric %s: %w", name, err)
	}
	f, err := os.OpenFile(filepath.Join(r.dir, "metrics.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening metrics log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending metric %s: %w", name, err)
	}
	return nil
}
