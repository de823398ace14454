// Package artifact stores suite collections as zstd-compressed JSON files.
package artifact

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"mintage/internal/core"
)

// File names inside the output directory.
const (
	AlignedFile = "procrustes_suites.json.zst"
	FinalFile   = "mint_age_final_suites.json.zst"
)

// Artifact kinds.
const (
	KindAligned = "aligned"
	KindFinal   = "final"
)

const formatVersion = 1

// ErrCorrupt is returned when a file exists but cannot be decoded.
var ErrCorrupt = errors.New("artifact is corrupt")

// Envelope wraps a suite collection with enough metadata to tell
// artifacts apart.
type Envelope struct {
	Version   int          `json:"version"`
	Kind      string       `json:"kind"`
	RunID     string       `json:"run_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	Suites    []core.Suite `json:"suites"`
}

// Save writes env to path through a temp file in the same directory, so a
// reader never sees a partial artifact.
func Save(path string, env Envelope) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if env.Version == 0 {
		env.Version = formatVersion
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}

	buf := bufio.NewWriterSize(tmp, 256*1024)
	enc, err := zstd.NewWriter(buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("failed to create compressor: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(env); err != nil {
		_ = enc.Close()
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finish compression: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	tmpName = ""
	return nil
}

// Load reads the artifact at path and checks that it holds the expected
// kind. A missing file yields an error matching os.ErrNotExist; anything
// unreadable after that matches ErrCorrupt.
func Load(path, kind string) (*Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	env, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if env.Kind != kind {
		return nil, fmt.Errorf("%w: %s: kind %q, expected %q", ErrCorrupt, path, env.Kind, kind)
	}
	if env.Version > formatVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrCorrupt, path, env.Version)
	}
	return env, nil
}

func decode(r io.Reader) (*Envelope, error) {
	dec, err := zstd.NewReader(bufio.NewReader(r))
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var env Envelope
	if err := json.NewDecoder(dec).Decode(&env); err != nil {
		return nil, err
	}
	return &env, nil
}
