// Package archive stores completed-submission CSV payloads on disk, one file
// per submission named {participantId}_{unixSeconds}.csv.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// ErrInvalidFilename is returned when a requested filename escapes the
// archive directory or is not an archived CSV.
var ErrInvalidFilename = errors.New("invalid archive filename")

// Archive is a flat directory of submission CSVs.
type Archive struct {
	dir string
	log zerolog.Logger
}

// New creates the archive directory if needed and returns an Archive over it.
func New(dir string, log zerolog.Logger) (*Archive, error) {
	if dir == "" {
		return nil, errors.New("archive directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &Archive{dir: dir, log: log}, nil
}

// Save writes one submission and returns the stored filename.
// Participant ids are flattened to a safe filename component, so an id can
// never write outside the archive directory.
func (a *Archive) Save(participantID string, unixSeconds int64, csvData []byte) (string, error) {
	name := fmt.Sprintf("%s_%d.csv", sanitize(participantID), unixSeconds)
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, csvData, 0o644); err != nil {
		return "", fmt.Errorf("write submission %s: %w", name, err)
	}
	a.log.Info().Str("participant", participantID).Str("file", name).Msg("archived submission")
	return name, nil
}

// List returns the archived CSV filenames in sorted order.
func (a *Archive) List() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("read archive directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".csv") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Open returns a reader for one archived CSV. The name must be a bare
// filename produced by Save; anything with a path separator is rejected.
func (a *Archive) Open(name string) (*os.File, error) {
	if name == "" || name != filepath.Base(name) || !strings.HasSuffix(name, ".csv") {
		return nil, ErrInvalidFilename
	}
	f, err := os.Open(filepath.Join(a.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", os.ErrNotExist, name)
		}
		return nil, fmt.Errorf("open submission %s: %w", name, err)
	}
	return f, nil
}

// sanitize reduces a participant id to a filename-safe form.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '-'
		}
	}, id)
}
