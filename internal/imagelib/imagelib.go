// Package imagelib lists the perturbation-image library: pairs of original
// and perturbed PNGs described by {prefix}_metadata.json sidecar files.
package imagelib

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

const metadataSuffix = "_metadata.json"

// Entry describes one image pair as exposed to the experiment frontend.
type Entry struct {
	Prefix        string   `json:"prefix"`
	Frequency     *float64 `json:"frequency"`
	FrequencyName *string  `json:"frequencyName"`
	TargetValue   *float64 `json:"targetValue"`
	Repetition    int      `json:"repetition"`
	Mode          *string  `json:"mode"`
	Magnitude     *float64 `json:"magnitude"`
	SSIM          *float64 `json:"ssim"`
	KL            *float64 `json:"kl"`
	OriginalPath  string   `json:"originalPath"`
	PerturbedPath string   `json:"perturbedPath"`
}

type metadata struct {
	Frequency     *float64 `json:"frequency"`
	FrequencyName *string  `json:"frequencyName"`
	TargetValue   *float64 `json:"targetValue"`
	Repetition    *int     `json:"repetition"`
	Mode          *string  `json:"mode"`
	Magnitude     *float64 `json:"magnitude"`
	SSIM          *float64 `json:"ssim"`
	KL            *float64 `json:"kl"`
}

// Library scans an image directory for metadata/PNG triples.
// New libraries keep their files under an images/ subdirectory; older ones
// put everything in the root, and both layouts are supported at once.
type Library struct {
	dir     string
	urlBase string
	log     zerolog.Logger
}

// New returns a Library over dir. urlBase is the URL prefix under which the
// directory is served (e.g. "/images").
func New(dir, urlBase string, log zerolog.Logger) (*Library, error) {
	if dir == "" {
		return nil, errors.New("image directory cannot be empty")
	}
	return &Library{dir: dir, urlBase: strings.TrimSuffix(urlBase, "/"), log: log}, nil
}

// Dir returns the directory the library serves from.
func (l *Library) Dir() string { return l.dir }

// List scans for complete image pairs. Pairs with a missing PNG are skipped,
// and unparsable metadata files are logged and skipped rather than failing
// the whole listing.
func (l *Library) List() ([]Entry, error) {
	if _, err := os.Stat(l.dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("stat image directory: %w", err)
	}

	var entries []Entry
	subdir := filepath.Join(l.dir, "images")
	if _, err := os.Stat(subdir); err == nil {
		found, err := l.scan(subdir, "images")
		if err != nil {
			return nil, err
		}
		entries = append(entries, found...)
	}
	found, err := l.scan(l.dir, "")
	if err != nil {
		return nil, err
	}
	entries = append(entries, found...)
	return entries, nil
}

func (l *Library) scan(dir, rel string) ([]Entry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image directory %s: %w", dir, err)
	}

	var entries []Entry
	for _, f := range files {
		if !f.Type().IsRegular() || !strings.HasSuffix(f.Name(), metadataSuffix) {
			continue
		}
		prefix := strings.TrimSuffix(f.Name(), metadataSuffix)

		raw, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			l.log.Warn().Err(err).Str("file", f.Name()).Msg("skipping unreadable metadata")
			continue
		}
		var md metadata
		if err := json.Unmarshal(raw, &md); err != nil {
			l.log.Warn().Err(err).Str("file", f.Name()).Msg("skipping unparsable metadata")
			continue
		}

		original := prefix + "_original.png"
		perturbed := prefix + "_perturbed.png"
		if !fileExists(filepath.Join(dir, original)) || !fileExists(filepath.Join(dir, perturbed)) {
			continue
		}

		relPrefix := prefix
		if rel != "" {
			relPrefix = rel + "/" + prefix
		}
		repetition := 1
		if md.Repetition != nil {
			repetition = *md.Repetition
		}
		entries = append(entries, Entry{
			Prefix:        prefix,
			Frequency:     md.Frequency,
			FrequencyName: md.FrequencyName,
			TargetValue:   md.TargetValue,
			Repetition:    repetition,
			Mode:          md.Mode,
			Magnitude:     md.Magnitude,
			SSIM:          md.SSIM,
			KL:            md.KL,
			OriginalPath:  path.Join(l.urlBase, relPrefix+"_original.png"),
			PerturbedPath: path.Join(l.urlBase, relPrefix+"_perturbed.png"),
		})
	}
	return entries, nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
