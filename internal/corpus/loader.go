// Package corpus reads transcript segments and annotation layers from disk.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/tribuna/internal/model"
)

// DefaultMaxBytes caps a single input file.
const DefaultMaxBytes = 64 << 20

// Loader reads one debate's inputs from a corpus directory laid out as
//
//	<dir>/segments/<debate>.jsonl          (or a legacy <debate>_segments.csv)
//	<dir>/<annotations>/<layer>/<debate>.jsonl   (or legacy <debate>.txt markup)
type Loader struct {
	dir            string
	segmentsGlob   string
	annotationsDir string
	maxBytes       int64
}

// NewLoader creates a loader for cfg.
func NewLoader(cfg model.CorpusConfig) *Loader {
	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	ann := cfg.AnnotationsDir
	if ann == "" {
		ann = "annotations"
	}
	if !filepath.IsAbs(ann) {
		ann = filepath.Join(dir, ann)
	}
	glob := cfg.SegmentsGlob
	if glob == "" {
		glob = DefaultSegmentsGlob
	}
	return &Loader{dir: dir, segmentsGlob: glob, annotationsDir: ann, maxBytes: DefaultMaxBytes}
}

// Inputs are the materialized inputs of one debate.
type Inputs struct {
	ID       string
	Segments []model.Segment
	Layers   model.Layers
	// Sources records which file fed each layer, when one existed.
	Sources map[model.Kind]string
	// Diagnostics reports annotation records that could not be decoded.
	Diagnostics []model.Diagnostic
}

// Load reads the segments and every annotation layer of debate id. A missing
// segment file yields no segments; the compiler rejects that debate. Missing
// layer files yield empty layers.
func (l *Loader) Load(ctx context.Context, id string) (*Inputs, error) {
	in := &Inputs{ID: id, Sources: make(map[model.Kind]string)}

	segPath, err := l.SegmentsPath(id)
	if err != nil {
		return nil, err
	}
	if segPath != "" {
		segs, err := l.readSegments(segPath)
		if err != nil {
			return nil, fmt.Errorf("load segments %s: %w", segPath, err)
		}
		in.Segments = segs
	}

	dirs, _, err := l.LayerDirs()
	if err != nil {
		return nil, err
	}
	for _, k := range model.LayerKinds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := layerPath(dirs[k], id)
		if path == "" {
			continue
		}
		anns, diags, err := l.readLayer(path, k, in.Segments)
		if err != nil {
			return nil, fmt.Errorf("load %s %s: %w", k.Plural(), path, err)
		}
		for _, a := range anns {
			in.Layers.Add(a)
		}
		in.Diagnostics = append(in.Diagnostics, diags...)
		in.Sources[k] = path
	}
	return in, nil
}

// LayerDirs maps each annotation layer to its directory under the annotations
// root. Directories may be named by the singular or plural layer name; the
// plural wins when both exist. Directories naming no layer are returned as
// ignored. A missing annotations root yields no layers.
func (l *Loader) LayerDirs() (map[model.Kind]string, []string, error) {
	dirs := make(map[model.Kind]string)
	entries, err := os.ReadDir(l.annotationsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return dirs, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read annotations dir: %w", err)
	}

	var ignored []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		k, ok := model.ParseKind(e.Name())
		if !ok {
			ignored = append(ignored, e.Name())
			continue
		}
		if _, seen := dirs[k]; !seen || e.Name() == k.Plural() {
			dirs[k] = filepath.Join(l.annotationsDir, e.Name())
		}
	}
	return dirs, ignored, nil
}

// layerPath returns the JSONL or markup file of debate id in dir, preferring
// JSONL.
func layerPath(dir, id string) string {
	if dir == "" {
		return ""
	}
	base := filepath.Join(dir, id)
	for _, ext := range []string{".jsonl", ".txt"} {
		if fileExists(base + ext) {
			return base + ext
		}
	}
	return ""
}

func (l *Loader) open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.Size() > l.maxBytes {
		_ = f.Close()
		return nil, fmt.Errorf("file is %d bytes, limit %d", info.Size(), l.maxBytes)
	}
	return f, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
