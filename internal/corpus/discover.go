package corpus

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultSegmentsGlob matches both the JSONL store and legacy CSV exports.
const DefaultSegmentsGlob = "segments/**/*{.jsonl,_segments.csv}"

const legacySuffix = "_segments.csv"

// Discover returns the IDs of every debate with a segment file, sorted.
func (l *Loader) Discover() ([]string, error) {
	paths, err := l.segmentFiles()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, p := range paths {
		id := debateID(p)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SegmentsPath returns the segment file of debate id, or "" when there is none.
// JSONL wins over a legacy CSV for the same debate.
func (l *Loader) SegmentsPath(id string) (string, error) {
	paths, err := l.segmentFiles()
	if err != nil {
		return "", err
	}
	var csv string
	for _, p := range paths {
		if debateID(p) != id {
			continue
		}
		if strings.HasSuffix(p, ".jsonl") {
			return p, nil
		}
		csv = p
	}
	return csv, nil
}

func (l *Loader) segmentFiles() ([]string, error) {
	pattern := filepath.Join(l.dir, l.segmentsGlob)
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	var out []string
	for _, m := range matches {
		// Annotation layers are JSONL too.
		if rel, err := filepath.Rel(l.annotationsDir, m); err == nil && !strings.HasPrefix(rel, "..") {
			continue
		}
		if fileExists(m) {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

// debateID derives a debate ID from a segment file name.
func debateID(path string) string {
	base := filepath.Base(path)
	if strings.HasSuffix(base, legacySuffix) {
		return strings.TrimSuffix(base, legacySuffix)
	}
	if strings.HasSuffix(base, ".jsonl") {
		return strings.TrimSuffix(base, ".jsonl")
	}
	return ""
}
