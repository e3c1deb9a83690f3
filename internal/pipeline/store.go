package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/tribuna/internal/model"
)

// DiagnosticsFile is persisted next to each compiled document.
type DiagnosticsFile struct {
	Debate      string                          `json:"debate"`
	RunID       string                          `json:"run_id"`
	Stats       map[model.Kind]model.LayerStats `json:"stats,omitempty"`
	Diagnostics []model.Diagnostic              `json:"diagnostics"`
}

// Store reads and writes per-debate artifacts under one directory.
type Store struct {
	dir    string
	pretty bool
}

func NewStore(dir string, pretty bool) *Store {
	return &Store{dir: dir, pretty: pretty}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) DocumentPath(id string) string {
	return filepath.Join(s.dir, "debate-"+id+".json")
}

func (s *Store) DiagnosticsPath(id string) string {
	return filepath.Join(s.dir, "debate-"+id+".diagnostics.json")
}

func (s *Store) ReportPath(id string) string {
	return filepath.Join(s.dir, "debate-"+id+".md")
}

// Debates lists the IDs of every compiled document in the store, sorted.
func (s *Store) Debates() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "debate-*.json"))
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, m := range matches {
		name := filepath.Base(m)
		if strings.HasSuffix(name, ".diagnostics.json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, "debate-"), ".json"))
	}
	return ids, nil
}

func (s *Store) WriteDocument(id string, doc *model.Document) error {
	return s.writeJSON(s.DocumentPath(id), doc)
}

func (s *Store) ReadDocument(id string) (*model.Document, error) {
	var doc model.Document
	if err := readJSON(s.DocumentPath(id), &doc); err != nil {
		return nil, err
	}
	if doc.Root == nil {
		return nil, fmt.Errorf("%s: document has no root", s.DocumentPath(id))
	}
	return &doc, nil
}

func (s *Store) WriteDiagnostics(id string, f *DiagnosticsFile) error {
	if f.Diagnostics == nil {
		f.Diagnostics = []model.Diagnostic{}
	}
	return s.writeJSON(s.DiagnosticsPath(id), f)
}

// ReadDiagnostics returns an empty file when none was written yet.
func (s *Store) ReadDiagnostics(id string) (*DiagnosticsFile, error) {
	var f DiagnosticsFile
	err := readJSON(s.DiagnosticsPath(id), &f)
	if errors.Is(err, fs.ErrNotExist) {
		return &DiagnosticsFile{Debate: id}, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) WriteReport(id string, markdown []byte) error {
	return writeFileAtomic(s.ReportPath(id), markdown, 0o644)
}

func (s *Store) writeJSON(path string, v any) error {
	var (
		data []byte
		err  error
	)
	if s.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return writeFileAtomic(path, append(data, '\n'), 0o644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it into place, so readers never see a partial document.
func writeFileAtomic(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp_"+filepath.Base(path)+"_*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
