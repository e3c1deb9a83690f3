package corpus

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/tribuna/internal/extract"
	"github.com/ppiankov/tribuna/internal/model"
)

func (l *Loader) readSegments(path string) ([]model.Segment, error) {
	f, err := l.open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	id := debateID(path)
	if strings.HasSuffix(path, ".csv") {
		return ReadSegmentsCSV(f, id)
	}
	return ReadSegmentsJSONL(f, id)
}

// ReadSegmentsJSONL decodes one segment per line. Positions are taken from line
// order; blank lines are ignored.
func ReadSegmentsJSONL(r io.Reader, debate string) ([]model.Segment, error) {
	var segs []model.Segment
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var s model.Segment
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		s.Index = len(segs)
		if s.DebateID == "" {
			s.DebateID = debate
		}
		segs = append(segs, s)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return segs, nil
}

// Columns of the legacy transcription export.
const (
	colDate    = "fecha"
	colStart   = "inicio"
	colEnd     = "fin"
	colSpeaker = "speaker"
	colName    = "nombre"
	colParty   = "partido_nombre"
	colText    = "texto"
)

// ReadSegmentsCSV decodes the legacy CSV export. Speakers are identified by the
// resolved name column, falling back to the diarization label.
func ReadSegmentsCSV(r io.Reader, debate string) ([]model.Segment, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, required := range []string{colStart, colEnd, colText} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	get := func(rec []string, col string) string {
		i, ok := cols[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var segs []model.Segment
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		start, err := extract.ParseClock(get(rec, colStart))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		end, err := extract.ParseClock(get(rec, colEnd))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		speaker := get(rec, colName)
		if speaker == "" {
			speaker = get(rec, colSpeaker)
		}
		id := get(rec, colDate)
		if id == "" {
			id = debate
		}
		segs = append(segs, model.Segment{
			DebateID: id,
			Index:    len(segs),
			Speaker:  speaker,
			Party:    get(rec, colParty),
			Start:    start,
			End:      end,
			Text:     get(rec, colText),
		})
	}
	return segs, nil
}
