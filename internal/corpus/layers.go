package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/tribuna/internal/extract"
	"github.com/ppiankov/tribuna/internal/model"
)

// Record is one line of a JSONL annotation layer. Only the payload fields of the
// record's layer are read.
type Record struct {
	DebateID  string        `json:"debate_id,omitempty"`
	ID        string        `json:"id,omitempty"`
	Span      model.RawSpan `json:"span"`
	Title     string        `json:"title,omitempty"`
	Summary   string        `json:"summary,omitempty"`
	Statement string        `json:"statement,omitempty"`
	Type      string        `json:"type,omitempty"`
	Text      string        `json:"text,omitempty"`
}

// Annotation converts the record into an annotation of layer k.
func (r Record) Annotation(k model.Kind) (model.Annotation, error) {
	var p model.Payload
	switch k {
	case model.KindBlock:
		p = model.BlockPayload{Title: r.Title}
	case model.KindTopic:
		p = model.TopicPayload{Title: r.Title}
	case model.KindProposal:
		p = model.ProposalPayload{Summary: r.Summary}
	case model.KindClaim:
		p = model.ClaimPayload{Statement: r.Statement}
	case model.KindMention:
		p = model.MentionPayload{Type: r.Type, Text: r.Text}
	default:
		return model.Annotation{}, fmt.Errorf("unknown layer %q", k)
	}
	return model.Annotation{ID: r.ID, Span: r.Span, Payload: p}, nil
}

func (l *Loader) readLayer(path string, k model.Kind, segs []model.Segment) ([]model.Annotation, []model.Diagnostic, error) {
	f, err := l.open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = f.Close() }()

	if strings.HasSuffix(path, ".txt") {
		anns, err := extract.Parse(f, k, segs)
		return anns, nil, err
	}
	return ReadLayerJSONL(f, k)
}

// ReadLayerJSONL decodes one annotation per line. Records without an ID get
// "<layer>-<line>". Undecodable lines are reported as skipped diagnostics rather
// than failing the layer.
func ReadLayerJSONL(r io.Reader, k model.Kind) ([]model.Annotation, []model.Diagnostic, error) {
	var (
		anns  []model.Annotation
		diags []model.Diagnostic
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		source := fmt.Sprintf("%s-%d", k, line)
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			diags = append(diags, model.Diagnostic{
				Code: model.DiagSkipped, Kind: k, Source: source,
				Message: fmt.Sprintf("undecodable record: %v", err),
			})
			continue
		}
		if rec.ID == "" {
			rec.ID = source
		}
		a, err := rec.Annotation(k)
		if err != nil {
			return nil, nil, err
		}
		anns = append(anns, a)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return anns, diags, nil
}
