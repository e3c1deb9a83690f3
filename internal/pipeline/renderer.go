package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/tribuna/internal/model"
)

const rule = "═══════════════════════════════════════════════════════════"

// Renderer turns compiled documents into human-readable output.
type Renderer struct {
	includeFooter bool
}

func NewRenderer(includeFooter bool) *Renderer {
	return &Renderer{includeFooter: includeFooter}
}

// Markdown renders a per-debate report. The output depends only on its inputs.
func (r *Renderer) Markdown(doc *model.Document, diags *DiagnosticsFile) []byte {
	var b bytes.Buffer
	root := doc.Root
	info := root.Debate
	if info == nil {
		info = &model.DebateInfo{ID: root.ID}
	}

	fmt.Fprintf(&b, "# Debate %s\n\n", info.ID)
	if info.Date != "" {
		fmt.Fprintf(&b, "- **Date:** %s\n", info.Date)
	}
	if info.ElectionDate != "" {
		fmt.Fprintf(&b, "- **Election:** %s\n", info.ElectionDate)
	}
	if info.Media != "" {
		fmt.Fprintf(&b, "- **Media:** %s\n", info.Media)
	}
	sentences := root.Sentences()
	fmt.Fprintf(&b, "- **Sentences:** %d\n\n", len(sentences))

	r.participants(&b, info.Participants, sentences)
	r.blocks(&b, root)
	r.unanchored(&b, root, info)
	r.emotions(&b, sentences)
	if diags != nil {
		r.diagnostics(&b, diags)
	}

	if r.includeFooter {
		b.WriteString("---\n\n")
		fmt.Fprintf(&b, "_Compiled by tribuna (%s). Spans are segment/offset positions in the transcript._\n", doc.SchemaVersion)
	}
	return b.Bytes()
}

func (r *Renderer) participants(b *bytes.Buffer, ps []model.Participant, sentences []*model.Node) {
	if len(ps) == 0 {
		return
	}
	turns := make(map[string]int)
	for _, s := range sentences {
		if s.Sentence != nil {
			turns[s.Sentence.Participant]++
		}
	}

	b.WriteString("## Participants\n\n")
	b.WriteString("| ID | Name | Party | Sentences | Tokens | TTR | Avg sentence length |\n")
	b.WriteString("|----|------|-------|-----------|--------|-----|---------------------|\n")
	for _, p := range ps {
		tokens, ttr, asl := "-", "-", "-"
		if p.Stats != nil {
			tokens = fmt.Sprintf("%d", p.Stats.Tokens)
			ttr = fmt.Sprintf("%.3f", p.Stats.TTR)
			asl = fmt.Sprintf("%.1f", p.Stats.AvgSentLen)
		}
		fmt.Fprintf(b, "| %s | %s | %s | %d | %s | %s | %s |\n",
			p.ID, cell(p.Name), cell(p.Party), turns[p.ID], tokens, ttr, asl)
	}
	b.WriteString("\n")
}

func (r *Renderer) blocks(b *bytes.Buffer, root *model.Node) {
	var blocks []*model.Node
	for _, c := range root.Children {
		if c.Kind == model.KindBlock {
			blocks = append(blocks, c)
		}
	}
	if len(blocks) == 0 {
		return
	}

	b.WriteString("## Blocks\n\n")
	for _, blk := range blocks {
		title := ""
		if blk.Block != nil {
			title = blk.Block.Title
		}
		fmt.Fprintf(b, "### %s %s\n\n", blk.ID, title)
		fmt.Fprintf(b, "Segments %s%s\n\n", segmentRange(blk.Span), flagNote(blk.Flags))

		if blk.Block != nil && len(blk.Block.Topics) > 0 {
			b.WriteString("**Topics:**\n\n")
			for _, t := range blk.Block.Topics {
				cont := ""
				if t.Continuation {
					cont = " (continued)"
				}
				fmt.Fprintf(b, "- %s%s, segments %s\n", t.Title, cont, segmentRange(t.Span))
			}
			b.WriteString("\n")
		}

		r.leaves(b, blk)
	}
}

func (r *Renderer) leaves(b *bytes.Buffer, n *model.Node) {
	proposals := n.Find(model.KindProposal)
	claims := n.Find(model.KindClaim)
	mentions := n.Find(model.KindMention)

	if len(proposals) > 0 {
		b.WriteString("**Proposals:**\n\n")
		for _, p := range proposals {
			fmt.Fprintf(b, "- %s%s\n", p.Proposal.Summary, flagNote(p.Flags))
		}
		b.WriteString("\n")
	}
	if len(claims) > 0 {
		b.WriteString("**Claims:**\n\n")
		for _, c := range claims {
			fmt.Fprintf(b, "- %s%s\n", c.Claim.Statement, flagNote(c.Flags))
		}
		b.WriteString("\n")
	}
	if len(mentions) > 0 {
		fmt.Fprintf(b, "**Mentions:** %d\n\n", len(mentions))
	}
}

// unanchored lists annotations that the compiler attached directly to the root.
func (r *Renderer) unanchored(b *bytes.Buffer, root *model.Node, info *model.DebateInfo) {
	var nodes []*model.Node
	for _, c := range root.Children {
		if c.HasFlag(model.FlagUnanchored) {
			nodes = append(nodes, c)
		}
	}
	if len(nodes) == 0 && len(info.Topics) == 0 {
		return
	}

	b.WriteString("## Unanchored\n\n")
	for _, t := range info.Topics {
		fmt.Fprintf(b, "- topic %s, segments %s\n", t.Title, segmentRange(t.Span))
	}
	for _, n := range nodes {
		fmt.Fprintf(b, "- %s %s: %s\n", n.Kind, n.ID, label(n))
	}
	b.WriteString("\n")
}

func (r *Renderer) emotions(b *bytes.Buffer, sentences []*model.Node) {
	counts := make(map[model.Emotion]int)
	labelled := 0
	for _, s := range sentences {
		if s.Sentence != nil && s.Sentence.Emotion != "" {
			counts[s.Sentence.Emotion]++
			labelled++
		}
	}
	if labelled == 0 {
		return
	}

	b.WriteString("## Emotions\n\n")
	b.WriteString("| Emotion | Sentences | Share |\n")
	b.WriteString("|---------|-----------|-------|\n")
	for _, e := range model.Emotions {
		if counts[e] == 0 {
			continue
		}
		fmt.Fprintf(b, "| %s | %d | %.1f%% |\n", e, counts[e], 100*float64(counts[e])/float64(labelled))
	}
	if missing := len(sentences) - labelled; missing > 0 {
		fmt.Fprintf(b, "\n%d sentences have no label.\n", missing)
	}
	b.WriteString("\n")
}

func (r *Renderer) diagnostics(b *bytes.Buffer, f *DiagnosticsFile) {
	if len(f.Diagnostics) == 0 && len(f.Stats) == 0 {
		return
	}
	b.WriteString("## Diagnostics\n\n")

	if len(f.Stats) > 0 {
		b.WriteString("| Layer | Input | Placed | Skipped | Unanchored | Truncated | Clamped |\n")
		b.WriteString("|-------|-------|--------|---------|------------|-----------|---------|\n")
		for _, k := range model.LayerKinds {
			s, ok := f.Stats[k]
			if !ok {
				continue
			}
			fmt.Fprintf(b, "| %s | %d | %d | %d | %d | %d | %d |\n",
				k, s.Input, s.Placed, s.Skipped, s.Unanchored, s.Truncated, s.Clamped)
		}
		b.WriteString("\n")
	}

	counts := make(map[model.DiagnosticCode]int)
	for _, d := range f.Diagnostics {
		counts[d.Code]++
	}
	codes := make([]string, 0, len(counts))
	for c := range counts {
		codes = append(codes, string(c))
	}
	sort.Strings(codes)
	for _, c := range codes {
		fmt.Fprintf(b, "- %s: %d\n", c, counts[model.DiagnosticCode(c)])
	}
	if len(codes) > 0 {
		b.WriteString("\n")
	}
}

func label(n *model.Node) string {
	switch {
	case n.Proposal != nil:
		return n.Proposal.Summary
	case n.Claim != nil:
		return n.Claim.Statement
	case n.Mention != nil:
		return n.Mention.Text
	case n.Block != nil:
		return n.Block.Title
	}
	return ""
}

func segmentRange(sp model.Span) string {
	last := sp.End.Segment
	if sp.End.Offset == 0 && last > sp.Start.Segment {
		last--
	}
	if last == sp.Start.Segment {
		return fmt.Sprintf("%d", last)
	}
	return fmt.Sprintf("%d-%d", sp.Start.Segment, last)
}

func flagNote(flags []model.Flag) string {
	if len(flags) == 0 {
		return ""
	}
	parts := make([]string, len(flags))
	for i, f := range flags {
		parts[i] = string(f)
	}
	return " _(" + strings.Join(parts, ", ") + ")_"
}

func cell(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", "\\|")
}

// Failure is one debate that did not complete a stage.
type Failure struct {
	Debate string
	Err    error
}

// RunSummary is printed to stderr at the end of every stage command.
type RunSummary struct {
	Title     string
	RunID     string
	Total     int
	Succeeded int
	Failures  []Failure
	Output    string
	Duration  time.Duration
}

// WriteSummary prints s in banner form.
func (r *Renderer) WriteSummary(w io.Writer, s RunSummary) {
	fmt.Fprintf(w, "\n%s\n  %s\n%s\n\n", rule, s.Title, rule)
	fmt.Fprintf(w, "  Run:       %s\n", s.RunID)
	fmt.Fprintf(w, "  Total:     %d debates\n", s.Total)
	fmt.Fprintf(w, "  Success:   %d\n", s.Succeeded)
	fmt.Fprintf(w, "  Failures:  %d\n", len(s.Failures))
	if s.Output != "" {
		fmt.Fprintf(w, "  Output:    %s\n", s.Output)
	}
	fmt.Fprintf(w, "  Duration:  %v\n", s.Duration.Round(time.Millisecond))
	if len(s.Failures) > 0 {
		fmt.Fprintln(w)
		for _, f := range s.Failures {
			fmt.Fprintf(w, "  ✗ %s: %v\n", f.Debate, f.Err)
		}
	}
	fmt.Fprintln(w)
}
