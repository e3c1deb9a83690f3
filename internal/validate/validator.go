// Package validate checks compiled documents against the structural rules every
// consumer relies on.
package validate

import (
	"fmt"

	"github.com/ppiankov/tribuna/internal/model"
)

// Rule names a structural property of a compiled document.
type Rule string

const (
	RuleSchema      Rule = "schema"
	RuleContainment Rule = "containment"
	RuleSibling     Rule = "sibling_overlap"
	RuleOrder       Rule = "order"
	RulePayload     Rule = "payload"
	RuleAccounting  Rule = "accounting"
)

// Violation is one broken rule.
type Violation struct {
	Rule    Rule   `json:"rule"`
	Node    string `json:"node,omitempty"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Node == "" {
		return fmt.Sprintf("%s: %s", v.Rule, v.Message)
	}
	return fmt.Sprintf("%s %s: %s", v.Rule, v.Node, v.Message)
}

// Check walks doc and reports every violated rule. A nil result means the
// document is consistent.
func Check(doc *model.Document) []Violation {
	var out []Violation
	add := func(rule Rule, node, format string, args ...any) {
		out = append(out, Violation{Rule: rule, Node: node, Message: fmt.Sprintf(format, args...)})
	}

	if doc == nil || doc.Root == nil {
		add(RuleSchema, "", "document has no root")
		return out
	}
	if doc.SchemaVersion != model.SchemaVersion {
		add(RuleSchema, "", "schema version %q, want %q", doc.SchemaVersion, model.SchemaVersion)
	}
	if doc.Root.Kind != model.KindDebate || doc.Root.Debate == nil {
		add(RuleSchema, doc.Root.ID, "root is %s, want debate", doc.Root.Kind)
	}

	doc.Root.Walk(func(n, parent *model.Node) bool {
		if msg := payloadProblem(n); msg != "" {
			add(RulePayload, n.ID, "%s", msg)
		}
		if parent != nil && !parent.Span.Contains(n.Span) {
			add(RuleContainment, n.ID, "span %s not inside parent %s %s", n.Span, parent.ID, parent.Span)
		}

		for i, c := range n.Children {
			if i > 0 && c.Span.Start.Less(n.Children[i-1].Span.Start) {
				add(RuleOrder, c.ID, "starts before previous sibling %s", n.Children[i-1].ID)
			}
			for _, d := range n.Children[i+1:] {
				if c.Kind == d.Kind && c.Span.Conflicts(d.Span) {
					add(RuleSibling, d.ID, "partially overlaps sibling %s (%s vs %s)", c.ID, c.Span, d.Span)
				}
			}
		}
		return true
	})
	return out
}

// payloadProblem reports a node whose payload does not match its kind.
func payloadProblem(n *model.Node) string {
	var ok bool
	switch n.Kind {
	case model.KindDebate:
		ok = n.Debate != nil
	case model.KindBlock:
		ok = n.Block != nil
	case model.KindSentence:
		ok = n.Sentence != nil
		if ok && n.Sentence.Emotion != "" {
			if _, valid := model.ParseEmotion(string(n.Sentence.Emotion)); !valid {
				return fmt.Sprintf("emotion %q outside the label set", n.Sentence.Emotion)
			}
		}
	case model.KindProposal:
		ok = n.Proposal != nil
	case model.KindClaim:
		ok = n.Claim != nil
	case model.KindMention:
		ok = n.Mention != nil
	default:
		return fmt.Sprintf("unknown kind %q", n.Kind)
	}
	if !ok {
		return fmt.Sprintf("%s node without %s payload", n.Kind, n.Kind)
	}
	return ""
}

// CheckAccounting reports layers whose annotations are not all accounted for as
// placed, skipped or unanchored.
func CheckAccounting(stats map[model.Kind]model.LayerStats) []Violation {
	var out []Violation
	for _, k := range model.LayerKinds {
		s, ok := stats[k]
		if !ok || s.Accounted() {
			continue
		}
		out = append(out, Violation{
			Rule: RuleAccounting,
			Message: fmt.Sprintf("%s: input %d != placed %d + skipped %d + unanchored %d",
				k, s.Input, s.Placed, s.Skipped, s.Unanchored),
		})
	}
	return out
}

// Diagnostics converts violations into document diagnostics.
func Diagnostics(vs []Violation) []model.Diagnostic {
	out := make([]model.Diagnostic, 0, len(vs))
	for _, v := range vs {
		out = append(out, model.Diagnostic{
			Code:    model.DiagInvariant,
			Node:    v.Node,
			Message: fmt.Sprintf("%s: %s", v.Rule, v.Message),
		})
	}
	return out
}
