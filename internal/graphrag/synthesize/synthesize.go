// Package synthesize implements the Synthesizer: it renders the
// distilled context into a fixed-shape prompt, calls the LLM client once,
// binds the generated [N] citation markers back to their source candidates,
// and applies the structural field-lookup refusal safety net.
package synthesize

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"corpusrag/internal/graphrag/llmclient"
	"corpusrag/internal/graphrag/types"
)

// systemPrompt is the fixed role-and-instruction block: refuse if
// missing, respect qualifiers, include numeric values verbatim, enumerate
// distinct obligations, cite every factual claim with [N].
const systemPrompt = `You are a precise document question-answering assistant.
Answer strictly from the evidence context provided below; never use outside knowledge.
If the evidence does not contain the exact information requested, respond with exactly:
"` + types.CanonicalRefusal + `"
Respect qualifiers in the question (dates, parties, conditions) exactly as stated.
Include numeric values verbatim, do not round or rephrase them.
Enumerate distinct obligations or items as separate bullet points rather than merging them.
Cite every factual claim with a bracketed marker "[N]" referring to the numbered evidence
candidate it came from. Do not fabricate citations.
Respond in Markdown with exactly two sections, in this order:
## Summary
2-3 short paragraphs answering the question, or the exact refusal sentence above and nothing else.
## Key Points
A bulleted list of distinct items, each with at least one citation.`

// citationMarker matches a [N] token in generated text.
var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// fieldLookupPattern recognizes "specific field lookup" questions: asking for one named attribute of one
// named subject, e.g. "what is the effective date of the agreement".
var fieldLookupPattern = regexp.MustCompile(`(?i)^\s*what\s+(?:is|was|are|were)\s+the\s+([a-zA-Z][a-zA-Z ]*?)\s+of\s+`)

// Synthesizer renders a DistilledContext into an answer.
type Synthesizer struct {
	llm llmclient.Client
}

// New builds a Synthesizer backed by llm.
func New(llm llmclient.Client) *Synthesizer {
	return &Synthesizer{llm: llm}
}

// Result is one synthesis call's output, already citation-bound.
type Result struct {
	AnswerText string
	Citations  []types.Citation
	Refused    bool
}

// Synthesize answers queryText against ctxt. If ctxt has no candidates and
// no community preamble, it returns the canonical refusal without calling
// the LLM.
func (s *Synthesizer) Synthesize(ctx context.Context, queryText string, ctxt types.DistilledContext, maxOutputTokens int) (Result, error) {
	if len(ctxt.Candidates) == 0 && ctxt.CommunityPreamble == "" {
		return Result{AnswerText: types.CanonicalRefusal, Refused: true}, nil
	}

	userPrompt := buildUserPrompt(queryText, ctxt)
	res, err := s.llm.Complete(ctx, llmclient.Request{
		SystemPrompt:    systemPrompt,
		UserPrompt:      userPrompt,
		MaxOutputTokens: maxOutputTokens,
		Temperature:     llmclient.Float(0.2),
	})
	if err != nil {
		return Result{}, err
	}

	answer, citations := bindCitations(res.Text, ctxt.Candidates)
	refused := strings.Contains(answer, types.CanonicalRefusal)

	if !refused {
		if field, ok := lookupField(queryText); ok && !anyCandidateMentions(ctxt.Candidates, field) {
			log.Warn().Str("field", field).Msg("structural refusal: no candidate mentions the requested field")
			answer = types.CanonicalRefusal
			citations = nil
			refused = true
		}
	}

	return Result{AnswerText: answer, Citations: citations, Refused: refused}, nil
}

// buildUserPrompt assembles the fixed user-message shape: the question,
// then "Evidence Context:" followed by the preamble, numbered candidates,
// relationships, and entity descriptions in that order (matching the order
// the distiller assembled them in).
func buildUserPrompt(queryText string, ctxt types.DistilledContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", queryText)
	b.WriteString("Evidence Context:\n")

	if ctxt.CommunityPreamble != "" {
		b.WriteString(ctxt.CommunityPreamble)
		b.WriteString("\n")
	}

	for i, c := range ctxt.Candidates {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, c.Text)
	}

	if len(ctxt.Relationships) > 0 {
		b.WriteString("\nRelationships:\n")
		for _, r := range ctxt.Relationships {
			fmt.Fprintf(&b, "- %s %s %s (weight %.2f)\n", r.Src, r.Predicate, r.Dst, r.Weight)
		}
	}

	if len(ctxt.EntityDescriptions) > 0 {
		b.WriteString("\nEntity Descriptions:\n")
		for _, d := range ctxt.EntityDescriptions {
			fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
		}
	}

	b.WriteString("\nAnswer the question using only the evidence above, following the required output shape.")
	return b.String()
}

// bindCitations scans text for [N] markers, resolves each to candidates[N-1],
// and returns the text unchanged plus the resolved Citation list. A marker
// outside [1, len(candidates)] is an UnresolvedCitation: dropped from the
// returned citations but the surrounding claim text is left untouched.
func bindCitations(text string, candidates []types.Candidate) (string, []types.Citation) {
	matches := citationMarker.FindAllStringSubmatch(text, -1)
	seen := make(map[int]bool, len(matches))
	var citations []types.Citation
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(candidates) {
			log.Warn().Str("marker", m[0]).Msg("unresolved citation dropped")
			continue
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		c := candidates[n-1]
		citations = append(citations, types.Citation{
			Marker:  fmt.Sprintf("[%d]", n),
			ChunkID: c.ChunkID,
			SentID:  c.SentID,
			DocID:   c.DocID,
		})
	}
	return text, citations
}

// lookupField reports whether queryText matches the "specific field lookup"
// shape and, if so, returns the normalized field token.
func lookupField(queryText string) (string, bool) {
	m := fieldLookupPattern.FindStringSubmatch(queryText)
	if m == nil {
		return "", false
	}
	return normalizeField(m[1]), true
}

// normalizeField lowercases and collapses whitespace in a field phrase so it
// can be substring-matched against candidate text.
func normalizeField(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// anyCandidateMentions reports whether any candidate's canonicalized text
// contains the normalized field token.
func anyCandidateMentions(candidates []types.Candidate, field string) bool {
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c.Text), field) {
			return true
		}
	}
	return false
}
