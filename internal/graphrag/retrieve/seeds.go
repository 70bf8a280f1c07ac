package retrieve

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"corpusrag/internal/graphrag/graphstore"
)

// properNoun matches a run of capitalized words, used by the dispatcher's
// route classifier and this package's name-match seeding step to spot entity
// mentions in free text without a full NER pass. It is a lightweight
// stand-in the route orchestrators use only to seed graph traversal.
var properNoun = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]+(?:\s+[A-Z][a-zA-Z0-9]+)*\b`)

// properNounStopwords lists capitalized sentence-leading words the regex
// would otherwise mistake for entity names: interrogatives, auxiliaries, and
// the imperative verbs document questions usually open with. A standalone
// stopword match is dropped; a multi-word match that opens with a stopword
// other than "The"/"An" loses that first word ("Does The Master Agreement"
// yields "The Master Agreement"), and "The Master Agreement" itself passes
// through intact.
var properNounStopwords = map[string]bool{
	"What": true, "Who": true, "Whom": true, "Whose": true, "Which": true,
	"Where": true, "When": true, "Why": true, "How": true,
	"Is": true, "Are": true, "Was": true, "Were": true,
	"Do": true, "Does": true, "Did": true,
	"Can": true, "Could": true, "Will": true, "Would": true,
	"Should": true, "Shall": true, "May": true, "Might": true, "Must": true,
	"The": true, "A": true, "An": true,
	"This": true, "That": true, "These": true, "Those": true, "There": true,
	"Please": true, "Tell": true, "Give": true, "List": true, "Show": true,
	"Find": true, "Describe": true, "Explain": true, "Compare": true,
	"Summarize": true, "Summarise": true, "Trace": true,
	"In": true, "On": true, "For": true, "Of": true, "To": true,
	"And": true, "Or": true, "But": true, "If": true,
	"Between": true, "Across": true, "About": true, "With": true,
	"Each": true, "Every": true, "All": true,
}

// ExtractProperNouns returns the distinct capitalized phrases in text, in
// order of first appearance, with a leading stopword trimmed from multi-word
// phrases and standalone stopwords filtered out.
func ExtractProperNouns(text string) []string {
	matches := properNoun.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if words := strings.Fields(m); len(words) > 1 && properNounStopwords[words[0]] && words[0] != "The" && words[0] != "An" {
			m = strings.Join(words[1:], " ")
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		if !strings.Contains(m, " ") && properNounStopwords[m] {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SeedEntities identifies the seed entities R2 and R4 start their graph
// traversal from, by name match in the query and vector match on entity
// embeddings: it runs the
// top-k vector match against entity embeddings, then boosts any hit whose
// canonical name also appears as a proper noun in the query text, so an
// exact name mention always outranks a merely-similar embedding.
func SeedEntities(ctx context.Context, store graphstore.Store, queryText string, queryEmbedding []float32, topK int) ([]EntityScore, error) {
	if topK <= 0 {
		topK = 10
	}
	vecHits, err := store.VectorSearchEntities(ctx, queryEmbedding, topK, 0)
	if err != nil {
		return nil, err
	}
	entityIDs := make([]string, len(vecHits))
	for i, h := range vecHits {
		entityIDs[i] = h.EntityID
	}
	entities, err := store.FetchEntities(ctx, entityIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]string, len(entities)) // entity_id -> canonical name
	for _, e := range entities {
		byID[e.EntityID] = e.Name
	}

	scoreByID := make(map[string]float64, len(vecHits))
	for _, h := range vecHits {
		scoreByID[h.EntityID] = h.Score
	}

	nameSet := make(map[string]bool)
	for _, n := range ExtractProperNouns(queryText) {
		nameSet[strings.ToLower(n)] = true
	}

	out := make([]EntityScore, 0, len(vecHits))
	for _, h := range vecHits {
		name, ok := byID[h.EntityID]
		if !ok {
			continue
		}
		score := h.Score
		if nameSet[strings.ToLower(name)] {
			score = 1.0 // an exact name match in the query text outranks pure vector similarity
		}
		out = append(out, EntityScore{EntityID: h.EntityID, Name: name, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out, nil
}

// SeedWeights converts a slice of EntityScore into the seed-weight map
// graphstore.Store.PPRTraverse/BeamExpand expect.
func SeedWeights(entities []EntityScore) map[string]float64 {
	out := make(map[string]float64, len(entities))
	for _, e := range entities {
		out[e.EntityID] = e.Score
	}
	return out
}

// SeedIDs extracts entity_ids, preserving order.
func SeedIDs(entities []EntityScore) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.EntityID
	}
	return out
}
