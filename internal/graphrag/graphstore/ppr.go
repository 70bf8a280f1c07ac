package graphstore

import (
	"math"
	"sort"
)

// snapshot is the bounded slice of graph state the five-path tracer needs,
// loaded by whichever Store implementation backs it (memory map lookups for
// MemoryStore, full-table SQL loads for pgStore — see postgres_store.go).
type snapshot struct {
	// path 1: directed weighted entity graph
	outEdges map[string][]weightedEdge // entity_id -> outgoing edges

	// path 2: mentions -> chunks -> cross-section similarity -> chunks -> entities
	entityChunks  map[string][]chunkRef   // entity_id -> chunks mentioning it
	chunkEntities map[string][]string     // chunk_id -> entities mentioned in it
	chunkEmbed    map[string][]float32    // chunk_id -> embedding, for cross-section similarity

	// path 3: SEMANTICALLY_SIMILAR_TO edges
	similarEdges map[string][]weightedEdge

	// path 4 & 5: section co-membership and mention-count hub entities
	sectionEntities    map[string][]string // section_id -> entity_ids mentioned in that section
	entityMentionCount map[string]int
}

type weightedEdge struct {
	Dst    string
	Weight float64
}

type chunkRef struct {
	ChunkID   string
	SectionID string
}

// pprTraverse is the pure, deterministic implementation of the five-path
// tracer. Final entity score = sum of per-path contributions. Every map
// traversal below walks keys in sorted order so float accumulation is
// bit-identical across runs for fixed seeds and config.
func pprTraverse(snap snapshot, seeds map[string]float64, cfg PPRConfig) []EntityScore {
	damping := cfg.Damping
	if damping <= 0 {
		damping = 0.5
	}
	simWeight := cfg.SimWeight
	if simWeight <= 0 {
		simWeight = 0.3
	}
	hubWeight := cfg.HubWeight
	if hubWeight <= 0 {
		hubWeight = 0.2
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 20
	}

	scores := make(map[string]float64)

	// Path 1: damped power iteration with restart to the seed distribution.
	p1 := powerIteration(snap.outEdges, seeds, damping, iterations)
	addInto(scores, p1, 1.0)

	// Path 2: mentions -> chunks -> cross-section similarity -> chunks -> entities.
	p2 := crossSectionPath(snap, seeds)
	addInto(scores, p2, 1.0)

	// Path 3: SEMANTICALLY_SIMILAR_TO edges.
	p3 := powerIteration(snap.similarEdges, seeds, damping, 1) // one hop is sufficient; weight carries the signal
	addInto(scores, p3, simWeight)

	// Path 4: section co-membership hub entities.
	p4 := sectionCoMembership(snap, seeds)
	addInto(scores, p4, hubWeight)

	// Path 5: high-mention-count entities from the same sections as seeds.
	p5 := highMentionHubs(snap, seeds)
	addInto(scores, p5, hubWeight)

	out := make([]EntityScore, 0, len(scores))
	for id, s := range scores {
		if s == 0 {
			continue
		}
		out = append(out, EntityScore{EntityID: id, Score: s})
	}
	sortEntityScores(out)
	if cfg.TopK > 0 && len(out) > cfg.TopK {
		out = out[:cfg.TopK]
	}
	return out
}

func addInto(dst map[string]float64, src map[string]float64, weight float64) {
	for id, s := range src {
		dst[id] += s * weight
	}
}

// powerIteration runs a bounded number of damped-restart iterations over a
// weighted directed graph, seeded by the given restart distribution.
func powerIteration(edges map[string][]weightedEdge, seeds map[string]float64, damping float64, iterations int) map[string]float64 {
	if len(seeds) == 0 {
		return map[string]float64{}
	}
	seedTotal := 0.0
	for _, w := range seeds {
		seedTotal += w
	}
	restart := make(map[string]float64, len(seeds))
	for id, w := range seeds {
		if seedTotal > 0 {
			restart[id] = w / seedTotal
		}
	}
	cur := make(map[string]float64, len(restart))
	for id, w := range restart {
		cur[id] = w
	}
	for i := 0; i < iterations; i++ {
		next := make(map[string]float64, len(cur))
		for _, id := range sortedScoreKeys(restart) {
			next[id] += (1 - damping) * restart[id]
		}
		for _, id := range sortedScoreKeys(cur) {
			score := cur[id]
			out := edges[id]
			if len(out) == 0 {
				continue
			}
			total := 0.0
			for _, e := range out {
				total += e.Weight
			}
			if total <= 0 {
				continue
			}
			for _, e := range out {
				next[e.Dst] += damping * score * (e.Weight / total)
			}
		}
		cur = next
	}
	delete(cur, "") // never emit an empty entity id
	return cur
}

// crossSectionPath implements path 2: for each seed entity, find the chunks
// it's mentioned in, then find other chunks whose embedding is cosine-close
// but from a different section (cross-section similarity), then attribute
// their mentioned entities a score proportional to seed weight * similarity.
func crossSectionPath(snap snapshot, seeds map[string]float64) map[string]float64 {
	const simThreshold = 0.75
	out := make(map[string]float64)
	for _, seedID := range sortedScoreKeys(seeds) {
		weight := seeds[seedID]
		for _, ref := range snap.entityChunks[seedID] {
			srcEmbed := snap.chunkEmbed[ref.ChunkID]
			if srcEmbed == nil {
				continue
			}
			for _, otherChunk := range sortedEmbedKeys(snap.chunkEmbed) {
				otherEmbed := snap.chunkEmbed[otherChunk]
				otherRefSection := chunkSection(snap, otherChunk)
				if otherChunk == ref.ChunkID || otherRefSection == ref.SectionID {
					continue
				}
				sim := cosineSim(srcEmbed, otherEmbed)
				if sim < simThreshold {
					continue
				}
				for _, entID := range snap.chunkEntities[otherChunk] {
					if entID == seedID {
						continue
					}
					out[entID] += weight * sim
				}
			}
		}
	}
	return out
}

func chunkSection(snap snapshot, chunkID string) string {
	for _, refs := range snap.entityChunks {
		for _, r := range refs {
			if r.ChunkID == chunkID {
				return r.SectionID
			}
		}
	}
	return ""
}

// sectionCoMembership implements path 4: entities that share a section with
// a seed entity (but are not the seed itself).
func sectionCoMembership(snap snapshot, seeds map[string]float64) map[string]float64 {
	out := make(map[string]float64)
	for _, seedID := range sortedScoreKeys(seeds) {
		weight := seeds[seedID]
		for _, ref := range snap.entityChunks[seedID] {
			for _, peer := range snap.sectionEntities[ref.SectionID] {
				if peer == seedID {
					continue
				}
				out[peer] += weight
			}
		}
	}
	return out
}

// highMentionHubs implements path 5: entities with a high mention count that
// appear in the same sections as the seeds.
func highMentionHubs(snap snapshot, seeds map[string]float64) map[string]float64 {
	out := make(map[string]float64)
	if len(snap.entityMentionCount) == 0 {
		return out
	}
	maxCount := 0
	for _, c := range snap.entityMentionCount {
		if c > maxCount {
			maxCount = c
		}
	}
	if maxCount == 0 {
		return out
	}
	for _, seedID := range sortedScoreKeys(seeds) {
		weight := seeds[seedID]
		for _, ref := range snap.entityChunks[seedID] {
			for _, peer := range snap.sectionEntities[ref.SectionID] {
				count := snap.entityMentionCount[peer]
				if count == 0 {
					continue
				}
				out[peer] += weight * (float64(count) / float64(maxCount))
			}
		}
	}
	return out
}

// sortedScoreKeys returns a weight map's keys in ascending order, so walks
// that accumulate float contributions visit entries in a stable order.
func sortedScoreKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedEmbedKeys(m map[string][]float32) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortEntityScores(scores []EntityScore) {
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].EntityID < scores[j].EntityID
	})
}

// cosineSim computes cosine similarity; returns 0 for mismatched/empty vectors
// rather than NaN, so callers never need to special-case it.
func cosineSim(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// beamExpand implements the semantic beam walker: from seed
// entities, expand up to maxHops, scoring each candidate by cosine of its
// embedding against queryEmbedding, keeping the top beamWidth per hop.
func beamExpand(snap snapshot, entityEmbed map[string][]float32, outEdges map[string][]weightedEdge, seedEntityIDs []string, queryEmbedding []float32, hops, beamWidth int) []BeamHit {
	if beamWidth <= 0 {
		beamWidth = 10
	}
	if hops <= 0 {
		hops = 3
	}
	type frontierEntry struct {
		entityID string
		path     []string
	}
	visited := map[string]bool{}
	frontier := make([]frontierEntry, 0, len(seedEntityIDs))
	for _, id := range seedEntityIDs {
		if visited[id] {
			continue
		}
		visited[id] = true
		frontier = append(frontier, frontierEntry{entityID: id, path: []string{id}})
	}
	var results []BeamHit
	for h := 0; h < hops; h++ {
		type scored struct {
			frontierEntry
			score float64
		}
		var next []scored
		for _, cur := range frontier {
			for _, e := range outEdges[cur.entityID] {
				if visited[e.Dst] {
					continue
				}
				score := cosineSim(entityEmbed[e.Dst], queryEmbedding)
				next = append(next, scored{
					frontierEntry: frontierEntry{entityID: e.Dst, path: append(append([]string{}, cur.path...), e.Dst)},
					score:         score,
				})
			}
		}
		sort.SliceStable(next, func(i, j int) bool {
			if next[i].score != next[j].score {
				return next[i].score > next[j].score
			}
			return next[i].entityID < next[j].entityID
		})
		if len(next) > beamWidth {
			next = next[:beamWidth]
		}
		frontier = frontier[:0]
		for _, s := range next {
			visited[s.entityID] = true
			frontier = append(frontier, s.frontierEntry)
			results = append(results, BeamHit{EntityID: s.entityID, Path: s.path})
		}
		if len(frontier) == 0 {
			break
		}
	}
	return results
}
