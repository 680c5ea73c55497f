package toolloop

import "strings"

// Grounding scores whether an EnrichedPost's claims are backed by verbatim
// source excerpts, mirroring original_source/packages/extraction/src/pipeline/grounding.rs's
// per-claim ClaimGrounding: an extracted claim must link to the evidence
// that produced it. spec.md only requires an `evidence: [excerpt]` field;
// this scorer enforces the invariant the original encodes — a post with no
// supporting excerpt at all is never accepted, so the loop never silently
// fabricates evidence.
type Grounding struct {
	// MinExcerptLen is the shortest string counted as a real supporting
	// excerpt (guards against a model emitting a single word as
	// "evidence" to satisfy a non-empty check).
	MinExcerptLen int
}

// NewGrounding constructs a Grounding scorer with sensible defaults.
func NewGrounding() *Grounding {
	return &Grounding{MinExcerptLen: 12}
}

// Score reports whether post has at least one qualifying supporting
// excerpt, and the count of qualifying excerpts.
func (g *Grounding) Score(post *EnrichedPost) (grounded bool, qualifyingExcerpts int) {
	if post == nil {
		return false, 0
	}
	minLen := g.MinExcerptLen
	if minLen <= 0 {
		minLen = 1
	}
	for _, e := range post.Evidence {
		if len(strings.TrimSpace(e)) >= minLen {
			qualifyingExcerpts++
		}
	}
	return qualifyingExcerpts > 0, qualifyingExcerpts
}
