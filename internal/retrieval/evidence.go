package retrieval

// EvidenceChunk is one passage of document text supporting an answer.
// Score is 1.0 for exhaustive scans, cosine similarity in [0,1] otherwise.
type EvidenceChunk struct {
	Content string            `json:"content"`
	Source  string            `json:"source"`
	Score   float32           `json:"score"`
	Meta    map[string]string `json:"metadata,omitempty"`
}

// Result is the evidence gathered for one sub-question.
type Result struct {
	Question string          `json:"question"`
	Strategy string          `json:"strategy"`
	Chunks   []EvidenceChunk `json:"chunks"`
}

// Documents returns the number of distinct source documents represented
// in the result's chunks.
func (r Result) Documents() int {
	seen := map[string]bool{}
	for _, c := range r.Chunks {
		if c.Source != "" {
			seen[c.Source] = true
		}
	}
	return len(seen)
}

// Empty reports whether the result carries no evidence at all.
func (r Result) Empty() bool {
	return len(r.Chunks) == 0
}
