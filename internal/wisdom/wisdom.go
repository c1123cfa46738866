// Package wisdom implements the institutional-wisdom store: a durable,
// cross-session BM25-searchable log of passages the kernel has learned
// worth remembering, consulted by the Goal Engine when decomposing a
// goal and by the Task Executor when assembling a task's context
// block.
package wisdom

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/google/uuid"

	"github.com/ara-systems/ara/internal/arerr"
)

// Passage is one remembered unit of institutional wisdom.
type Passage struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Source     string    `json:"source"` // "session:<id>", "operator", "consolidated"
	Importance float32   `json:"importance"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recalled is a passage with its relevance score against a query.
type Recalled struct {
	Passage
	Score float32
}

// Meta describes a passage being remembered.
type Meta struct {
	Source     string
	Importance float32 // 0-1, default 0.5
	Tags       []string
}

// RecallOpts configures a recall query.
type RecallOpts struct {
	Limit    int     // default 10
	MinScore float32 // default 0, passages scoring below are dropped
	Tags     []string
}

// Transcript is one exchange considered during session consolidation.
type Transcript struct {
	Role    string
	Content string
}

// Store is a bleve-backed BM25 full-text index over remembered passages.
// Institutional wisdom recall does not need vector similarity: task
// decomposition and execution prompts are English-language goals and
// descriptions, and BM25 keyword relevance over a modestly sized corpus
// is what the domain stack commits to.
type Store struct {
	mu    sync.RWMutex
	index bleve.Index
}

// Open opens (creating if absent) the wisdom index under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot create wisdom store directory", err)
	}
	indexPath := filepath.Join(dir, "wisdom.bleve")

	var index bleve.Index
	var err error
	if _, statErr := os.Stat(indexPath); os.IsNotExist(statErr) {
		index, err = bleve.New(indexPath, buildMapping())
	} else {
		index, err = bleve.Open(indexPath)
	}
	if err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot open wisdom index", err)
	}
	return &Store{index: index}, nil
}

func buildMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	keyword := bleve.NewKeywordFieldMapping()
	numeric := bleve.NewNumericFieldMapping()
	date := bleve.NewDateTimeFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("source", keyword)
	doc.AddFieldMappingsAt("importance", numeric)
	doc.AddFieldMappingsAt("tags", keyword)
	doc.AddFieldMappingsAt("created_at", date)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = standard.Name
	return im
}

// Remember indexes content as a new passage.
func (s *Store) Remember(content string, meta Meta) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	importance := meta.Importance
	if importance == 0 {
		importance = 0.5
	}

	p := Passage{
		ID:         uuid.New().String(),
		Content:    content,
		Source:     meta.Source,
		Importance: importance,
		Tags:       meta.Tags,
		CreatedAt:  time.Now(),
	}
	if err := s.index.Index(p.ID, p); err != nil {
		return "", arerr.Wrap(arerr.KindInternal, "cannot index wisdom passage", err)
	}
	return p.ID, nil
}

// Recall returns the passages most relevant to query, used both for
// Goal Engine decomposition context and the Task Executor's per-task
// context block (query is typically "skill:{name} {goal}").
func (s *Store) Recall(query string, opts RecallOpts) ([]Recalled, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(q)
	req.Size = limit * 2
	req.Fields = []string{"*"}

	result, err := s.index.Search(req)
	if err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "wisdom recall search failed", err)
	}

	var out []Recalled
	for _, hit := range result.Hits {
		score := float32(hit.Score)
		if score > 1 {
			score = 1 - (1 / (1 + score))
		}
		if score < opts.MinScore {
			continue
		}

		content, _ := hit.Fields["content"].(string)
		source, _ := hit.Fields["source"].(string)
		importance, _ := hit.Fields["importance"].(float64)
		tags := asStrings(hit.Fields["tags"])

		if len(opts.Tags) > 0 && !hasAnyTag(tags, opts.Tags) {
			continue
		}

		out = append(out, Recalled{
			Passage: Passage{
				ID:         hit.ID,
				Content:    content,
				Source:     source,
				Importance: float32(importance),
				Tags:       tags,
			},
			Score: score,
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Forget removes a passage.
func (s *Store) Forget(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.index.Delete(id); err != nil {
		return arerr.Wrap(arerr.KindInternal, "cannot delete wisdom passage", err)
	}
	return nil
}

// ConsolidateSession extracts durable insights from a completed session's
// decision log and remembers them, so future goal decompositions in the
// same workspace benefit from what was learned.
func (s *Store) ConsolidateSession(sessionID string, transcript []Transcript) error {
	if len(transcript) == 0 {
		return nil
	}

	var insights []string
	for _, t := range transcript {
		lower := strings.ToLower(t.Content)
		if containsAny(lower, insightMarkers) {
			insights = append(insights, t.Content)
		}
	}
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == "agent" && len(transcript[i].Content) > 100 {
			insights = append(insights, transcript[i].Content)
			break
		}
	}

	for _, insight := range insights {
		if len(insight) < 50 {
			continue
		}
		if len(insight) > 2000 {
			insight = insight[:2000] + "..."
		}
		if _, err := s.Remember(insight, Meta{Source: "session:" + sessionID, Importance: 0.6}); err != nil {
			return err
		}
	}
	return nil
}

var insightMarkers = []string{
	"decided", "conclusion", "important", "remember",
	"note that", "key insight", "learned that",
	"will use", "should use", "regression", "rejected",
}

// Close releases the underlying index handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.index.Close(); err != nil {
		return arerr.Wrap(arerr.KindInternal, "cannot close wisdom index", err)
	}
	return nil
}

func asStrings(raw interface{}) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []interface{}:
		var out []string
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// ContextQuery builds the canonical recall query string for a task's
// context assembly: "skill:{name} {goal}" when a skill was selected,
// else just the goal text.
func ContextQuery(skillName, goal string) string {
	if skillName == "" {
		return goal
	}
	return fmt.Sprintf("skill:%s %s", skillName, goal)
}
