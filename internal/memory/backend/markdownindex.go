package backend

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"lumen/internal/domain"
)

// markdownIndexEntry is a single entry in the markdown backend's
// in-memory index, persisted to index.json alongside the .md files it
// describes.
type markdownIndexEntry struct {
	Key            string                `json:"key"`
	Filename       string                `json:"filename"`
	Category       string                `json:"category"`
	SessionID      *string               `json:"session_id,omitempty"`
	ContentPreview string                `json:"content_preview"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// markdownIndex is an in-memory index backed by index.json, letting
// Recall/List/Count avoid reading every .md file on disk.
type markdownIndex struct {
	mu      sync.RWMutex
	entries map[string]markdownIndexEntry
	path    string
}

func newMarkdownIndex(dir string) (*markdownIndex, error) {
	idx := &markdownIndex{
		entries: make(map[string]markdownIndexEntry),
		path:    filepath.Join(dir, "index.json"),
	}
	if err := idx.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load index: %w", err)
	}
	return idx, nil
}

func (idx *markdownIndex) add(entry markdownIndexEntry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[entry.Key] = entry
	return idx.save()
}

func (idx *markdownIndex) remove(key string) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, ok := idx.entries[key]
	if !ok {
		return false, nil
	}
	delete(idx.entries, key)
	return true, idx.save()
}

// updateCategory rewrites an existing entry's category in place,
// leaving CreatedAt/UpdatedAt untouched.
func (idx *markdownIndex) updateCategory(key, category string) (markdownIndexEntry, bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.entries[key]
	if !ok {
		return markdownIndexEntry{}, false, nil
	}
	e.Category = category
	idx.entries[key] = e
	if err := idx.save(); err != nil {
		return markdownIndexEntry{}, false, err
	}
	return e, true, nil
}

func (idx *markdownIndex) get(key string) (markdownIndexEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[key]
	return e, ok
}

func (idx *markdownIndex) count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// list returns every entry passing both filters (AND semantics, nil ==
// "any"), newest first.
func (idx *markdownIndex) list(category *domain.MemoryCategory, sessionID *string) []markdownIndexEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]markdownIndexEntry, 0, len(idx.entries))
	for _, e := range idx.entries {
		if !matchesFilters(e, category, sessionID) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func matchesFilters(e markdownIndexEntry, category *domain.MemoryCategory, sessionID *string) bool {
	if category != nil && e.Category != category.String() {
		return false
	}
	if sessionID != nil {
		if e.SessionID == nil || *e.SessionID != *sessionID {
			return false
		}
	}
	return true
}

// search ranks entries by keyword + tag-style category match plus a
// recency bonus, restricted to sessionID when non-nil. An empty query
// returns every matching entry sorted by recency.
func (idx *markdownIndex) search(query string, limit int, sessionID *string) []markdownIndexEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	keywords := tokenize(query)
	candidates := make([]markdownIndexEntry, 0, len(idx.entries))
	for _, e := range idx.entries {
		if sessionID != nil && (e.SessionID == nil || *e.SessionID != *sessionID) {
			continue
		}
		candidates = append(candidates, e)
	}

	if len(keywords) == 0 {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.After(candidates[j].CreatedAt) })
		return truncateIndex(candidates, limit)
	}

	type scored struct {
		entry markdownIndexEntry
		score float64
	}
	now := time.Now()
	var results []scored
	for _, e := range candidates {
		s := scoreIndexEntry(e, keywords, now)
		if s > 0 {
			results = append(results, scored{entry: e, score: s})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })

	out := make([]markdownIndexEntry, len(results))
	for i, r := range results {
		out[i] = r.entry
	}
	return truncateIndex(out, limit)
}

func truncateIndex(entries []markdownIndexEntry, limit int) []markdownIndexEntry {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}

func (idx *markdownIndex) load() error {
	data, err := os.ReadFile(idx.path)
	if err != nil {
		return err
	}
	var entries []markdownIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("unmarshal index: %w", err)
	}
	for _, e := range entries {
		idx.entries[e.Key] = e
	}
	return nil
}

// save writes the index atomically (temp file + rename). Caller must
// hold idx.mu.
func (idx *markdownIndex) save() error {
	entries := make([]markdownIndexEntry, 0, len(idx.entries))
	for _, e := range idx.entries {
		entries = append(entries, e)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	dir := filepath.Dir(idx.path)
	tmp, err := os.CreateTemp(dir, "index-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, idx.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename index: %w", err)
	}
	return nil
}

func tokenize(s string) []string {
	words := strings.Fields(strings.ToLower(s))
	unique := make(map[string]struct{}, len(words))
	var result []string
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:'\"()[]{}")
		if len(w) < 2 {
			continue
		}
		if _, ok := unique[w]; !ok {
			unique[w] = struct{}{}
			result = append(result, w)
		}
	}
	return result
}

func scoreIndexEntry(entry markdownIndexEntry, keywords []string, now time.Time) float64 {
	var score float64
	preview := strings.ToLower(entry.ContentPreview)
	category := strings.ToLower(entry.Category)

	for _, kw := range keywords {
		if strings.Contains(category, kw) {
			score += 3.0
		}
		if strings.Contains(preview, kw) {
			score += 1.0
		}
	}
	if score == 0 {
		return 0
	}

	daysSince := now.Sub(entry.CreatedAt).Hours() / 24
	recencyBonus := math.Max(0, 2.0*(1.0-daysSince/7.0))
	return score + recencyBonus
}
