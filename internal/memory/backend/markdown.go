package backend

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lumen/internal/domain"
)

// markdownFrontmatter is the YAML structure embedded in each .md file.
type markdownFrontmatter struct {
	Key       string            `yaml:"key"`
	Category  string            `yaml:"category"`
	SessionID *string           `yaml:"session_id,omitempty"`
	Tags      []string          `yaml:"tags,omitempty"`
	Metadata  map[string]string `yaml:"metadata,omitempty"`
	CreatedAt string            `yaml:"created_at"`
	UpdatedAt string            `yaml:"updated_at"`
}

// MarkdownOption configures Markdown.
type MarkdownOption func(*Markdown)

// WithEncryptor sets a content encryptor for at-rest encryption of each
// entry's body.
func WithEncryptor(enc domain.ContentEncryptor) MarkdownOption {
	return func(m *Markdown) { m.encryptor = enc }
}

// Markdown implements domain.Backend over a directory of human-readable
// .md files with YAML frontmatter, indexed in memory for fast Recall —
// a single-writer, inspectable alternative to the sqlite backend with
// no transaction or outbox support.
type Markdown struct {
	dataDir    string
	entriesDir string
	index      *markdownIndex
	encryptor  domain.ContentEncryptor
}

// NewMarkdown creates a markdown-based backend rooted at dataDir.
func NewMarkdown(dataDir string, opts ...MarkdownOption) (*Markdown, error) {
	entriesDir := filepath.Join(dataDir, "entries")
	if err := os.MkdirAll(entriesDir, 0700); err != nil {
		return nil, fmt.Errorf("create entries dir: %w", err)
	}

	idx, err := newMarkdownIndex(dataDir)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	m := &Markdown{dataDir: dataDir, entriesDir: entriesDir, index: idx}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Markdown) Name() string { return "markdown" }

func (m *Markdown) Capabilities() domain.BackendCapabilities {
	return domain.BackendCapabilities{}
}

// Store upserts by key: an existing entry's file is overwritten in
// place so the filename (and therefore CreatedAt) survives updates.
func (m *Markdown) Store(_ context.Context, key, content string, category domain.MemoryCategory, sessionID *string, tags []string, metadata map[string]string) error {
	now := time.Now().UTC()
	createdAt := now
	filename := ""
	if existing, ok := m.index.get(key); ok {
		createdAt = existing.CreatedAt
		filename = existing.Filename
	}
	if filename == "" {
		suffix, err := generateSuffix()
		if err != nil {
			return domain.NewDomainError("Markdown.Store", domain.ErrMemoryStore, err.Error())
		}
		filename = fmt.Sprintf("%s-%s.md", createdAt.Format("2006-01-02"), suffix)
	}

	preview := content
	if len(preview) > 200 {
		preview = preview[:200]
	}

	body := content
	if m.encryptor != nil {
		if encrypted, err := m.encryptor.Encrypt(body); err == nil {
			body = encrypted
		}
	}

	rendered := renderMarkdownEntry(markdownFrontmatter{
		Key:       key,
		Category:  category.String(),
		SessionID: sessionID,
		Tags:      tags,
		Metadata:  metadata,
		CreatedAt: createdAt.Format(time.RFC3339),
		UpdatedAt: now.Format(time.RFC3339),
	}, body)

	path := filepath.Join(m.entriesDir, filename)
	if err := os.WriteFile(path, []byte(rendered), 0600); err != nil {
		return domain.NewDomainError("Markdown.Store", domain.ErrMemoryStore, err.Error())
	}

	if err := m.index.add(markdownIndexEntry{
		Key:            key,
		Filename:       filename,
		Category:       category.String(),
		SessionID:      sessionID,
		ContentPreview: preview,
		CreatedAt:      createdAt,
		UpdatedAt:      now,
	}); err != nil {
		return domain.NewDomainError("Markdown.Store", domain.ErrMemoryIndex, err.Error())
	}

	return nil
}

func (m *Markdown) Recall(_ context.Context, query string, limit int, sessionID *string) ([]domain.MemoryEntry, error) {
	matches := m.index.search(query, limit, sessionID)
	return m.hydrateAll(matches)
}

func (m *Markdown) Get(_ context.Context, key string) (domain.MemoryEntry, bool, error) {
	idxEntry, ok := m.index.get(key)
	if !ok {
		return domain.MemoryEntry{}, false, nil
	}
	entry, err := m.hydrate(idxEntry)
	if err != nil {
		return domain.MemoryEntry{}, false, err
	}
	return entry, true, nil
}

func (m *Markdown) List(_ context.Context, category *domain.MemoryCategory, sessionID *string) ([]domain.MemoryEntry, error) {
	return m.hydrateAll(m.index.list(category, sessionID))
}

func (m *Markdown) Forget(_ context.Context, key string) (bool, error) {
	idxEntry, ok := m.index.get(key)
	if !ok {
		return false, nil
	}

	path := filepath.Join(m.entriesDir, idxEntry.Filename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, domain.NewDomainError("Markdown.Forget", domain.ErrMemoryDelete, err.Error())
	}

	removed, err := m.index.remove(key)
	if err != nil {
		return false, domain.NewDomainError("Markdown.Forget", domain.ErrMemoryIndex, err.Error())
	}
	return removed, nil
}

// Recategorize implements domain.CategoryMover, rewriting the entry's
// frontmatter category field in place while preserving CreatedAt and
// UpdatedAt.
func (m *Markdown) Recategorize(_ context.Context, key string, category domain.MemoryCategory) (bool, error) {
	idxEntry, ok, err := m.index.updateCategory(key, category.String())
	if err != nil {
		return false, domain.NewDomainError("Markdown.Recategorize", domain.ErrMemoryIndex, err.Error())
	}
	if !ok {
		return false, nil
	}

	path := filepath.Join(m.entriesDir, idxEntry.Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return false, domain.NewDomainError("Markdown.Recategorize", domain.ErrMemoryStore, err.Error())
	}
	fm, body, err := parseMarkdownEntry(data)
	if err != nil {
		return false, domain.NewDomainError("Markdown.Recategorize", domain.ErrMemoryStore, err.Error())
	}
	fm.Category = category.String()
	rendered := renderMarkdownEntry(fm, body)
	if err := os.WriteFile(path, []byte(rendered), 0600); err != nil {
		return false, domain.NewDomainError("Markdown.Recategorize", domain.ErrMemoryStore, err.Error())
	}
	return true, nil
}

func (m *Markdown) Count(_ context.Context) (int, error) {
	return m.index.count(), nil
}

func (m *Markdown) HealthCheck(_ context.Context) bool {
	info, err := os.Stat(m.entriesDir)
	return err == nil && info.IsDir()
}

func (m *Markdown) hydrateAll(idxEntries []markdownIndexEntry) ([]domain.MemoryEntry, error) {
	entries := make([]domain.MemoryEntry, 0, len(idxEntries))
	for _, ie := range idxEntries {
		entry, err := m.hydrate(ie)
		if err != nil {
			continue // skip missing or malformed files rather than fail the whole page
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (m *Markdown) hydrate(ie markdownIndexEntry) (domain.MemoryEntry, error) {
	data, err := os.ReadFile(filepath.Join(m.entriesDir, ie.Filename))
	if err != nil {
		return domain.MemoryEntry{}, err
	}

	fm, body, err := parseMarkdownEntry(data)
	if err != nil {
		return domain.MemoryEntry{}, err
	}

	if m.encryptor != nil {
		decrypted, err := m.encryptor.Decrypt(body)
		if err != nil {
			return domain.MemoryEntry{}, fmt.Errorf("decrypt content: %w", err)
		}
		body = decrypted
	}

	createdAt, _ := time.Parse(time.RFC3339, fm.CreatedAt)
	return domain.MemoryEntry{
		ID:        fm.Key,
		Key:       fm.Key,
		Content:   body,
		Category:  domain.ParseCategory(fm.Category),
		Timestamp: createdAt,
		SessionID: fm.SessionID,
		Tags:      fm.Tags,
		Metadata:  fm.Metadata,
	}, nil
}

func renderMarkdownEntry(fm markdownFrontmatter, body string) string {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	enc.Encode(fm)
	enc.Close()
	buf.WriteString("---\n\n")
	buf.WriteString(body)
	buf.WriteByte('\n')
	return buf.String()
}

func parseMarkdownEntry(data []byte) (markdownFrontmatter, string, error) {
	content := string(data)
	if !strings.HasPrefix(content, "---\n") {
		return markdownFrontmatter{}, "", fmt.Errorf("missing frontmatter start")
	}

	rest := content[4:]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		return markdownFrontmatter{}, "", fmt.Errorf("missing frontmatter end")
	}

	fmRaw := rest[:idx]
	body := strings.TrimSpace(rest[idx+5:])

	var fm markdownFrontmatter
	if err := yaml.Unmarshal([]byte(fmRaw), &fm); err != nil {
		return markdownFrontmatter{}, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	return fm, body, nil
}

// generateSuffix returns a short random hex suffix for a new filename.
func generateSuffix() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var _ domain.Backend = (*Markdown)(nil)
var _ domain.CategoryMover = (*Markdown)(nil)
