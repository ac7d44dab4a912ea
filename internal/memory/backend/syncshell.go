package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lumen/internal/domain"
)

// SyncResult is a single entry as returned by a SyncShellClient.
type SyncResult struct {
	Key       string            `json:"key"`
	Content   string            `json:"content"`
	Category  string            `json:"category"`
	SessionID *string           `json:"session_id,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SyncShellStatus reports the sync state between the local backend and
// the external tool SyncShellClient fronts.
type SyncShellStatus struct {
	LastSyncAt  time.Time
	PendingPush int
	PendingPull int
	InSync      bool
}

// SyncShellClient is the capability contract for an external sync tool
// a SyncShell backend shells out to — any CLI or API-backed knowledge
// store that can write/read/delete/query entries and report a sync
// status. Generalized from a single named product's API into a shape
// any such tool can implement, per domain.Backend's doc comment.
type SyncShellClient interface {
	Authenticate(ctx context.Context) error
	WriteContext(ctx context.Context, key, content, category string, sessionID *string, tags []string, metadata map[string]string) error
	ReadContext(ctx context.Context, key string) (*SyncResult, error)
	DeleteContext(ctx context.Context, key string) error
	Query(ctx context.Context, query string, limit int) ([]SyncResult, error)
	Pull(ctx context.Context, since time.Time) ([]SyncResult, error)
	SyncStatus(ctx context.Context) (*SyncShellStatus, error)
}

// SyncShellOption configures a SyncShell backend.
type SyncShellOption func(*SyncShell)

// WithSyncShellEncryptor sets a content encryptor for at-rest
// encryption of the body sent to the external tool.
func WithSyncShellEncryptor(enc domain.ContentEncryptor) SyncShellOption {
	return func(s *SyncShell) { s.encryptor = enc }
}

// SyncShell implements domain.Backend by delegating every operation to
// an external tool via SyncShellClient. It has no transaction or outbox
// support, and Recall/List fall back to a client-side Query + in-memory
// filter since the external tool has no native category/session index.
type SyncShell struct {
	client     SyncShellClient
	logger     *slog.Logger
	lastSyncAt time.Time
	encryptor  domain.ContentEncryptor
}

// NewSyncShell wraps client as a domain.Backend.
func NewSyncShell(client SyncShellClient, logger *slog.Logger, opts ...SyncShellOption) *SyncShell {
	s := &SyncShell{client: client, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SyncShell) Name() string { return "syncshell" }

func (s *SyncShell) Capabilities() domain.BackendCapabilities {
	return domain.BackendCapabilities{}
}

func (s *SyncShell) Store(ctx context.Context, key, content string, category domain.MemoryCategory, sessionID *string, tags []string, metadata map[string]string) error {
	body := content
	if s.encryptor != nil {
		encrypted, err := s.encryptor.Encrypt(body)
		if err != nil {
			return domain.NewDomainError("SyncShell.Store", domain.ErrEncryption, err.Error())
		}
		body = encrypted
	}

	if err := s.client.WriteContext(ctx, key, body, category.String(), sessionID, tags, metadata); err != nil {
		return domain.NewDomainError("SyncShell.Store", domain.ErrSyncShellFailed, err.Error())
	}
	return nil
}

func (s *SyncShell) Recall(ctx context.Context, query string, limit int, sessionID *string) ([]domain.MemoryEntry, error) {
	results, err := s.client.Query(ctx, query, limit)
	if err != nil {
		return nil, domain.NewDomainError("SyncShell.Recall", domain.ErrSyncShellFailed, err.Error())
	}

	out := make([]domain.MemoryEntry, 0, len(results))
	for _, r := range results {
		if sessionID != nil && (r.SessionID == nil || *r.SessionID != *sessionID) {
			continue
		}
		entry, err := s.decode(r)
		if err != nil {
			continue // skip entries this instance can't decrypt
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *SyncShell) Get(ctx context.Context, key string) (domain.MemoryEntry, bool, error) {
	result, err := s.client.ReadContext(ctx, key)
	if err != nil {
		return domain.MemoryEntry{}, false, domain.NewDomainError("SyncShell.Get", domain.ErrSyncShellFailed, err.Error())
	}
	if result == nil {
		return domain.MemoryEntry{}, false, nil
	}
	entry, err := s.decode(*result)
	if err != nil {
		return domain.MemoryEntry{}, false, domain.NewDomainError("SyncShell.Get", domain.ErrDecryption, err.Error())
	}
	return entry, true, nil
}

func (s *SyncShell) List(ctx context.Context, category *domain.MemoryCategory, sessionID *string) ([]domain.MemoryEntry, error) {
	results, err := s.client.Query(ctx, "", 0)
	if err != nil {
		return nil, domain.NewDomainError("SyncShell.List", domain.ErrSyncShellFailed, err.Error())
	}

	out := make([]domain.MemoryEntry, 0, len(results))
	for _, r := range results {
		if category != nil && r.Category != category.String() {
			continue
		}
		if sessionID != nil && (r.SessionID == nil || *r.SessionID != *sessionID) {
			continue
		}
		entry, err := s.decode(r)
		if err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *SyncShell) Forget(ctx context.Context, key string) (bool, error) {
	if _, ok, err := s.Get(ctx, key); err != nil {
		return false, err
	} else if !ok {
		return false, nil
	}
	if err := s.client.DeleteContext(ctx, key); err != nil {
		return false, domain.NewDomainError("SyncShell.Forget", domain.ErrSyncShellFailed, err.Error())
	}
	return true, nil
}

func (s *SyncShell) Count(ctx context.Context) (int, error) {
	results, err := s.client.Query(ctx, "", 0)
	if err != nil {
		return 0, domain.NewDomainError("SyncShell.Count", domain.ErrSyncShellFailed, err.Error())
	}
	return len(results), nil
}

func (s *SyncShell) HealthCheck(ctx context.Context) bool {
	status, err := s.client.SyncStatus(ctx)
	return err == nil && status != nil
}

// Sync pulls remote changes since the last sync, logging the outcome —
// not part of domain.Backend, called on a schedule by whatever wires
// this backend in (the hygiene scheduler, or a dedicated sync loop).
func (s *SyncShell) Sync(ctx context.Context) error {
	status, err := s.client.SyncStatus(ctx)
	if err != nil {
		return domain.NewDomainError("SyncShell.Sync", domain.ErrSyncShellFailed, err.Error())
	}

	s.logger.Info("syncshell status",
		"in_sync", status.InSync,
		"pending_push", status.PendingPush,
		"pending_pull", status.PendingPull,
	)

	if !status.InSync {
		pulled, err := s.client.Pull(ctx, s.lastSyncAt)
		if err != nil {
			return domain.NewDomainError("SyncShell.Sync", domain.ErrSyncShellFailed, fmt.Sprintf("pull: %v", err))
		}
		s.logger.Info("syncshell pulled entries", "count", len(pulled))
	}

	s.lastSyncAt = time.Now()
	return nil
}

func (s *SyncShell) decode(r SyncResult) (domain.MemoryEntry, error) {
	content := r.Content
	if s.encryptor != nil {
		decrypted, err := s.encryptor.Decrypt(content)
		if err != nil {
			return domain.MemoryEntry{}, err
		}
		content = decrypted
	}
	return domain.MemoryEntry{
		ID:        r.Key,
		Key:       r.Key,
		Content:   content,
		Category:  domain.ParseCategory(r.Category),
		Timestamp: r.CreatedAt,
		SessionID: r.SessionID,
		Tags:      r.Tags,
		Metadata:  r.Metadata,
	}, nil
}

var _ domain.Backend = (*SyncShell)(nil)
