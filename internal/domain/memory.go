package domain

import "time"

// MemoryCategory classifies a stored entry. The zero value is CategoryCore.
type MemoryCategory struct {
	variant string
	custom  string
}

var (
	CategoryCore         = MemoryCategory{variant: "core"}
	CategoryDaily        = MemoryCategory{variant: "daily"}
	CategoryConversation = MemoryCategory{variant: "conversation"}
	CategoryArchive      = MemoryCategory{variant: "archive"}
)

// CustomCategory builds a named custom category. name must be non-empty.
func CustomCategory(name string) MemoryCategory {
	return MemoryCategory{variant: "custom", custom: name}
}

// String renders the category as its stable on-disk/DB name.
func (c MemoryCategory) String() string {
	if c.variant == "" {
		return CategoryCore.variant
	}
	if c.variant == "custom" {
		return c.custom
	}
	return c.variant
}

// IsCore reports whether c is the core category.
func (c MemoryCategory) IsCore() bool {
	return c.variant == "" || c.variant == "core"
}

// ParseCategory reverses String for the well-known variants, otherwise
// treats the value as a custom category name.
func ParseCategory(s string) MemoryCategory {
	switch s {
	case "", "core":
		return CategoryCore
	case "daily":
		return CategoryDaily
	case "conversation":
		return CategoryConversation
	case "archive":
		return CategoryArchive
	default:
		return CustomCategory(s)
	}
}

// MemoryEntry is a single piece of stored knowledge.
type MemoryEntry struct {
	ID        string
	Key       string
	Content   string
	Category  MemoryCategory
	Timestamp time.Time
	SessionID *string
	Score     *float64
	// Tags and Metadata are optional free-form classification fields
	// beyond the core key/content/category shape, carried end-to-end by
	// every Backend implementation.
	Tags     []string
	Metadata map[string]string
}

// MessageEntry is one turn of append-only per-session chat history.
type MessageEntry struct {
	Role      MessageRole
	Content   string
	Timestamp time.Time
	AutoSaved bool
}

// MessageRole identifies the speaker of a MessageEntry.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// Valid reports whether r is one of the defined roles.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	default:
		return false
	}
}

// RetrievalCandidate is a single ranked result flowing through the
// retrieval engine. Exactly one of KeywordRank/VectorScore is set per
// emission from a source; FinalScore is assigned by the engine.
type RetrievalCandidate struct {
	ID          string
	Key         string
	Content     string
	Snippet     string
	Category    MemoryCategory
	Timestamp   time.Time
	KeywordRank *int
	VectorScore *float64
	FinalScore  float64
	Source      string
	SourcePath  string
	LineStart   int
	LineEnd     int
}

// VectorResult is a single nearest-neighbor hit from a vector store search.
type VectorResult struct {
	Key   string
	Score float64
}

// OutboxOperation names the pending action recorded in an OutboxEntry.
type OutboxOperation string

const (
	OutboxUpsert OutboxOperation = "upsert"
	OutboxDelete OutboxOperation = "delete"
)

// OutboxEntry is one pending vector-sync operation.
type OutboxEntry struct {
	ID            int64
	Key           string
	Operation     OutboxOperation
	Attempts      int
	NextAttemptAt time.Time
}

// HealthStatus is the lifecycle state of a registered component.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthOK       HealthStatus = "ok"
	HealthError    HealthStatus = "error"
)

// ComponentHealth is the current health record for one named component.
type ComponentHealth struct {
	Status       HealthStatus
	UpdatedAt    time.Time
	LastOK       *time.Time
	LastError    *string
	RestartCount int
}

// BreakerState is the three-state machine guarding a guarded dependency.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)
