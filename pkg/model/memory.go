package model

import (
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type MemoryID string

// NewMemoryID generates a new unique MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

type MemoryType string

const (
	MemoryTypeShortTerm MemoryType = "short_term"
	MemoryTypeLongTerm  MemoryType = "long_term"
)

// Validate checks if the memory type is valid
func (t MemoryType) Validate() error {
	switch t {
	case MemoryTypeShortTerm, MemoryTypeLongTerm:
		return nil
	default:
		return goerr.Wrap(ErrValidation, "invalid memory type", goerr.V("type", t))
	}
}

type MemoryCategory string

const (
	MemoryCategoryInteraction MemoryCategory = "interaction"
	MemoryCategoryDecision    MemoryCategory = "decision"
	MemoryCategoryEvent       MemoryCategory = "event"
	MemoryCategoryPattern     MemoryCategory = "pattern"
	MemoryCategoryPreference  MemoryCategory = "preference"
)

// Validate checks if the memory category is valid
func (c MemoryCategory) Validate() error {
	switch c {
	case MemoryCategoryInteraction, MemoryCategoryDecision, MemoryCategoryEvent,
		MemoryCategoryPattern, MemoryCategoryPreference:
		return nil
	default:
		return goerr.Wrap(ErrValidation, "invalid memory category", goerr.V("category", c))
	}
}

// TagSet is the stored form of memory tags. Each tag is a key so that "all of these tags"
// filters can be expressed as one equality per tag.
type TagSet map[string]bool

// NewTagSet builds a TagSet from a list of tags, dropping blanks
func NewTagSet(tags []string) TagSet {
	ts := make(TagSet, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		ts[tag] = true
	}
	return ts
}

// List returns tags in lexical order
func (ts TagSet) List() []string {
	tags := make([]string, 0, len(ts))
	for tag, ok := range ts {
		if ok {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	return tags
}

// ContainsAll reports whether every tag is present
func (ts TagSet) ContainsAll(tags []string) bool {
	for _, tag := range tags {
		if !ts[tag] {
			return false
		}
	}
	return true
}

// Memory is a unit of stored knowledge used as decision context
type Memory struct {
	ID       MemoryID
	OwnerID  string
	Type     MemoryType
	Category MemoryCategory
	Content  string

	// Embedding is computed from Content at creation and never changes afterwards
	Embedding firestore.Vector32

	Tags     TagSet
	Metadata map[string]any

	RelevanceScore float64
	ExpiresAt      *time.Time

	CreatedAt  time.Time
	UpdatedAt  time.Time
	AccessedAt time.Time
	DeletedAt  *time.Time
}

// Deleted reports whether the memory carries a soft-delete marker
func (m *Memory) Deleted() bool {
	return m.DeletedAt != nil
}

// Expired reports whether the memory has an expiry at or before now
func (m *Memory) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// ScoredMemory is a search hit with its cosine similarity to the query
type ScoredMemory struct {
	Memory     *Memory
	Similarity float64
}

// MemoryFilter restricts memory candidates. Empty fields do not filter.
type MemoryFilter struct {
	OwnerID  string
	Type     MemoryType
	Category MemoryCategory
	Tags     []string
}

// Match reports whether the memory satisfies the filter. Soft-deleted memories never match.
func (f *MemoryFilter) Match(m *Memory) bool {
	if m.Deleted() {
		return false
	}
	if f == nil {
		return true
	}
	if f.OwnerID != "" && m.OwnerID != f.OwnerID {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if f.Category != "" && m.Category != f.Category {
		return false
	}
	return m.Tags.ContainsAll(f.Tags)
}
