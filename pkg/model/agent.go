package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type AgentID string

// NewAgentID generates a new unique AgentID
func NewAgentID() AgentID {
	return AgentID(uuid.New().String())
}

type Capability struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// AgentConfig controls how the runtime executes an agent. Timeout is per attempt;
// MaxRetries counts additional attempts after the first one.
type AgentConfig struct {
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	Priority   int           `json:"priority" yaml:"priority"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
}

// DefaultAgentConfig returns the config every registration is merged over
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Enabled:    true,
		Priority:   1,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// AgentConfigPatch is a partial config. Nil fields keep the default.
type AgentConfigPatch struct {
	Enabled    *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Priority   *int           `json:"priority,omitempty" yaml:"priority,omitempty"`
	Timeout    *time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxRetries *int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// Merge applies the patch over base and returns the result
func (p *AgentConfigPatch) Merge(base AgentConfig) AgentConfig {
	if p == nil {
		return base
	}
	if p.Enabled != nil {
		base.Enabled = *p.Enabled
	}
	if p.Priority != nil {
		base.Priority = *p.Priority
	}
	if p.Timeout != nil {
		base.Timeout = *p.Timeout
	}
	if p.MaxRetries != nil {
		base.MaxRetries = *p.MaxRetries
	}
	return base
}

// AgentDescriptor is what callers register. Slug is the natural key.
type AgentDescriptor struct {
	Slug         string            `json:"slug" yaml:"slug"`
	Name         string            `json:"name" yaml:"name"`
	Description  string            `json:"description" yaml:"description"`
	Version      string            `json:"version" yaml:"version"`
	Capabilities []Capability      `json:"capabilities" yaml:"capabilities"`
	Config       *AgentConfigPatch `json:"config,omitempty" yaml:"config,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Validate checks the descriptor
func (d *AgentDescriptor) Validate() error {
	if strings.TrimSpace(d.Slug) == "" {
		return goerr.Wrap(ErrValidation, "agent slug is empty")
	}
	if strings.ContainsAny(d.Slug, "/ \t\n") {
		return goerr.Wrap(ErrValidation, "agent slug must not contain slashes or spaces", goerr.V("slug", d.Slug))
	}
	if d.Name == "" {
		return goerr.Wrap(ErrValidation, "agent name is empty", goerr.V("slug", d.Slug))
	}
	for _, c := range d.Capabilities {
		if c.Name == "" {
			return goerr.Wrap(ErrValidation, "capability name is empty", goerr.V("slug", d.Slug))
		}
	}
	return nil
}

// Agent is a registry record
type Agent struct {
	ID           AgentID
	Slug         string
	Name         string
	Description  string
	Version      string
	Capabilities []Capability
	Config       AgentConfig
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// HasCapability reports whether the agent declares the named capability
func (a *Agent) HasCapability(name string) bool {
	for _, c := range a.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}
