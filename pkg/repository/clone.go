package repository

import (
	"maps"

	"cloud.google.com/go/firestore"
	"github.com/lifeops/lifeops/pkg/model"
)

func cloneMemory(m *model.Memory) *model.Memory {
	c := *m
	c.Embedding = append(firestore.Vector32(nil), m.Embedding...)
	c.Tags = maps.Clone(m.Tags)
	c.Metadata = maps.Clone(m.Metadata)
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		c.ExpiresAt = &t
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

func cloneSynthesis(s *model.Synthesis) *model.Synthesis {
	if s == nil {
		return nil
	}
	c := *s
	c.RiskFactors = append([]string(nil), s.RiskFactors...)
	c.Alternatives = append([]string(nil), s.Alternatives...)
	return &c
}

func cloneDecision(d *model.Decision) *model.Decision {
	c := *d
	c.QuestionEmbedding = append(firestore.Vector32(nil), d.QuestionEmbedding...)
	c.ContextMemoryIDs = append([]model.MemoryID(nil), d.ContextMemoryIDs...)
	c.AgentsConsulted = append([]model.Consultation(nil), d.AgentsConsulted...)
	c.Synthesis = cloneSynthesis(d.Synthesis)
	if d.Outcome != nil {
		o := *d.Outcome
		c.Outcome = &o
	}
	c.Metadata = maps.Clone(d.Metadata)
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

func cloneAgent(a *model.Agent) *model.Agent {
	c := *a
	c.Capabilities = append([]model.Capability(nil), a.Capabilities...)
	c.Metadata = maps.Clone(a.Metadata)
	return &c
}
