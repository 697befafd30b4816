package decision

import (
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Document is the JSON form of a decision used by Export and the CLI. The question
// embedding is left out.
type Document struct {
	ID               model.DecisionID       `json:"id"`
	OwnerID          string                 `json:"owner_id"`
	Question         string                 `json:"question"`
	Status           model.DecisionStatus   `json:"status"`
	ContextMemoryIDs []model.MemoryID       `json:"context_memory_ids"`
	ContextSummary   string                 `json:"context_summary,omitempty"`
	AgentsConsulted  []ConsultationDocument `json:"agents_consulted"`
	Synthesis        *SynthesisDocument     `json:"synthesis,omitempty"`
	Outcome          *OutcomeDocument       `json:"outcome,omitempty"`
	Metadata         map[string]any         `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

type ConsultationDocument struct {
	ID        model.ConsultationID `json:"id"`
	AgentID   model.AgentID        `json:"agent_id"`
	AgentName string               `json:"agent_name"`
	Input     any                  `json:"input"`
	Output    any                  `json:"output"`
	Timestamp time.Time            `json:"timestamp"`
}

type SynthesisDocument struct {
	Recommendation string   `json:"recommendation"`
	Reasoning      string   `json:"reasoning"`
	RiskFactors    []string `json:"risk_factors"`
	Alternatives   []string `json:"alternatives"`
	Confidence     float64  `json:"confidence"`
}

type OutcomeDocument struct {
	Status     model.OutcomeStatus `json:"status"`
	Result     string              `json:"result"`
	RecordedAt time.Time           `json:"recorded_at"`
}

// NewDocument converts a decision to its JSON form
func NewDocument(d *model.Decision) *Document {
	doc := &Document{
		ID:               d.ID,
		OwnerID:          d.OwnerID,
		Question:         d.Question,
		Status:           d.Status,
		ContextMemoryIDs: d.ContextMemoryIDs,
		ContextSummary:   d.ContextSummary,
		AgentsConsulted:  make([]ConsultationDocument, 0, len(d.AgentsConsulted)),
		Metadata:         d.Metadata,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if doc.ContextMemoryIDs == nil {
		doc.ContextMemoryIDs = []model.MemoryID{}
	}

	for _, c := range d.AgentsConsulted {
		doc.AgentsConsulted = append(doc.AgentsConsulted, ConsultationDocument{
			ID:        c.ID,
			AgentID:   c.AgentID,
			AgentName: c.AgentName,
			Input:     c.Input,
			Output:    c.Output,
			Timestamp: c.Timestamp,
		})
	}

	if s := d.Synthesis; s != nil {
		doc.Synthesis = &SynthesisDocument{
			Recommendation: s.Recommendation,
			Reasoning:      s.Reasoning,
			RiskFactors:    s.RiskFactors,
			Alternatives:   s.Alternatives,
			Confidence:     s.Confidence,
		}
	}
	if o := d.Outcome; o != nil {
		doc.Outcome = &OutcomeDocument{
			Status:     o.Status,
			Result:     o.Result,
			RecordedAt: o.RecordedAt,
		}
	}
	return doc
}

// ArchiveKey is the object key a decision is exported to
func ArchiveKey(d *model.Decision) string {
	owner := d.OwnerID
	if owner == "" {
		owner = "_global"
	}
	return path.Join("decisions", owner, string(d.ID)+".json")
}

// Export writes the decision as JSON to the archive and returns the object key
func (u *UseCase) Export(ctx context.Context, id model.DecisionID) (string, error) {
	if u.archive == nil {
		return "", goerr.New("decision archive is not configured")
	}

	decision, err := u.Get(ctx, id)
	if err != nil {
		return "", err
	}

	key := ArchiveKey(decision)
	w, err := u.archive.Put(ctx, key)
	if err != nil {
		return "", goerr.Wrap(err, "failed to open archive object", goerr.V("key", key))
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(NewDocument(decision)); err != nil {
		_ = w.Close()
		return "", goerr.Wrap(err, "failed to encode decision", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return "", goerr.Wrap(err, "failed to commit archive object", goerr.V("key", key))
	}

	return key, nil
}

// LoadArchived reads back an exported decision of owner
func (u *UseCase) LoadArchived(ctx context.Context, owner string, id model.DecisionID) (*Document, error) {
	if u.archive == nil {
		return nil, goerr.New("decision archive is not configured")
	}

	key := ArchiveKey(&model.Decision{ID: id, OwnerID: owner})
	r, err := u.archive.Get(ctx, key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open archived decision", goerr.V("key", key))
	}
	defer r.Close()

	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode archived decision", goerr.V("key", key))
	}
	if doc.ID != id {
		return nil, goerr.New("archived decision has another ID",
			goerr.V("key", key),
			goerr.V("expected", id),
			goerr.V("actual", doc.ID))
	}
	return &doc, nil
}
