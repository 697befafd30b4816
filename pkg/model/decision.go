package model

import (
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type DecisionID string

// NewDecisionID generates a new unique DecisionID
func NewDecisionID() DecisionID {
	return DecisionID(uuid.New().String())
}

type ConsultationID string

// NewConsultationID generates a new unique ConsultationID
func NewConsultationID() ConsultationID {
	return ConsultationID(uuid.New().String())
}

// DecisionStatus is the lifecycle state of a decision.
//
//	created -> context_attached? -> agents_consulted* -> synthesized -> outcome_recorded?
type DecisionStatus string

const (
	DecisionStatusCreated         DecisionStatus = "created"
	DecisionStatusContextAttached DecisionStatus = "context_attached"
	DecisionStatusAgentsConsulted DecisionStatus = "agents_consulted"
	DecisionStatusSynthesized     DecisionStatus = "synthesized"
	DecisionStatusOutcomeRecorded DecisionStatus = "outcome_recorded"
)

// CanAttachContext reports whether context may be (re)attached in this state
func (s DecisionStatus) CanAttachContext() bool {
	return s == DecisionStatusCreated || s == DecisionStatusContextAttached
}

// CanConsult reports whether agent consultations may still be appended
func (s DecisionStatus) CanConsult() bool {
	switch s {
	case DecisionStatusCreated, DecisionStatusContextAttached, DecisionStatusAgentsConsulted:
		return true
	default:
		return false
	}
}

// CanSynthesize reports whether a synthesis may be written. A synthesized decision may be
// synthesized again; the last write wins.
func (s DecisionStatus) CanSynthesize() bool {
	return s.CanConsult() || s == DecisionStatusSynthesized
}

// CanRecordOutcome reports whether an outcome may be recorded
func (s DecisionStatus) CanRecordOutcome() bool {
	return s == DecisionStatusSynthesized || s == DecisionStatusOutcomeRecorded
}

// Consultation is one entry of the append-only consultation log
type Consultation struct {
	ID        ConsultationID
	AgentID   AgentID
	AgentName string
	Input     any
	Output    any
	Timestamp time.Time
}

// Synthesis is the structured recommendation closing a decision.
// Confidence is a percentage in [0, 100].
type Synthesis struct {
	Recommendation string
	Reasoning      string
	RiskFactors    []string
	Alternatives   []string
	Confidence     float64
}

const (
	MinConfidence = 0.0
	MaxConfidence = 100.0
)

// Validate checks the synthesis fields
func (s *Synthesis) Validate() error {
	if s.Recommendation == "" {
		return goerr.Wrap(ErrValidation, "recommendation is empty")
	}
	if s.Confidence < MinConfidence || s.Confidence > MaxConfidence {
		return goerr.Wrap(ErrValidation, "confidence out of range",
			goerr.V("confidence", s.Confidence),
			goerr.V("min", MinConfidence),
			goerr.V("max", MaxConfidence))
	}
	return nil
}

type OutcomeStatus string

const (
	OutcomeStatusPending     OutcomeStatus = "pending"
	OutcomeStatusImplemented OutcomeStatus = "implemented"
	OutcomeStatusRejected    OutcomeStatus = "rejected"
	OutcomeStatusDeferred    OutcomeStatus = "deferred"
)

// Validate checks if the outcome status is valid
func (s OutcomeStatus) Validate() error {
	switch s {
	case OutcomeStatusPending, OutcomeStatusImplemented, OutcomeStatusRejected, OutcomeStatusDeferred:
		return nil
	default:
		return goerr.Wrap(ErrValidation, "invalid outcome status", goerr.V("status", s))
	}
}

// Outcome is the user's post-hoc record of what happened with a decision
type Outcome struct {
	Status     OutcomeStatus
	Result     string
	RecordedAt time.Time
}

// Decision is one decision-making session
type Decision struct {
	ID                DecisionID
	OwnerID           string
	Question          string
	QuestionEmbedding firestore.Vector32

	ContextMemoryIDs []MemoryID
	ContextSummary   string

	AgentsConsulted []Consultation

	Synthesis *Synthesis
	Outcome   *Outcome
	Status    DecisionStatus
	Metadata  map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}
