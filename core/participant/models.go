package participant

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
)

// States
const (
	StateNotStarted = "not_started"
	StateStarted    = "started"
	StateFinished   = "finished"
)

// RejectionCriterion locks participants who gave a wrong answer to a criterion question.
const RejectionCriterion = "CRITERION"

type Participant struct {
	ID                         int       `json:"id"`
	ParticipantID              string    `json:"participant_id"`
	ExperimentID               int       `json:"experiment_id"`
	AgreedToTermsAndConditions bool      `json:"agreed_to_terms_and_conditions"`
	StartedAt                  null.Time `json:"started_at"`  // UTC
	FinishedAt                 null.Time `json:"finished_at"` // UTC
	CurrentModuleID            null.Int  `json:"current_module"`
	CurrentTrial               null.Int  `json:"current_trial"`
	RejectionReason            string    `json:"rejection_reason"`
	CreatedAt                  time.Time `json:"created_at"` // UTC
	UpdatedAt                  time.Time `json:"updated_at"` // UTC
}

func (p Participant) State() string {
	switch {
	case p.FinishedAt.Valid:
		return StateFinished
	case p.StartedAt.Valid:
		return StateStarted
	default:
		return StateNotStarted
	}
}

func (p Participant) IsStarted() bool  { return p.StartedAt.Valid }
func (p Participant) IsFinished() bool { return p.FinishedAt.Valid }
func (p Participant) IsLocked() bool   { return p.RejectionReason != "" }

// CheckActive reports, as a field error, why the participant cannot submit data.
func (p Participant) CheckActive() error {
	switch {
	case p.IsLocked():
		return core.NewFieldError(field, lockedText)
	case !p.IsStarted():
		return core.NewFieldError(field, notStartedText)
	case p.IsFinished():
		return core.NewFieldError(field, finishedText)
	}
	return nil
}

// NewParticipant contains information needed to add a single Participant.
type NewParticipant struct {
	ParticipantID string `json:"participant_id" validate:"required,max=24"`
}

func (np *NewParticipant) Validate(validate *validator.Validate) error {
	np.ParticipantID = core.CleanString(np.ParticipantID)
	return validate.Struct(np)
}

// NewParticipantBatch adds Count participants named `{Prefix}.{random suffix}`.
type NewParticipantBatch struct {
	Count  int    `json:"count" validate:"required,min=1,max=1000"`
	Prefix string `json:"prefix" validate:"omitempty,max=17,alphanum_"`
}

func (nb *NewParticipantBatch) Validate(validate *validator.Validate) error {
	nb.Prefix = core.CleanString(nb.Prefix)
	return validate.Struct(nb)
}

// Tracking is a progress report sent by the participant client.
type Tracking struct {
	ModuleID        null.Int `json:"module"`
	TrialIndex      null.Int `json:"trial_index" validate:"omitempty,min=0"`
	RejectionReason string   `json:"rejection_reason" validate:"max=64"`
}
