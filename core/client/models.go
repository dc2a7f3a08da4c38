package client

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
)

// ExperimentConfig is the experiment part of the configuration sent to the participant client.
// Stimuli are download URLs, null when not uploaded.
type ExperimentConfig struct {
	ID                           int         `json:"id"`
	Name                         string      `json:"name"`
	Description                  string      `json:"description"`
	ContactEmail                 null.String `json:"contact_email"`
	TrialLength                  float64     `json:"trial_length"`
	RatingDelay                  float64     `json:"rating_delay"`
	ITIMinDelay                  int         `json:"iti_min_delay"`
	ITIMaxDelay                  int         `json:"iti_max_delay"`
	MinimumVolume                float64     `json:"minimum_volume"`
	RatingScaleAnchorLabelLeft   string      `json:"rating_scale_anchor_label_left"`
	RatingScaleAnchorLabelCenter string      `json:"rating_scale_anchor_label_center"`
	RatingScaleAnchorLabelRight  string      `json:"rating_scale_anchor_label_right"`
	US                           null.String `json:"us"`
	USFileVolume                 float64     `json:"us_file_volume"`
	CSA                          null.String `json:"csa"`
	CSB                          null.String `json:"csb"`
	ContextA                     null.String `json:"context_a"`
	ContextB                     null.String `json:"context_b"`
	ContextC                     null.String `json:"context_c"`
	GSA                          null.String `json:"gsa"`
	GSB                          null.String `json:"gsb"`
	GSC                          null.String `json:"gsc"`
	GSD                          null.String `json:"gsd"`
	Reimbursements               bool        `json:"reimbursements"`
}

type SiteConfig struct {
	TermsAndConditions string `json:"terms_and_conditions"`
}

// Configuration is everything the participant client needs to run the experiment.
type Configuration struct {
	Experiment ExperimentConfig `json:"experiment"`
	Config     SiteConfig       `json:"config"`
	// Modules holds the JSON encoded module.ClientConfig list, in timeline order.
	Modules json.RawMessage `json:"modules"`

	// ParticipantStartedAt is null when this request started the participant.
	ParticipantStartedAt  null.Time `json:"participant_started_at"`
	ParticipantFinishedAt null.Time `json:"participant_finished_at"`
}

// cachedConfig is the participant independent part of a Configuration.
type cachedConfig struct {
	Experiment ExperimentConfig `json:"experiment"`
	Modules    json.RawMessage  `json:"modules"`
}

type ParticipantRequest struct {
	Participant string `json:"participant" validate:"required,max=24"`
}

func (pr *ParticipantRequest) Validate(validate *validator.Validate) error {
	pr.Participant = core.CleanString(pr.Participant)
	return validate.Struct(pr)
}

type SubmissionStatus struct {
	ParticipantStartedAt  null.Time `json:"participant_started_at"`
	ParticipantFinishedAt null.Time `json:"participant_finished_at"`
}

type TermsStatus struct {
	Participant                string `json:"participant"`
	AgreedToTermsAndConditions bool   `json:"agreed_to_terms_and_conditions"`
}

type TrackingRequest struct {
	Participant     string   `json:"participant" validate:"required,max=24"`
	Module          null.Int `json:"module"`
	TrialIndex      null.Int `json:"trial_index" validate:"omitempty,min=0"`
	RejectionReason string   `json:"rejection_reason" validate:"max=64"`
}

func (tr *TrackingRequest) Validate(validate *validator.Validate) error {
	tr.Participant = core.CleanString(tr.Participant)
	tr.RejectionReason = core.CleanString(tr.RejectionReason)
	return validate.Struct(tr)
}

type TrackingStatus struct {
	Participant     string   `json:"participant"`
	CurrentModule   null.Int `json:"current_module"`
	CurrentTrial    null.Int `json:"current_trial"`
	RejectionReason string   `json:"rejection_reason"`
}

// Voucher claim statuses and error codes
const (
	StatusSuccess = "success"
	StatusError   = "error"

	CodePoolUnassigned = "pool_unassigned"
	CodePoolEmpty      = "pool_empty"
	CodeAlreadyClaimed = "already_claimed"
)

type VoucherStatus struct {
	Status         string `json:"status"`
	Voucher        string `json:"voucher,omitempty"`
	SuccessMessage string `json:"success_message,omitempty"`
	ErrorCode      string `json:"error_code,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// ClaimError is a voucher claim refused because of the experiment or the participant.
type ClaimError struct {
	VoucherStatus
}

func (e *ClaimError) Error() string {
	return e.ErrorMessage
}

func newClaimError(code, msg string) *ClaimError {
	return &ClaimError{VoucherStatus{Status: StatusError, ErrorCode: code, ErrorMessage: msg}}
}
