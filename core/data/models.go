package data

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/module"
)

var invalidDataText = "Invalid data."

// Data is a row of participant data collected by a module.
type Data struct {
	ID            int
	Kind          module.Kind
	ExperimentID  int    // read only, from the module
	ParticipantID int    // participants.id
	Participant   string // participants.participant_id, read only
	ModuleID      int
	ItemKey       string
	Trial         null.Int
	Payload       Payload
	RawPayload    []byte // JSON encoded Payload, as stored
	CreatedAt     time.Time
}

// MarshalJSON flattens the payload fields next to the row fields.
func (d Data) MarshalJSON() ([]byte, error) {
	fields := make(map[string]interface{})
	if d.Payload != nil {
		raw, err := json.Marshal(d.Payload)
		if err != nil {
			return nil, err
		}
		if err = json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
	}
	fields["id"] = d.ID
	fields["participant"] = d.Participant
	fields["module"] = d.ModuleID
	fields["created_at"] = d.CreatedAt
	return json.Marshal(fields)
}

type QueryFilter struct {
	ExperimentID  int
	Kind          module.Kind
	ParticipantID int // 0 for all
	ModuleID      int // 0 for all
}

// Submission is a participant data submission, as posted by the client.
type Submission struct {
	Participant string  `json:"participant" validate:"required,max=24"`
	Module      int     `json:"module" validate:"required"`
	Payload     Payload `json:"-" validate:"-"`
}

// DecodeSubmission decodes a submission body into the entry's payload type.
func (e Entry) DecodeSubmission(raw []byte) (Submission, error) {
	var sub Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return Submission{}, core.NewValidationError(
			errors.Wrap(err, "decoding submission"),
			core.FieldError{Field: "non_field_errors", Error: invalidDataText},
		)
	}
	payload := e.NewPayload()
	if err := json.Unmarshal(raw, payload); err != nil {
		return Submission{}, core.NewValidationError(
			errors.Wrapf(err, "decoding %s payload", e.ModuleKind),
			core.FieldError{Field: "non_field_errors", Error: invalidDataText},
		)
	}
	sub.Payload = payload
	return sub, nil
}

// Validate checks both the submission fields and its payload, reporting their field errors together.
func (s *Submission) Validate(validate *validator.Validate) error {
	s.Participant = core.CleanString(s.Participant)

	var verrs validator.ValidationErrors
	for _, v := range []interface{}{s, s.Payload} {
		if v == nil {
			continue
		}
		err := validate.Struct(v)
		if err == nil {
			continue
		}
		fes, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		verrs = append(verrs, fes...)
	}
	if len(verrs) > 0 {
		return verrs
	}
	return nil
}
