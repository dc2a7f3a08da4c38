package module

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
)

var invalidConfigText = "Invalid configuration."

type Module struct {
	ID           int       `json:"id"`
	ExperimentID int       `json:"experiment_id"`
	Kind         Kind      `json:"kind"`
	Label        string    `json:"label"`
	SortOrder    int       `json:"sortorder"`
	BreakStartID null.Int  `json:"break_start_id"` // break end modules only
	Settings     Settings  `json:"config"`
	RawConfig    []byte    `json:"-"` // JSON encoded Settings, as stored
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ClientConfig is the representation of a module consumed by the participant client.
type ClientConfig struct {
	ID     int      `json:"id"`
	Type   string   `json:"type"`
	Config Settings `json:"config"`
}

func (m Module) Config() ClientConfig {
	return ClientConfig{ID: m.ID, Type: m.Kind.Tag(), Config: m.Settings}
}

func (m Module) Title() string {
	if t, ok := m.Settings.(titled); ok {
		if title := t.Title(); title != "" {
			return title
		}
	}
	return m.Kind.Title()
}

func (m Module) Description() string {
	if d, ok := m.Settings.(described); ok {
		return d.Description()
	}
	return ""
}

// ModuleInput is the body accepted to create or update a module of any kind.
// Config holds the kind's settings; omitted keys keep their default (creation) or current (update) value.
type ModuleInput struct {
	Label  string          `json:"label" validate:"max=255"`
	Config json.RawMessage `json:"config"`
}

// Validate decodes the input config over base and validates the result.
func (mi *ModuleInput) Validate(validate *validator.Validate, base Settings) (Settings, error) {
	mi.Label = core.CleanString(mi.Label)
	if err := validate.Struct(mi); err != nil {
		return nil, err
	}
	if len(mi.Config) > 0 && string(mi.Config) != "null" {
		if err := json.Unmarshal(mi.Config, base); err != nil {
			return nil, core.NewValidationError(
				errors.Wrap(err, "decoding module config"),
				core.FieldError{Field: "config", Error: invalidConfigText},
			)
		}
	}
	if err := base.Validate(validate); err != nil {
		return nil, err
	}
	return base, nil
}
