package data

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/module"
)

func TestRegistry(t *testing.T) {
	modReg := module.NewDefaultRegistry()
	reg := NewDefaultRegistry(modReg)
	assert.Len(t, reg.Entries(), len(Builtins))

	entry, ok := reg.Lookup("fear-conditioning-data")
	require.True(t, ok)
	assert.Equal(t, module.FearConditioning, entry.ModuleKind)
	assert.Equal(t, "FearConditioningData", entry.Names.Camel)
	assert.Equal(t, "/fear-conditioning-data", entry.SubmitPath)
	assert.Equal(t, "fear_conditioning_data", entry.SubmitRouteName)
	assert.Equal(t, "/projects/:project_id/experiments/:experiment_id/data/fear-conditioning", entry.ListPath)
	assert.Equal(t, "/projects/:project_id/experiments/:experiment_id/data/fear-conditioning/:data_id", entry.DetailPath)

	entry, ok = reg.Lookup("us-unpleasantness")
	require.True(t, ok)
	assert.Equal(t, "us-unpleasantness-data", entry.Names.Slug)
	assert.Equal(t, "The fields module, participant must make a unique set.", entry.UniqueText())

	entry, ok = reg.Lookup("volume-calibration-data")
	require.True(t, ok)
	assert.Equal(t, module.Instructions, entry.ModuleKind)
	assert.Equal(t, "/volume-calibration-data", entry.SubmitPath)
	assert.Equal(t, "volume_calibration_data", entry.SubmitRouteName)
	assert.Equal(t, "/projects/:project_id/experiments/:experiment_id/data/volume-calibration", entry.ListPath)
	entry, ok = reg.Lookup("volume-calibration")
	require.True(t, ok)
	assert.Equal(t, "VolumeCalibrationData", entry.Names.Camel)

	_, ok = reg.Get(module.Text)
	assert.False(t, ok, "text modules collect no data")

	require.NoError(t, reg.Register(Builtins[0]), "registering twice is a no-op")
	assert.Error(t, reg.Register(Definition{ModuleKind: "unknown", NewPayload: Builtins[0].NewPayload}))
}

func TestData_MarshalJSON(t *testing.T) {
	d := Data{
		ID:          4,
		Kind:        module.AffectiveRating,
		Participant: "Flare.ABCDEF",
		ModuleID:    2,
		Payload:     &AffectiveRatingPayload{Rating: 6, Stimulus: "GS1"},
		CreatedAt:   time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": 4,
		"participant": "Flare.ABCDEF",
		"module": 2,
		"created_at": "2021-03-01T12:00:00Z",
		"rating": 6,
		"stimulus": "GS1"
	}`, string(raw))
}

func TestSubmission_Validate(t *testing.T) {
	enLocale := en.New()
	translator, _ := ut.New(enLocale, enLocale).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	reg := NewDefaultRegistry(module.NewDefaultRegistry())

	tests := []struct {
		name       string
		kind       module.Kind
		body       string
		wantFields []string
	}{
		{
			name: "valid rating",
			kind: module.AffectiveRating,
			body: `{"participant": " p1 ", "module": 1, "stimulus": "CS+", "rating": 10}`,
		},
		{
			name:       "missing submission fields",
			kind:       module.AffectiveRating,
			body:       `{"stimulus": "CS+", "rating": 1}`,
			wantFields: []string{"participant", "module"},
		},
		{
			name:       "payload and submission errors together",
			kind:       module.AffectiveRating,
			body:       `{"module": 1, "rating": 11}`,
			wantFields: []string{"participant", "stimulus", "rating"},
		},
		{
			name:       "fear conditioning rating out of range",
			kind:       module.FearConditioning,
			body:       `{"participant": "p1", "module": 1, "trial": 0, "rating": 12, "conditional_stimulus": "CS-", "trial_started_at": "2021-01-01T10:00:00Z"}`,
			wantFields: []string{"rating"},
		},
		{
			name: "fear conditioning without rating",
			kind: module.FearConditioning,
			body: `{"participant": "p1", "module": 1, "trial": 0, "rating": null, "conditional_stimulus": "CS-", "trial_started_at": "2021-01-01T10:00:00Z"}`,
		},
		{
			name:       "fear conditioning without start time",
			kind:       module.FearConditioning,
			body:       `{"participant": "p1", "module": 1, "trial": 0, "conditional_stimulus": "CS-"}`,
			wantFields: []string{"trial_started_at"},
		},
		{
			name: "fear conditioning volumes as strings",
			kind: module.FearConditioning,
			body: `{"participant": "p1", "module": 1, "trial": 1, "conditional_stimulus": "CSA", "trial_started_at": "2020-01-01T00:00:00Z", "volume_level": "0.50", "calibrated_volume_level": "0.85"}`,
		},
		{
			name:       "fear conditioning volume string out of range",
			kind:       module.FearConditioning,
			body:       `{"participant": "p1", "module": 1, "trial": 1, "conditional_stimulus": "CSA", "trial_started_at": "2020-01-01T00:00:00Z", "volume_level": "1.50", "calibrated_volume_level": 0.85}`,
			wantFields: []string{"volume_level"},
		},
		{
			name:       "volume calibration out of range",
			kind:       module.Instructions,
			body:       `{"participant": "p1", "module": 1, "calibrated_volume_level": -0.1}`,
			wantFields: []string{"calibrated_volume_level"},
		},
		{
			name:       "basic info choices",
			kind:       module.BasicInfo,
			body:       `{"participant": "p1", "module": 1, "gender": "robot", "date_of_birth": "01/02/1990"}`,
			wantFields: []string{"gender", "date_of_birth"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			entry, ok := reg.Get(tc.kind)
			require.True(t, ok)
			sub, err := entry.DecodeSubmission([]byte(tc.body))
			require.NoError(t, err)

			err = sub.Validate(validate)
			if len(tc.wantFields) == 0 {
				require.NoError(t, err)
				assert.Equal(t, "p1", sub.Participant)
				return
			}
			require.Error(t, err)
			verrs, ok := err.(validator.ValidationErrors)
			require.True(t, ok)
			var fields []string
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			assert.ElementsMatch(t, tc.wantFields, fields)
		})
	}

	entry, _ := reg.Get(module.AffectiveRating)
	_, err := entry.DecodeSubmission([]byte(`{"participant": 1}`))
	assert.True(t, core.IsValidationError(err))

	entry, _ = reg.Get(module.FearConditioning)
	_, err = entry.DecodeSubmission([]byte(`{"participant": "p1", "module": 1, "volume_level": "loud"}`))
	assert.True(t, core.IsValidationError(err))
}

func TestDecimal(t *testing.T) {
	tests := []struct {
		raw  string
		want Decimal
	}{
		{raw: `0.5`, want: 0.5},
		{raw: `"0.50"`, want: 0.5},
		{raw: `"1"`, want: 1},
		{raw: `null`, want: 0},
	}
	for _, tc := range tests {
		var d Decimal
		require.NoError(t, json.Unmarshal([]byte(tc.raw), &d), tc.raw)
		assert.Equal(t, tc.want, d, tc.raw)
	}

	var d Decimal
	assert.Error(t, json.Unmarshal([]byte(`""`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
	assert.Equal(t, "0.85", Decimal(0.85).String())
}
