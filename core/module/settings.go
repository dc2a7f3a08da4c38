package module

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
)

// Settings is the kind specific configuration of a module.
// It is serialized as the `config` object sent to the participant client, so its keys never vary.
type Settings interface {
	// Validate cleans the settings and checks them.
	Validate(validate *validator.Validate) error
}

type (
	// titled settings override the module title.
	titled interface {
		Title() string
	}

	// described settings provide a short summary of the module configuration.
	described interface {
		Description() string
	}

	// preparer settings derive values from the previously stored settings before being saved.
	// prev is nil on creation.
	preparer interface {
		prepare(prev Settings)
	}
)

// Fear conditioning phases
const (
	PhaseHabituation    = "habituation"
	PhaseAcquisition    = "acquisition"
	PhaseGeneralisation = "generalisation"
	PhaseExtinction     = "extinction"
	PhaseReturnOfFear   = "return_of_fear"
)

var (
	phaseDisplays = map[string]string{
		PhaseHabituation:    "Habituation",
		PhaseAcquisition:    "Acquisition",
		PhaseGeneralisation: "Generalisation",
		PhaseExtinction:     "Extinction",
		PhaseReturnOfFear:   "Return of fear",
	}

	contexts = map[string]bool{"A": true, "B": true, "C": true}

	reinforcementRateText = "Number of reinforced CS+ trials cannot be greater than the number of trials per stimulus."
	contextText           = "Select a valid context."

	defaultTaskIntro = "Please listen carefully to the instructions before you start the task."
	defaultTaskOutro = "Thank you, you have completed this part of the experiment."
)

type FearConditioningSettings struct {
	Phase                        string      `json:"phase" validate:"required,oneof=habituation acquisition generalisation extinction return_of_fear"`
	TrialsPerStimulus            int         `json:"trials_per_stimulus" validate:"min=0"`
	ReinforcementRate            int         `json:"reinforcement_rate" validate:"min=0"`
	GeneralisationStimuliEnabled bool        `json:"generalisation_stimuli_enabled"`
	Context                      null.String `json:"context"` // A | B | C
}

func newFearConditioningSettings() Settings {
	return &FearConditioningSettings{Phase: PhaseHabituation}
}

func (s *FearConditioningSettings) Validate(validate *validator.Validate) error {
	s.Phase = core.CleanString(s.Phase, true /* lower */)
	if ctx := strings.ToUpper(core.CleanString(s.Context.String)); ctx != "" {
		s.Context = null.StringFrom(ctx)
	} else {
		s.Context = null.String{}
	}

	if err := validate.Struct(s); err != nil {
		return err
	}

	var flds []core.FieldError
	if s.ReinforcementRate > s.TrialsPerStimulus {
		flds = append(flds, core.FieldError{Field: "reinforcement_rate", Error: reinforcementRateText})
	}
	if s.Context.Valid && !contexts[s.Context.String] {
		flds = append(flds, core.FieldError{Field: "context", Error: contextText})
	}
	if len(flds) > 0 {
		return core.NewValidationError(errors.New("invalid fear conditioning settings"), flds...)
	}
	return nil
}

func (s *FearConditioningSettings) Title() string {
	return phaseDisplays[s.Phase]
}

func (s *FearConditioningSettings) Description() string {
	gs := "Disabled"
	if s.GeneralisationStimuliEnabled {
		gs = "Enabled"
	}
	return strings.Join([]string{
		fmt.Sprintf("Trials per stimulus: %d", s.TrialsPerStimulus),
		fmt.Sprintf("Number of reinforced CS+ trials: %d", s.ReinforcementRate),
		fmt.Sprintf("GS: %s", gs),
	}, ", ")
}

type BasicInfoSettings struct {
	CollectDateOfBirth    bool `json:"collect_date_of_birth"`
	CollectGender         bool `json:"collect_gender"`
	CollectHeadphoneMake  bool `json:"collect_headphone_make"`
	CollectHeadphoneModel bool `json:"collect_headphone_model"`
	CollectHeadphoneLabel bool `json:"collect_headphone_label"`
}

func newBasicInfoSettings() Settings {
	return &BasicInfoSettings{
		CollectDateOfBirth:    true,
		CollectGender:         true,
		CollectHeadphoneMake:  true,
		CollectHeadphoneModel: true,
		CollectHeadphoneLabel: true,
	}
}

func (s *BasicInfoSettings) Validate(*validator.Validate) error { return nil }

type CriterionQuestion struct {
	ID             int       `json:"id"`
	Question       string    `json:"question" validate:"required,max=255"`
	RequiredAnswer null.Bool `json:"required_answer"`
}

type CriterionSettings struct {
	IntroText string              `json:"intro_text"`
	Questions []CriterionQuestion `json:"questions" validate:"required,min=1,dive"`
}

func newCriterionSettings() Settings {
	return &CriterionSettings{Questions: []CriterionQuestion{}}
}

func (s *CriterionSettings) Validate(validate *validator.Validate) error {
	s.IntroText = core.CleanString(s.IntroText)
	for i := range s.Questions {
		s.Questions[i].Question = core.CleanString(s.Questions[i].Question)
	}
	return validate.Struct(s)
}

// UnmarshalJSON replaces the questions as a whole, so that a question never inherits the id of the one it replaces.
func (s *CriterionSettings) UnmarshalJSON(raw []byte) error {
	type plain CriterionSettings
	aux := plain(*s)
	aux.Questions = nil
	if err := json.Unmarshal(raw, &aux); err != nil {
		return err
	}
	if aux.Questions == nil {
		aux.Questions = s.Questions
	}
	*s = CriterionSettings(aux)
	return nil
}

// prepare keeps the ids of known questions and numbers the new ones after the highest id in use.
func (s *CriterionSettings) prepare(prev Settings) {
	known := make(map[int]bool)
	var maxID int
	if p, ok := prev.(*CriterionSettings); ok {
		for _, q := range p.Questions {
			known[q.ID] = true
			if q.ID > maxID {
				maxID = q.ID
			}
		}
	}

	seen := make(map[int]bool, len(s.Questions))
	for i, q := range s.Questions {
		if known[q.ID] && !seen[q.ID] {
			seen[q.ID] = true
			continue
		}
		maxID++
		s.Questions[i].ID = maxID
		seen[maxID] = true
	}
}

// Question returns the question with the given id.
func (s *CriterionSettings) Question(id int) (CriterionQuestion, bool) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return CriterionQuestion{}, false
}

func (s *CriterionSettings) Description() string {
	return fmt.Sprintf("Questions: %d", len(s.Questions))
}

type BreakStartSettings struct {
	Duration   int    `json:"duration" validate:"min=0"` // seconds
	StartTitle string `json:"start_title" validate:"max=255"`
	StartBody  string `json:"start_body"`
}

func newBreakStartSettings() Settings {
	return &BreakStartSettings{StartTitle: "Break"}
}

func (s *BreakStartSettings) Validate(validate *validator.Validate) error {
	s.StartTitle = core.CleanString(s.StartTitle)
	return validate.Struct(s)
}

func (s *BreakStartSettings) Description() string {
	return fmt.Sprintf("Duration: %ds", s.Duration)
}

type BreakEndSettings struct {
	StartModuleID int    `json:"start_module_id"` // set from the module's break start
	EndTitle      string `json:"end_title" validate:"max=255"`
	EndBody       string `json:"end_body"`
}

func newBreakEndSettings() Settings {
	return &BreakEndSettings{EndTitle: "Break over"}
}

func (s *BreakEndSettings) Validate(validate *validator.Validate) error {
	s.EndTitle = core.CleanString(s.EndTitle)
	return validate.Struct(s)
}

type InstructionsSettings struct {
	IncludeVolumeCalibration bool `json:"include_volume_calibration"`
}

func newInstructionsSettings() Settings {
	return &InstructionsSettings{IncludeVolumeCalibration: true}
}

func (s *InstructionsSettings) Validate(*validator.Validate) error { return nil }

type AffectiveRatingSettings struct {
	IntroText string `json:"intro_text"`
}

func newAffectiveRatingSettings() Settings { return new(AffectiveRatingSettings) }

func (s *AffectiveRatingSettings) Validate(*validator.Validate) error {
	s.IntroText = core.CleanString(s.IntroText)
	return nil
}

type ContingencyAwarenessSettings struct {
	IntroText string `json:"intro_text"`
}

func newContingencyAwarenessSettings() Settings { return new(ContingencyAwarenessSettings) }

func (s *ContingencyAwarenessSettings) Validate(*validator.Validate) error {
	s.IntroText = core.CleanString(s.IntroText)
	return nil
}

type PostExperimentQuestionsSettings struct {
	ExperimentUnpleasantRating bool `json:"experiment_unpleasant_rating"`
	DidFollowInstructions      bool `json:"did_follow_instructions"`
	DidRemoveHeadphones        bool `json:"did_remove_headphones"`
	DidPayAttention            bool `json:"did_pay_attention"`
	TaskEnvironment            bool `json:"task_environment"`
	WasQuiet                   bool `json:"was_quiet"`
	WasAlone                   bool `json:"was_alone"`
	WasInterrupted             bool `json:"was_interrupted"`
}

func newPostExperimentQuestionsSettings() Settings {
	return &PostExperimentQuestionsSettings{
		ExperimentUnpleasantRating: true,
		DidFollowInstructions:      true,
		DidRemoveHeadphones:        true,
		DidPayAttention:            true,
		TaskEnvironment:            true,
		WasQuiet:                   true,
		WasAlone:                   true,
		WasInterrupted:             true,
	}
}

func (s *PostExperimentQuestionsSettings) Validate(*validator.Validate) error { return nil }

type USUnpleasantnessSettings struct {
	AudibleKeyword string `json:"audible_keyword" validate:"required,max=255"`
}

func newUSUnpleasantnessSettings() Settings { return new(USUnpleasantnessSettings) }

func (s *USUnpleasantnessSettings) Validate(validate *validator.Validate) error {
	s.AudibleKeyword = core.CleanString(s.AudibleKeyword)
	return validate.Struct(s)
}

type TextSettings struct {
	Heading string `json:"heading" validate:"required,max=255"`
	Body    string `json:"body"`
}

func newTextSettings() Settings { return new(TextSettings) }

func (s *TextSettings) Validate(validate *validator.Validate) error {
	s.Heading = core.CleanString(s.Heading)
	return validate.Struct(s)
}

func (s *TextSettings) Description() string { return s.Heading }

type WebSettings struct {
	Heading             string `json:"heading" validate:"max=255"`
	Intro               string `json:"intro"`
	URL                 string `json:"url" validate:"required,url,max=2048"`
	AppendParticipantID bool   `json:"append_participant_id"`
}

func newWebSettings() Settings { return new(WebSettings) }

func (s *WebSettings) Validate(validate *validator.Validate) error {
	s.Heading = core.CleanString(s.Heading)
	s.URL = core.CleanString(s.URL)
	return validate.Struct(s)
}

func (s *WebSettings) Description() string { return s.URL }

type TaskInstructionsSettings struct {
	IntroBody string `json:"intro_body"`
	OutroBody string `json:"outro_body"`
}

func newTaskInstructionsSettings() Settings {
	return &TaskInstructionsSettings{IntroBody: defaultTaskIntro, OutroBody: defaultTaskOutro}
}

func (s *TaskInstructionsSettings) Validate(*validator.Validate) error {
	if s.IntroBody = core.CleanString(s.IntroBody); s.IntroBody == "" {
		s.IntroBody = defaultTaskIntro
	}
	if s.OutroBody = core.CleanString(s.OutroBody); s.OutroBody == "" {
		s.OutroBody = defaultTaskOutro
	}
	return nil
}
