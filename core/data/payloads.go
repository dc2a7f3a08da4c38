package data

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/module"
	"github.com/flare-portal/flare/core/participant"
)

// Payload is the kind specific part of a data row.
type Payload interface {
	// ItemKey identifies the row among the participant's rows for a module; empty for one row per module.
	ItemKey() string
	// Columns and Values are the exported CSV columns of the payload, in the same order.
	Columns() []string
	Values() []string
}

type (
	// trialed payloads record one row per trial.
	trialed interface {
		TrialIndex() int
	}

	// checker payloads apply rules that depend on the module they are submitted to.
	checker interface {
		Check(mod module.Module) error
	}

	// rejecter payloads may disqualify the participant; Rejection returns the lock reason, if any.
	rejecter interface {
		Rejection(mod module.Module) string
	}
)

var (
	questionNotInModuleText    = "This question does not belong to that module."
	calibrationNotInModuleText = "This module does not include a volume calibration."
)

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func formatNullBool(b null.Bool) string {
	if !b.Valid {
		return ""
	}
	return formatBool(b.Bool)
}

func formatNullInt(i null.Int) string {
	if !i.Valid {
		return ""
	}
	return strconv.Itoa(i.Int)
}

// Decimal is a number the client may post either as a JSON number or as a numeric string ("0.50").
type Decimal float64

func (d *Decimal) UnmarshalJSON(raw []byte) error {
	if bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		raw = []byte(s)
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return errors.Errorf("invalid decimal %q", raw)
	}
	*d = Decimal(f)
	return nil
}

func (d Decimal) String() string {
	return strconv.FormatFloat(float64(d), 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t null.Time) string {
	if !t.Valid {
		return ""
	}
	return formatTime(t.Time)
}

type FearConditioningPayload struct {
	Trial                 int       `json:"trial" validate:"min=0"`
	Rating                null.Int  `json:"rating" validate:"omitempty,min=0,max=10"`
	ConditionalStimulus   string    `json:"conditional_stimulus" validate:"required,max=24"`
	UnconditionalStimulus bool      `json:"unconditional_stimulus"`
	TrialStartedAt        time.Time `json:"trial_started_at" validate:"required"`
	ResponseRecordedAt    null.Time `json:"response_recorded_at"`
	VolumeLevel           Decimal   `json:"volume_level" validate:"min=0,max=1"`
	CalibratedVolumeLevel Decimal   `json:"calibrated_volume_level" validate:"min=0,max=1"`
	Headphones            bool      `json:"headphones"`
	DidLeaveITI           bool      `json:"did_leave_iti"`
	DidLeaveTask          bool      `json:"did_leave_task"`
}

func (p *FearConditioningPayload) ItemKey() string { return strconv.Itoa(p.Trial) }
func (p *FearConditioningPayload) TrialIndex() int { return p.Trial }

func (p *FearConditioningPayload) Columns() []string {
	return []string{
		"trial", "rating", "conditional_stimulus", "unconditional_stimulus", "trial_started_at",
		"response_recorded_at", "volume_level", "calibrated_volume_level", "headphones",
		"did_leave_iti", "did_leave_task",
	}
}

func (p *FearConditioningPayload) Values() []string {
	return []string{
		strconv.Itoa(p.Trial),
		formatNullInt(p.Rating),
		p.ConditionalStimulus,
		formatBool(p.UnconditionalStimulus),
		formatTime(p.TrialStartedAt),
		formatNullTime(p.ResponseRecordedAt),
		p.VolumeLevel.String(),
		p.CalibratedVolumeLevel.String(),
		formatBool(p.Headphones),
		formatBool(p.DidLeaveITI),
		formatBool(p.DidLeaveTask),
	}
}

type BasicInfoPayload struct {
	DateOfBirth    null.String `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	Gender         string      `json:"gender" validate:"omitempty,oneof=male female non_binary self_define dont_know no_answer"`
	GenderOther    string      `json:"gender_other" validate:"max=255"`
	HeadphoneMake  string      `json:"headphone_make" validate:"max=255"`
	HeadphoneModel string      `json:"headphone_model" validate:"max=255"`
	HeadphoneLabel string      `json:"headphone_label" validate:"omitempty,oneof=in_ear on_ear over_ear"`
	DeviceMake     string      `json:"device_make" validate:"max=255"`
	DeviceModel    string      `json:"device_model" validate:"max=255"`
	OSName         string      `json:"os_name" validate:"max=255"`
	OSVersion      string      `json:"os_version" validate:"max=255"`
}

func (p *BasicInfoPayload) ItemKey() string { return "" }

func (p *BasicInfoPayload) Columns() []string {
	return []string{
		"date_of_birth", "gender", "gender_other", "headphone_make", "headphone_model", "headphone_label",
		"device_make", "device_model", "os_name", "os_version",
	}
}

func (p *BasicInfoPayload) Values() []string {
	return []string{
		p.DateOfBirth.String, p.Gender, p.GenderOther, p.HeadphoneMake, p.HeadphoneModel, p.HeadphoneLabel,
		p.DeviceMake, p.DeviceModel, p.OSName, p.OSVersion,
	}
}

type CriterionPayload struct {
	Question int       `json:"question" validate:"required"`
	Answer   null.Bool `json:"answer"`
}

func (p *CriterionPayload) ItemKey() string   { return strconv.Itoa(p.Question) }
func (p *CriterionPayload) Columns() []string { return []string{"question", "answer"} }
func (p *CriterionPayload) Values() []string {
	return []string{strconv.Itoa(p.Question), formatNullBool(p.Answer)}
}

func (p *CriterionPayload) Check(mod module.Module) error {
	settings, ok := mod.Settings.(*module.CriterionSettings)
	if !ok {
		return core.NewFieldError("question", questionNotInModuleText)
	}
	if _, ok = settings.Question(p.Question); !ok {
		return core.NewFieldError("question", questionNotInModuleText)
	}
	return nil
}

// Rejection disqualifies participants whose answer differs from the question's required answer.
func (p *CriterionPayload) Rejection(mod module.Module) string {
	settings, ok := mod.Settings.(*module.CriterionSettings)
	if !ok {
		return ""
	}
	q, ok := settings.Question(p.Question)
	if !ok || !q.RequiredAnswer.Valid {
		return ""
	}
	if !p.Answer.Valid || p.Answer.Bool != q.RequiredAnswer.Bool {
		return participant.RejectionCriterion
	}
	return ""
}

type AffectiveRatingPayload struct {
	Rating   int    `json:"rating" validate:"min=0,max=10"`
	Stimulus string `json:"stimulus" validate:"required,max=24"`
}

func (p *AffectiveRatingPayload) ItemKey() string   { return p.Stimulus }
func (p *AffectiveRatingPayload) Columns() []string { return []string{"stimulus", "rating"} }
func (p *AffectiveRatingPayload) Values() []string {
	return []string{p.Stimulus, strconv.Itoa(p.Rating)}
}

type ContingencyAwarenessPayload struct {
	AwarenessAnswer    null.Bool `json:"awareness_answer"`
	ConfirmationAnswer string    `json:"confirmation_answer" validate:"max=255"`
}

func (p *ContingencyAwarenessPayload) ItemKey() string { return "" }
func (p *ContingencyAwarenessPayload) Columns() []string {
	return []string{"awareness_answer", "confirmation_answer"}
}
func (p *ContingencyAwarenessPayload) Values() []string {
	return []string{formatNullBool(p.AwarenessAnswer), p.ConfirmationAnswer}
}

type PostExperimentQuestionsPayload struct {
	ExperimentUnpleasantRating null.Int  `json:"experiment_unpleasant_rating" validate:"omitempty,min=0,max=10"`
	DidFollowInstructions      null.Bool `json:"did_follow_instructions"`
	DidRemoveHeadphones        null.Bool `json:"did_remove_headphones"`
	HeadphonesRemovalPoint     string    `json:"headphones_removal_point" validate:"max=255"`
	DidPayAttention            null.Bool `json:"did_pay_attention"`
	TaskEnvironment            string    `json:"task_environment" validate:"max=255"`
	WasQuiet                   null.Bool `json:"was_quiet"`
	WasAlone                   null.Bool `json:"was_alone"`
	WasInterrupted             null.Bool `json:"was_interrupted"`
}

func (p *PostExperimentQuestionsPayload) ItemKey() string { return "" }

func (p *PostExperimentQuestionsPayload) Columns() []string {
	return []string{
		"experiment_unpleasant_rating", "did_follow_instructions", "did_remove_headphones",
		"headphones_removal_point", "did_pay_attention", "task_environment", "was_quiet", "was_alone",
		"was_interrupted",
	}
}

func (p *PostExperimentQuestionsPayload) Values() []string {
	return []string{
		formatNullInt(p.ExperimentUnpleasantRating),
		formatNullBool(p.DidFollowInstructions),
		formatNullBool(p.DidRemoveHeadphones),
		p.HeadphonesRemovalPoint,
		formatNullBool(p.DidPayAttention),
		p.TaskEnvironment,
		formatNullBool(p.WasQuiet),
		formatNullBool(p.WasAlone),
		formatNullBool(p.WasInterrupted),
	}
}

type USUnpleasantnessPayload struct {
	Rating int `json:"rating" validate:"min=0,max=10"`
}

func (p *USUnpleasantnessPayload) ItemKey() string   { return "" }
func (p *USUnpleasantnessPayload) Columns() []string { return []string{"rating"} }
func (p *USUnpleasantnessPayload) Values() []string  { return []string{strconv.Itoa(p.Rating)} }

// VolumeCalibrationPayload is the volume a participant settled on in an instructions module's calibration step.
type VolumeCalibrationPayload struct {
	CalibratedVolumeLevel Decimal `json:"calibrated_volume_level" validate:"min=0,max=1"`
}

func (p *VolumeCalibrationPayload) ItemKey() string   { return "" }
func (p *VolumeCalibrationPayload) Columns() []string { return []string{"calibrated_volume_level"} }
func (p *VolumeCalibrationPayload) Values() []string {
	return []string{p.CalibratedVolumeLevel.String()}
}

func (p *VolumeCalibrationPayload) Check(mod module.Module) error {
	settings, ok := mod.Settings.(*module.InstructionsSettings)
	if !ok || !settings.IncludeVolumeCalibration {
		return core.NewFieldError("module", calibrationNotInModuleText)
	}
	return nil
}
