package experiment

import (
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
)

// Default rating scale anchor labels
const (
	DefaultAnchorLabelLeft   = "Certain no scream"
	DefaultAnchorLabelCenter = "Uncertain"
	DefaultAnchorLabelRight  = "Certain scream"
)

var (
	ratingDelayText = "Rating delay cannot be longer than the trial length."
	itiDelayText    = "Minimum delay cannot be shorter than maximum delay."
)

type Experiment struct {
	ID                           int       `json:"id"`
	ProjectID                    int       `json:"project"`
	OwnerID                      string    `json:"owner"`
	Name                         string    `json:"name"`
	Description                  string    `json:"description"`
	Code                         string    `json:"code"`
	TrialLength                  float64   `json:"trial_length"`  // seconds
	RatingDelay                  float64   `json:"rating_delay"`  // seconds
	ITIMinDelay                  int       `json:"iti_min_delay"` // seconds
	ITIMaxDelay                  int       `json:"iti_max_delay"` // seconds
	MinimumVolume                float64   `json:"minimum_volume"`
	USFileVolume                 float64   `json:"us_file_volume"`
	ContactEmail                 string    `json:"contact_email"`
	RatingScaleAnchorLabelLeft   string    `json:"rating_scale_anchor_label_left"`
	RatingScaleAnchorLabelCenter string    `json:"rating_scale_anchor_label_center"`
	RatingScaleAnchorLabelRight  string    `json:"rating_scale_anchor_label_right"`
	VoucherPoolID                null.Int  `json:"voucher_pool"`
	CreatedAt                    time.Time `json:"created_at"` // UTC
	UpdatedAt                    time.Time `json:"updated_at"` // UTC
}

// ExperimentInput contains the information needed to create or update an Experiment.
type ExperimentInput struct {
	Name                         string   `json:"name" validate:"required,max=255"`
	Description                  string   `json:"description"`
	Code                         string   `json:"code" validate:"required,max=6,alphanum_"`
	TrialLength                  float64  `json:"trial_length" validate:"gt=0"`
	RatingDelay                  float64  `json:"rating_delay" validate:"min=0"`
	ITIMinDelay                  int      `json:"iti_min_delay" validate:"min=0"`
	ITIMaxDelay                  int      `json:"iti_max_delay" validate:"min=0"`
	MinimumVolume                float64  `json:"minimum_volume" validate:"min=0,max=1"`
	USFileVolume                 float64  `json:"us_file_volume" validate:"min=0,max=1"`
	ContactEmail                 string   `json:"contact_email" validate:"omitempty,email,max=254"`
	RatingScaleAnchorLabelLeft   string   `json:"rating_scale_anchor_label_left" validate:"required,max=255"`
	RatingScaleAnchorLabelCenter string   `json:"rating_scale_anchor_label_center" validate:"required,max=255"`
	RatingScaleAnchorLabelRight  string   `json:"rating_scale_anchor_label_right" validate:"required,max=255"`
	VoucherPoolID                null.Int `json:"voucher_pool"`
}

// NewExperimentInput returns an input holding the default values of a new experiment.
func NewExperimentInput() ExperimentInput {
	return ExperimentInput{
		RatingDelay:                  1,
		ITIMinDelay:                  1,
		ITIMaxDelay:                  3,
		USFileVolume:                 1,
		RatingScaleAnchorLabelLeft:   DefaultAnchorLabelLeft,
		RatingScaleAnchorLabelCenter: DefaultAnchorLabelCenter,
		RatingScaleAnchorLabelRight:  DefaultAnchorLabelRight,
	}
}

// Input returns the input that leaves exp unchanged, to be decoded over for partial updates.
func (exp Experiment) Input() ExperimentInput {
	return ExperimentInput{
		Name:                         exp.Name,
		Description:                  exp.Description,
		Code:                         exp.Code,
		TrialLength:                  exp.TrialLength,
		RatingDelay:                  exp.RatingDelay,
		ITIMinDelay:                  exp.ITIMinDelay,
		ITIMaxDelay:                  exp.ITIMaxDelay,
		MinimumVolume:                exp.MinimumVolume,
		USFileVolume:                 exp.USFileVolume,
		ContactEmail:                 exp.ContactEmail,
		RatingScaleAnchorLabelLeft:   exp.RatingScaleAnchorLabelLeft,
		RatingScaleAnchorLabelCenter: exp.RatingScaleAnchorLabelCenter,
		RatingScaleAnchorLabelRight:  exp.RatingScaleAnchorLabelRight,
		VoucherPoolID:                exp.VoucherPoolID,
	}
}

func (ei *ExperimentInput) Validate(validate *validator.Validate) error {
	ei.Name = core.CleanString(ei.Name)
	ei.Description = core.CleanString(ei.Description)
	ei.Code = core.CleanString(ei.Code)
	ei.ContactEmail = core.CleanString(ei.ContactEmail, true /* lower */)
	ei.RatingScaleAnchorLabelLeft = core.CleanString(ei.RatingScaleAnchorLabelLeft)
	ei.RatingScaleAnchorLabelCenter = core.CleanString(ei.RatingScaleAnchorLabelCenter)
	ei.RatingScaleAnchorLabelRight = core.CleanString(ei.RatingScaleAnchorLabelRight)

	if err := validate.Struct(ei); err != nil {
		return err
	}

	var flds []core.FieldError
	if ei.RatingDelay > ei.TrialLength {
		flds = append(flds, core.FieldError{Field: "rating_delay", Error: ratingDelayText})
	}
	if ei.ITIMinDelay > ei.ITIMaxDelay {
		flds = append(flds, core.FieldError{Field: "iti_min_delay", Error: itiDelayText})
	}
	if len(flds) > 0 {
		return core.NewValidationError(errors.New("invalid experiment"), flds...)
	}
	return nil
}

// Stimulus asset names
const (
	AssetUS       = "us"
	AssetCSA      = "csa"
	AssetCSB      = "csb"
	AssetContextA = "context_a"
	AssetContextB = "context_b"
	AssetContextC = "context_c"
	AssetGSA      = "gsa"
	AssetGSB      = "gsb"
	AssetGSC      = "gsc"
	AssetGSD      = "gsd"
)

var (
	// AssetNames lists the stimulus assets of an experiment, in display order.
	AssetNames = []string{
		AssetUS, AssetCSA, AssetCSB, AssetContextA, AssetContextB, AssetContextC,
		AssetGSA, AssetGSB, AssetGSC, AssetGSD,
	}

	audioExtensions = []string{"mp3", "wav"}
	imageExtensions = []string{"png"}

	invalidAssetText    = "Unknown stimulus."
	invalidExtensionFmt = "File extension “%s” is not allowed. Allowed extensions are: %s."
)

// Asset is a stimulus file of an experiment, kept in the asset store under ObjectKey.
type Asset struct {
	ExperimentID int       `json:"experiment"`
	Name         string    `json:"name"`
	ObjectKey    string    `json:"-"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploaded_at"` // UTC
}

// AllowedExtensions returns the file extensions accepted for the named asset, or nil for an unknown name.
func AllowedExtensions(name string) []string {
	switch name {
	case AssetUS:
		return audioExtensions
	case AssetCSA, AssetCSB, AssetContextA, AssetContextB, AssetContextC, AssetGSA, AssetGSB, AssetGSC, AssetGSD:
		return imageExtensions
	}
	return nil
}

// fileExtension returns the lowered extension of filename, without the dot.
func fileExtension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
}
