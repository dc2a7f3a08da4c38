package voucher

import (
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
)

const (
	codeColumn    = "code"
	maxCodeLength = 255
	uploadField   = "import_file"
)

var (
	codeTooLongText  = "Codes must be 255 characters or less."
	noCodeColumnText = "The file must have a “code” column."
	invalidCSVText   = "The file is not a valid CSV file."
)

type Pool struct {
	ID               int       `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	SuccessMessage   string    `json:"success_message"`
	EmptyPoolMessage string    `json:"empty_pool_message"`
	OwnerID          string    `json:"owner"`
	VoucherCount     int       `json:"voucher_count"` // read only
	ClaimedCount     int       `json:"claimed_count"` // read only
	CreatedAt        time.Time `json:"created_at"`    // UTC
	UpdatedAt        time.Time `json:"updated_at"`    // UTC
}

type Voucher struct {
	ID            int         `json:"id"`
	PoolID        int         `json:"pool"`
	Code          string      `json:"code"`
	ParticipantID null.Int    `json:"-"`
	Participant   null.String `json:"participant"` // participants.participant_id, read only
	CreatedAt     time.Time   `json:"created_at"`  // UTC
}

// PoolInput contains the information needed to create or update a Pool.
type PoolInput struct {
	Name             string `json:"name" validate:"required,max=255"`
	Description      string `json:"description"`
	SuccessMessage   string `json:"success_message"`
	EmptyPoolMessage string `json:"empty_pool_message"`
}

func (pi *PoolInput) Validate(validate *validator.Validate) error {
	pi.Name = core.CleanString(pi.Name)
	pi.Description = core.CleanString(pi.Description)
	pi.SuccessMessage = core.CleanString(pi.SuccessMessage)
	pi.EmptyPoolMessage = core.CleanString(pi.EmptyPoolMessage)
	return validate.Struct(pi)
}

// UploadResult summarizes a voucher codes upload.
type UploadResult struct {
	RowCount int `json:"row_count"` // distinct codes in the file
	Created  int `json:"created"`
}

// ParseCodes reads the distinct, non-empty values of the `code` column of a CSV file, in file order.
func ParseCodes(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, core.NewFieldError(uploadField, noCodeColumnText)
	} else if err != nil {
		return nil, core.NewValidationError(errors.Wrap(err, "reading header"), core.FieldError{Field: uploadField, Error: invalidCSVText})
	}
	col := -1
	for i, name := range header {
		if strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) == codeColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, core.NewFieldError(uploadField, noCodeColumnText)
	}

	var (
		codes   = make([]string, 0)
		seen    = make(map[string]bool)
		tooLong bool
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, core.NewValidationError(errors.Wrap(err, "reading codes"), core.FieldError{Field: uploadField, Error: invalidCSVText})
		}
		if col >= len(record) {
			continue
		}
		code := record[col]
		switch {
		case code == "" || seen[code]:
		case len([]rune(code)) > maxCodeLength:
			tooLong = true
		default:
			seen[code] = true
			codes = append(codes, code)
		}
	}
	if tooLong {
		return nil, core.NewFieldError(uploadField, codeTooLongText)
	}
	return codes, nil
}
