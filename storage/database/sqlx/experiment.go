package sqlxrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/experiment"
)

const experimentColumns = `id, project_id, owner_id, name, description, code, trial_length, rating_delay,
	iti_min_delay, iti_max_delay, minimum_volume, us_file_volume, contact_email,
	rating_scale_anchor_label_left, rating_scale_anchor_label_center, rating_scale_anchor_label_right,
	voucher_pool_id, created_at, updated_at`

var experimentOrderings = map[string]string{
	"id":         "id",
	"name":       "name",
	"code":       "code",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

type experimentRow struct {
	ID                           int       `db:"id"`
	ProjectID                    int       `db:"project_id"`
	OwnerID                      string    `db:"owner_id"`
	Name                         string    `db:"name"`
	Description                  string    `db:"description"`
	Code                         string    `db:"code"`
	TrialLength                  float64   `db:"trial_length"`
	RatingDelay                  float64   `db:"rating_delay"`
	ITIMinDelay                  int       `db:"iti_min_delay"`
	ITIMaxDelay                  int       `db:"iti_max_delay"`
	MinimumVolume                float64   `db:"minimum_volume"`
	USFileVolume                 float64   `db:"us_file_volume"`
	ContactEmail                 string    `db:"contact_email"`
	RatingScaleAnchorLabelLeft   string    `db:"rating_scale_anchor_label_left"`
	RatingScaleAnchorLabelCenter string    `db:"rating_scale_anchor_label_center"`
	RatingScaleAnchorLabelRight  string    `db:"rating_scale_anchor_label_right"`
	VoucherPoolID                null.Int  `db:"voucher_pool_id"`
	CreatedAt                    time.Time `db:"created_at"`
	UpdatedAt                    time.Time `db:"updated_at"`
}

func (row experimentRow) experiment() experiment.Experiment {
	return experiment.Experiment{
		ID:                           row.ID,
		ProjectID:                    row.ProjectID,
		OwnerID:                      row.OwnerID,
		Name:                         row.Name,
		Description:                  row.Description,
		Code:                         row.Code,
		TrialLength:                  row.TrialLength,
		RatingDelay:                  row.RatingDelay,
		ITIMinDelay:                  row.ITIMinDelay,
		ITIMaxDelay:                  row.ITIMaxDelay,
		MinimumVolume:                row.MinimumVolume,
		USFileVolume:                 row.USFileVolume,
		ContactEmail:                 row.ContactEmail,
		RatingScaleAnchorLabelLeft:   row.RatingScaleAnchorLabelLeft,
		RatingScaleAnchorLabelCenter: row.RatingScaleAnchorLabelCenter,
		RatingScaleAnchorLabelRight:  row.RatingScaleAnchorLabelRight,
		VoucherPoolID:                row.VoucherPoolID,
		CreatedAt:                    row.CreatedAt.UTC(),
		UpdatedAt:                    row.UpdatedAt.UTC(),
	}
}

type assetRow struct {
	ExperimentID int       `db:"experiment_id"`
	Name         string    `db:"name"`
	ObjectKey    string    `db:"object_key"`
	ContentType  string    `db:"content_type"`
	Size         int64     `db:"size"`
	UploadedAt   time.Time `db:"uploaded_at"`
}

type experimentRepository struct {
	repository
}

var _ experiment.Repository = (*experimentRepository)(nil)

func NewExperimentRepository(db core.DBExecutor) experiment.Repository {
	return &experimentRepository{repository{db: db}}
}

func (repo *experimentRepository) QueryExperiments(ctx context.Context, projectID int, orderings ...core.DBOrdering) ([]experiment.Experiment, error) {
	q := "SELECT " + experimentColumns + " FROM experiments WHERE project_id = ?" +
		orderBy(orderings, experimentOrderings, "created_at DESC, id DESC")
	var rows []experimentRow
	if err := repo.selectAll(ctx, &rows, q, projectID); err != nil {
		return nil, errors.Wrap(err, "querying experiments")
	}
	exps := make([]experiment.Experiment, 0, len(rows))
	for _, row := range rows {
		exps = append(exps, row.experiment())
	}
	return exps, nil
}

func (repo *experimentRepository) GetExperimentByID(ctx context.Context, id int) (experiment.Experiment, error) {
	var row experimentRow
	if err := repo.get(ctx, &row, "SELECT "+experimentColumns+" FROM experiments WHERE id = ?", id); err != nil {
		return experiment.Experiment{}, trapNoRowsErr(err, experiment.ErrNotFound, "finding experiment")
	}
	return row.experiment(), nil
}

func (repo *experimentRepository) CreateExperiment(ctx context.Context, exp experiment.Experiment) (experiment.Experiment, error) {
	err := repo.get(ctx, &exp.ID, `INSERT INTO experiments (project_id, owner_id, name, description, code, trial_length,
		rating_delay, iti_min_delay, iti_max_delay, minimum_volume, us_file_volume, contact_email,
		rating_scale_anchor_label_left, rating_scale_anchor_label_center, rating_scale_anchor_label_right,
		voucher_pool_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		exp.ProjectID, exp.OwnerID, exp.Name, exp.Description, exp.Code, exp.TrialLength,
		exp.RatingDelay, exp.ITIMinDelay, exp.ITIMaxDelay, exp.MinimumVolume, exp.USFileVolume, exp.ContactEmail,
		exp.RatingScaleAnchorLabelLeft, exp.RatingScaleAnchorLabelCenter, exp.RatingScaleAnchorLabelRight,
		exp.VoucherPoolID, exp.CreatedAt.UTC(), exp.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return experiment.Experiment{}, experiment.ErrCodeExists
		}
		return experiment.Experiment{}, errors.Wrap(err, "inserting experiment")
	}
	return exp, nil
}

func (repo *experimentRepository) UpdateExperiment(ctx context.Context, exp experiment.Experiment) (experiment.Experiment, error) {
	res, err := repo.exec(ctx, `UPDATE experiments SET name = ?, description = ?, code = ?, trial_length = ?,
		rating_delay = ?, iti_min_delay = ?, iti_max_delay = ?, minimum_volume = ?, us_file_volume = ?, contact_email = ?,
		rating_scale_anchor_label_left = ?, rating_scale_anchor_label_center = ?, rating_scale_anchor_label_right = ?,
		voucher_pool_id = ?, updated_at = ? WHERE id = ?`,
		exp.Name, exp.Description, exp.Code, exp.TrialLength,
		exp.RatingDelay, exp.ITIMinDelay, exp.ITIMaxDelay, exp.MinimumVolume, exp.USFileVolume, exp.ContactEmail,
		exp.RatingScaleAnchorLabelLeft, exp.RatingScaleAnchorLabelCenter, exp.RatingScaleAnchorLabelRight,
		exp.VoucherPoolID, exp.UpdatedAt.UTC(), exp.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return experiment.Experiment{}, experiment.ErrCodeExists
		}
		return experiment.Experiment{}, errors.Wrap(err, "updating experiment")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return experiment.Experiment{}, experiment.ErrNotFound
	}
	return exp, nil
}

func (repo *experimentRepository) DeleteExperiment(ctx context.Context, id int) error {
	_, err := repo.exec(ctx, "DELETE FROM experiments WHERE id = ?", id)
	return errors.Wrap(err, "deleting experiment")
}

func (repo *experimentRepository) VoucherPoolExists(ctx context.Context, id int) (bool, error) {
	var n int
	if err := repo.get(ctx, &n, "SELECT COUNT(*) FROM voucher_pools WHERE id = ?", id); err != nil {
		return false, errors.Wrap(err, "checking voucher pool")
	}
	return n > 0, nil
}

func (repo *experimentRepository) QueryAssets(ctx context.Context, experimentID int) ([]experiment.Asset, error) {
	var rows []assetRow
	err := repo.selectAll(ctx, &rows, `SELECT experiment_id, name, object_key, content_type, size, uploaded_at
		FROM experiment_assets WHERE experiment_id = ? ORDER BY name`, experimentID)
	if err != nil {
		return nil, errors.Wrap(err, "querying assets")
	}
	assets := make([]experiment.Asset, 0, len(rows))
	for _, row := range rows {
		assets = append(assets, experiment.Asset{
			ExperimentID: row.ExperimentID,
			Name:         row.Name,
			ObjectKey:    row.ObjectKey,
			ContentType:  row.ContentType,
			Size:         row.Size,
			UploadedAt:   row.UploadedAt.UTC(),
		})
	}
	return assets, nil
}

func (repo *experimentRepository) UpsertAsset(ctx context.Context, a experiment.Asset) error {
	_, err := repo.exec(ctx, `INSERT INTO experiment_assets (experiment_id, name, object_key, content_type, size, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (experiment_id, name) DO UPDATE SET object_key = excluded.object_key,
		content_type = excluded.content_type, size = excluded.size, uploaded_at = excluded.uploaded_at`,
		a.ExperimentID, a.Name, a.ObjectKey, a.ContentType, a.Size, a.UploadedAt.UTC())
	return errors.Wrap(err, "saving asset")
}

func (repo *experimentRepository) DeleteAsset(ctx context.Context, experimentID int, name string) error {
	res, err := repo.exec(ctx, "DELETE FROM experiment_assets WHERE experiment_id = ? AND name = ?", experimentID, name)
	if err != nil {
		return errors.Wrap(err, "deleting asset")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return experiment.ErrAssetNotFound
	}
	return nil
}
