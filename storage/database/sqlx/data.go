package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/data"
	"github.com/flare-portal/flare/core/module"
)

const dataSelect = `SELECT d.id, d.kind, m.experiment_id, d.participant_id, p.participant_id AS participant,
	d.module_id, d.item_key, d.trial, d.payload, d.created_at
	FROM module_data d
	JOIN modules m ON m.id = d.module_id
	JOIN participants p ON p.id = d.participant_id`

type dataRow struct {
	ID            int       `db:"id"`
	Kind          string    `db:"kind"`
	ExperimentID  int       `db:"experiment_id"`
	ParticipantID int       `db:"participant_id"`
	Participant   string    `db:"participant"`
	ModuleID      int       `db:"module_id"`
	ItemKey       string    `db:"item_key"`
	Trial         null.Int  `db:"trial"`
	Payload       []byte    `db:"payload"`
	CreatedAt     time.Time `db:"created_at"`
}

func (row dataRow) data() data.Data {
	return data.Data{
		ID:            row.ID,
		Kind:          module.Kind(row.Kind),
		ExperimentID:  row.ExperimentID,
		ParticipantID: row.ParticipantID,
		Participant:   row.Participant,
		ModuleID:      row.ModuleID,
		ItemKey:       row.ItemKey,
		Trial:         row.Trial,
		RawPayload:    row.Payload,
		CreatedAt:     row.CreatedAt.UTC(),
	}
}

type dataRepository struct {
	repository
}

var _ data.Repository = (*dataRepository)(nil)

func NewDataRepository(db core.DBExecutor) data.Repository {
	return &dataRepository{repository{db: db}}
}

func (repo *dataRepository) CreateData(ctx context.Context, d data.Data) (data.Data, error) {
	err := repo.get(ctx, &d.ID, `INSERT INTO module_data (kind, participant_id, module_id, item_key, trial, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		string(d.Kind), d.ParticipantID, d.ModuleID, d.ItemKey, d.Trial, string(d.RawPayload), d.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return data.Data{}, data.ErrDuplicate
		}
		return data.Data{}, errors.Wrap(err, "inserting data")
	}
	return d, nil
}

func (repo *dataRepository) QueryData(ctx context.Context, filter data.QueryFilter) ([]data.Data, error) {
	where := []string{"m.experiment_id = ?"}
	args := []interface{}{filter.ExperimentID}
	if filter.Kind != "" {
		where = append(where, "d.kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.ParticipantID != 0 {
		where = append(where, "d.participant_id = ?")
		args = append(args, filter.ParticipantID)
	}
	if filter.ModuleID != 0 {
		where = append(where, "d.module_id = ?")
		args = append(args, filter.ModuleID)
	}
	q := dataSelect + " WHERE " + strings.Join(where, " AND ") +
		" ORDER BY p.participant_id, m.sortorder, m.id, COALESCE(d.trial, -1), d.id"

	var rows []dataRow
	if err := repo.selectAll(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying data")
	}
	ds := make([]data.Data, 0, len(rows))
	for _, row := range rows {
		ds = append(ds, row.data())
	}
	return ds, nil
}

func (repo *dataRepository) GetDataByID(ctx context.Context, id int) (data.Data, error) {
	var row dataRow
	if err := repo.get(ctx, &row, dataSelect+" WHERE d.id = ?", id); err != nil {
		return data.Data{}, trapNoRowsErr(err, data.ErrNotFound, "finding data")
	}
	return row.data(), nil
}

func (repo *dataRepository) DeleteDataByID(ctx context.Context, experimentID int, ids ...int) error {
	if len(ids) == 0 {
		return nil
	}
	q, args := in(`DELETE FROM module_data WHERE id IN (?)
		AND module_id IN (SELECT id FROM modules WHERE experiment_id = ?)`, ids, experimentID)
	_, err := repo.exec(ctx, q, args...)
	return errors.Wrap(err, "deleting data")
}
