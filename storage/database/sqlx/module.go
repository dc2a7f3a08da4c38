package sqlxrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/module"
)

const moduleColumns = "id, experiment_id, kind, label, sortorder, break_start_id, config, created_at, updated_at"

type moduleRow struct {
	ID           int       `db:"id"`
	ExperimentID int       `db:"experiment_id"`
	Kind         string    `db:"kind"`
	Label        string    `db:"label"`
	SortOrder    int       `db:"sortorder"`
	BreakStartID null.Int  `db:"break_start_id"`
	Config       []byte    `db:"config"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (row moduleRow) module() module.Module {
	return module.Module{
		ID:           row.ID,
		ExperimentID: row.ExperimentID,
		Kind:         module.Kind(row.Kind),
		Label:        row.Label,
		SortOrder:    row.SortOrder,
		BreakStartID: row.BreakStartID,
		RawConfig:    row.Config,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
}

type moduleRepository struct {
	repository
}

var _ module.Repository = (*moduleRepository)(nil)

func NewModuleRepository(db core.DBExecutor) module.Repository {
	return &moduleRepository{repository{db: db}}
}

func (repo *moduleRepository) QueryModules(ctx context.Context, experimentID int) ([]module.Module, error) {
	var rows []moduleRow
	err := repo.selectAll(ctx, &rows,
		"SELECT "+moduleColumns+" FROM modules WHERE experiment_id = ? ORDER BY sortorder, id", experimentID)
	if err != nil {
		return nil, errors.Wrap(err, "querying modules")
	}
	mods := make([]module.Module, 0, len(rows))
	for _, row := range rows {
		mods = append(mods, row.module())
	}
	return mods, nil
}

func (repo *moduleRepository) GetModuleByID(ctx context.Context, id int) (module.Module, error) {
	var row moduleRow
	if err := repo.get(ctx, &row, "SELECT "+moduleColumns+" FROM modules WHERE id = ?", id); err != nil {
		return module.Module{}, trapNoRowsErr(err, module.ErrNotFound, "finding module")
	}
	return row.module(), nil
}

// LockExperiment takes a row lock on the experiment on PostgreSQL. SQLite runs on a single
// connection, where transactions are already serialized.
func (repo *moduleRepository) LockExperiment(ctx context.Context, experimentID int) error {
	if !repo.isPostgres(ctx) {
		return nil
	}
	_, err := repo.exec(ctx, "SELECT id FROM experiments WHERE id = ? FOR UPDATE", experimentID)
	return errors.Wrap(err, "locking experiment")
}

func (repo *moduleRepository) MaxSortOrder(ctx context.Context, experimentID int) (int, error) {
	var max int
	err := repo.get(ctx, &max, "SELECT COALESCE(MAX(sortorder), -1) FROM modules WHERE experiment_id = ?", experimentID)
	return max, errors.Wrap(err, "getting max sortorder")
}

func (repo *moduleRepository) CreateModule(ctx context.Context, mod module.Module) (module.Module, error) {
	err := repo.get(ctx, &mod.ID, `INSERT INTO modules (experiment_id, kind, label, sortorder, break_start_id, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		mod.ExperimentID, string(mod.Kind), mod.Label, mod.SortOrder, mod.BreakStartID, string(mod.RawConfig),
		mod.CreatedAt.UTC(), mod.UpdatedAt.UTC())
	if err != nil {
		return module.Module{}, errors.Wrap(err, "inserting module")
	}
	return mod, nil
}

func (repo *moduleRepository) UpdateModule(ctx context.Context, mod module.Module) (module.Module, error) {
	res, err := repo.exec(ctx, "UPDATE modules SET label = ?, config = ?, updated_at = ? WHERE id = ?",
		mod.Label, string(mod.RawConfig), mod.UpdatedAt.UTC(), mod.ID)
	if err != nil {
		return module.Module{}, errors.Wrap(err, "updating module")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return module.Module{}, module.ErrNotFound
	}
	return mod, nil
}

func (repo *moduleRepository) UpdateSortOrders(ctx context.Context, order map[int]int) error {
	for id, pos := range order {
		if _, err := repo.exec(ctx, "UPDATE modules SET sortorder = ? WHERE id = ?", pos, id); err != nil {
			return errors.Wrapf(err, "updating module %d", id)
		}
	}
	return nil
}

func (repo *moduleRepository) HasData(ctx context.Context, ids ...int) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	var n int
	q, args := in("SELECT COUNT(*) FROM module_data WHERE module_id IN (?)", ids)
	if err := repo.get(ctx, &n, q, args...); err != nil {
		return false, errors.Wrap(err, "counting module data")
	}
	return n > 0, nil
}

func (repo *moduleRepository) DeleteModulesByID(ctx context.Context, ids ...int) error {
	if len(ids) == 0 {
		return nil
	}
	q, args := in("DELETE FROM modules WHERE id IN (?)", ids)
	_, err := repo.exec(ctx, q, args...)
	return errors.Wrap(err, "deleting modules")
}
