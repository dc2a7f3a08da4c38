package data

import (
	"context"
	"sort"
)

// RepositoryMock is an in-memory Repository. Rows are listed by id.
type RepositoryMock struct {
	pk    int
	table map[int]Data
}

func NewRepositoryMock() *RepositoryMock {
	return &RepositoryMock{table: make(map[int]Data)}
}

func (r *RepositoryMock) CreateData(_ context.Context, d Data) (Data, error) {
	for _, row := range r.table {
		if row.Kind == d.Kind && row.ParticipantID == d.ParticipantID && row.ModuleID == d.ModuleID && row.ItemKey == d.ItemKey {
			return Data{}, ErrDuplicate
		}
	}
	r.pk++
	d.ID = r.pk
	r.table[d.ID] = d
	return d, nil
}

func (r *RepositoryMock) QueryData(_ context.Context, filter QueryFilter) ([]Data, error) {
	ds := make([]Data, 0)
	for _, d := range r.table {
		switch {
		case d.ExperimentID != filter.ExperimentID,
			filter.Kind != "" && d.Kind != filter.Kind,
			filter.ParticipantID != 0 && d.ParticipantID != filter.ParticipantID,
			filter.ModuleID != 0 && d.ModuleID != filter.ModuleID:
			continue
		}
		ds = append(ds, d)
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].ID < ds[j].ID })
	return ds, nil
}

func (r *RepositoryMock) GetDataByID(_ context.Context, id int) (Data, error) {
	if d, ok := r.table[id]; ok {
		return d, nil
	}
	return Data{}, ErrNotFound
}

func (r *RepositoryMock) DeleteDataByID(_ context.Context, experimentID int, ids ...int) error {
	for _, id := range ids {
		if d, ok := r.table[id]; ok && d.ExperimentID == experimentID {
			delete(r.table, id)
		}
	}
	return nil
}

// Rows returns the stored rows.
func (r *RepositoryMock) Rows() map[int]Data {
	return r.table
}
