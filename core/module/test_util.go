package module

import (
	"context"
	"sort"
)

// RepositoryMock is an in-memory Repository. DataModules lists the ids of modules that hold data.
// Locks records the experiments locked by LockExperiment, in call order.
type RepositoryMock struct {
	pk          int
	table       map[int]Module
	DataModules map[int]bool
	Locks       []int
}

func NewRepositoryMock() *RepositoryMock {
	return &RepositoryMock{table: make(map[int]Module), DataModules: make(map[int]bool)}
}

func (r *RepositoryMock) QueryModules(_ context.Context, experimentID int) ([]Module, error) {
	mods := make([]Module, 0)
	for _, m := range r.table {
		if m.ExperimentID == experimentID {
			mods = append(mods, m)
		}
	}
	Sort(mods)
	return mods, nil
}

func (r *RepositoryMock) GetModuleByID(_ context.Context, id int) (Module, error) {
	if m, ok := r.table[id]; ok {
		return m, nil
	}
	return Module{}, ErrNotFound
}

func (r *RepositoryMock) LockExperiment(_ context.Context, experimentID int) error {
	r.Locks = append(r.Locks, experimentID)
	return nil
}

func (r *RepositoryMock) MaxSortOrder(_ context.Context, experimentID int) (int, error) {
	max := -1
	for _, m := range r.table {
		if m.ExperimentID == experimentID && m.SortOrder > max {
			max = m.SortOrder
		}
	}
	return max, nil
}

func (r *RepositoryMock) CreateModule(_ context.Context, mod Module) (Module, error) {
	r.pk++
	mod.ID = r.pk
	r.table[mod.ID] = mod
	return mod, nil
}

func (r *RepositoryMock) UpdateModule(_ context.Context, mod Module) (Module, error) {
	if _, ok := r.table[mod.ID]; !ok {
		return Module{}, ErrNotFound
	}
	r.table[mod.ID] = mod
	return mod, nil
}

func (r *RepositoryMock) UpdateSortOrders(_ context.Context, order map[int]int) error {
	ids := make([]int, 0, len(order))
	for id := range order {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		m, ok := r.table[id]
		if !ok {
			return ErrNotFound
		}
		m.SortOrder = order[id]
		r.table[id] = m
	}
	return nil
}

func (r *RepositoryMock) HasData(_ context.Context, ids ...int) (bool, error) {
	for _, id := range ids {
		if r.DataModules[id] {
			return true, nil
		}
	}
	return false, nil
}

func (r *RepositoryMock) DeleteModulesByID(_ context.Context, ids ...int) error {
	for _, id := range ids {
		delete(r.table, id)
	}
	return nil
}
