package experiment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/flare-portal/flare/core"
)

// AssetStoreMock keeps the objects in memory.
type AssetStoreMock struct {
	mu      sync.Mutex
	Objects map[string][]byte
}

var _ AssetStore = (*AssetStoreMock)(nil)

func NewAssetStoreMock() *AssetStoreMock {
	return &AssetStoreMock{Objects: make(map[string][]byte)}
}

func (s *AssetStoreMock) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Objects[key] = buf.Bytes()
	return nil
}

func (s *AssetStoreMock) URL(_ context.Context, key string) (string, error) {
	return fmt.Sprintf("https://assets.test/%s?signed", key), nil
}

func (s *AssetStoreMock) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Objects, key)
	return nil
}

// RepositoryMock is an in-memory Repository. Pools lists the existing voucher pool ids.
type RepositoryMock struct {
	pk     int
	table  map[int]Experiment
	assets map[int]map[string]Asset
	Pools  map[int]bool
}

var _ Repository = (*RepositoryMock)(nil)

func NewRepositoryMock() *RepositoryMock {
	return &RepositoryMock{
		table:  make(map[int]Experiment),
		assets: make(map[int]map[string]Asset),
		Pools:  make(map[int]bool),
	}
}

func (r *RepositoryMock) QueryExperiments(_ context.Context, projectID int, _ ...core.DBOrdering) ([]Experiment, error) {
	exps := make([]Experiment, 0)
	for _, exp := range r.table {
		if exp.ProjectID == projectID {
			exps = append(exps, exp)
		}
	}
	sort.Slice(exps, func(i, j int) bool { return exps[i].ID < exps[j].ID })
	return exps, nil
}

func (r *RepositoryMock) GetExperimentByID(_ context.Context, id int) (Experiment, error) {
	if exp, ok := r.table[id]; ok {
		return exp, nil
	}
	return Experiment{}, ErrNotFound
}

func (r *RepositoryMock) codeTaken(exp Experiment) bool {
	for _, other := range r.table {
		if other.ID != exp.ID && other.Code == exp.Code {
			return true
		}
	}
	return false
}

func (r *RepositoryMock) CreateExperiment(_ context.Context, exp Experiment) (Experiment, error) {
	if r.codeTaken(exp) {
		return Experiment{}, ErrCodeExists
	}
	r.pk++
	exp.ID = r.pk
	r.table[exp.ID] = exp
	return exp, nil
}

func (r *RepositoryMock) UpdateExperiment(_ context.Context, exp Experiment) (Experiment, error) {
	if _, ok := r.table[exp.ID]; !ok {
		return Experiment{}, ErrNotFound
	}
	if r.codeTaken(exp) {
		return Experiment{}, ErrCodeExists
	}
	r.table[exp.ID] = exp
	return exp, nil
}

func (r *RepositoryMock) DeleteExperiment(_ context.Context, id int) error {
	delete(r.table, id)
	delete(r.assets, id)
	return nil
}

func (r *RepositoryMock) VoucherPoolExists(_ context.Context, id int) (bool, error) {
	return r.Pools[id], nil
}

func (r *RepositoryMock) QueryAssets(_ context.Context, experimentID int) ([]Asset, error) {
	assets := make([]Asset, 0)
	for _, a := range r.assets[experimentID] {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Name < assets[j].Name })
	return assets, nil
}

func (r *RepositoryMock) UpsertAsset(_ context.Context, a Asset) error {
	if r.assets[a.ExperimentID] == nil {
		r.assets[a.ExperimentID] = make(map[string]Asset)
	}
	r.assets[a.ExperimentID][a.Name] = a
	return nil
}

func (r *RepositoryMock) DeleteAsset(_ context.Context, experimentID int, name string) error {
	if _, ok := r.assets[experimentID][name]; !ok {
		return ErrAssetNotFound
	}
	delete(r.assets[experimentID], name)
	return nil
}
