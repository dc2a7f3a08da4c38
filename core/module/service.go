package module

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
)

var (
	// errors
	ErrNotFound = errors.New("module not found")

	hasDataText      = "This module has data and cannot be deleted."
	notCreatableText = "This module type cannot be created directly."
)

type (
	Repository interface {
		// QueryModules returns the modules of an experiment ordered by (sortorder, id).
		QueryModules(ctx context.Context, experimentID int) ([]Module, error)
		GetModuleByID(ctx context.Context, id int) (Module, error)
		// LockExperiment holds the experiment's module set until the transaction of ctx ends,
		// so sortorders read in that transaction stay current.
		LockExperiment(ctx context.Context, experimentID int) error
		// MaxSortOrder returns -1 when the experiment has no module.
		MaxSortOrder(ctx context.Context, experimentID int) (int, error)
		CreateModule(ctx context.Context, mod Module) (Module, error)
		UpdateModule(ctx context.Context, mod Module) (Module, error)
		// UpdateSortOrders sets the sortorder of every module in order: {module id: sortorder}.
		UpdateSortOrders(ctx context.Context, order map[int]int) error
		HasData(ctx context.Context, ids ...int) (bool, error)
		DeleteModulesByID(ctx context.Context, ids ...int) error
	}

	Service interface {
		Registry() *Registry
		Query(ctx context.Context, experimentID int) ([]Module, error)
		GetByID(ctx context.Context, id int) (Module, error)
		// Create appends a module to the experiment. A break start comes with its break end.
		Create(ctx context.Context, experimentID int, kind Kind, label string, settings Settings) (Module, error)
		Update(ctx context.Context, mod Module, label string, settings Settings) (Module, error)
		// Delete removes a module. Both halves of a break pair are removed together.
		Delete(ctx context.Context, mod Module) error
		Reorder(ctx context.Context, experimentID int, order map[int]int) error
	}

	service struct {
		repo     Repository
		registry *Registry
		tx       core.Transactor
		cache    core.Cache
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, registry *Registry, tx core.Transactor, cache core.Cache) Service {
	return &service{repo: repo, registry: registry, tx: tx, cache: cache}
}

func (svc *service) Registry() *Registry {
	return svc.registry
}

// decode fills in the Settings of mods from their stored config.
func (svc *service) decode(mods ...*Module) error {
	for _, mod := range mods {
		entry, ok := svc.registry.Get(mod.Kind)
		if !ok {
			return errors.Errorf("module %d: unknown kind %q", mod.ID, mod.Kind)
		}
		settings, err := entry.DecodeSettings(mod.RawConfig)
		if err != nil {
			return errors.Wrapf(err, "module %d", mod.ID)
		}
		if end, ok := settings.(*BreakEndSettings); ok {
			end.StartModuleID = mod.BreakStartID.Int
		}
		mod.Settings = settings
	}
	return nil
}

func (svc *service) encode(mod *Module) error {
	raw, err := json.Marshal(mod.Settings)
	if err != nil {
		return errors.Wrapf(err, "encoding %s settings", mod.Kind)
	}
	mod.RawConfig = raw
	return nil
}

func (svc *service) invalidate(ctx context.Context, experimentID int) {
	_ = svc.cache.Delete(ctx, core.ExperimentConfigCacheKey(experimentID))
}

func (svc *service) Query(ctx context.Context, experimentID int) ([]Module, error) {
	mods, err := svc.repo.QueryModules(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	for i := range mods {
		if err = svc.decode(&mods[i]); err != nil {
			return nil, err
		}
	}
	return mods, nil
}

func (svc *service) GetByID(ctx context.Context, id int) (Module, error) {
	mod, err := svc.repo.GetModuleByID(ctx, id)
	if err != nil {
		return Module{}, err
	}
	if err = svc.decode(&mod); err != nil {
		return Module{}, err
	}
	return mod, nil
}

func (svc *service) Create(ctx context.Context, experimentID int, kind Kind, label string, settings Settings) (Module, error) {
	entry, ok := svc.registry.Get(kind)
	if !ok || !entry.Creatable {
		return Module{}, core.NewFieldError("type", notCreatableText)
	}
	if p, ok := settings.(preparer); ok {
		p.prepare(nil)
	}

	now := time.Now().UTC()
	mod := Module{
		ExperimentID: experimentID,
		Kind:         kind,
		Label:        label,
		Settings:     settings,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := svc.encode(&mod); err != nil {
		return Module{}, err
	}

	err := svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := svc.repo.LockExperiment(ctx, experimentID); err != nil {
			return errors.Wrap(err, "locking experiment")
		}
		maxOrder, err := svc.repo.MaxSortOrder(ctx, experimentID)
		if err != nil {
			return errors.Wrap(err, "getting max sort order")
		}
		if maxOrder+2 > MaxSortOrder {
			return core.NewFieldError(orderField, orderTooLargeText)
		}
		mod.SortOrder = maxOrder + 1
		if mod, err = svc.repo.CreateModule(ctx, mod); err != nil {
			return errors.Wrap(err, "creating module")
		}
		if kind != BreakStart {
			return nil
		}

		endEntry, _ := svc.registry.Get(BreakEnd)
		end := Module{
			ExperimentID: experimentID,
			Kind:         BreakEnd,
			Label:        label,
			SortOrder:    maxOrder + 2,
			BreakStartID: null.IntFrom(mod.ID),
			Settings:     endEntry.NewSettings(),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err = svc.encode(&end); err != nil {
			return err
		}
		_, err = svc.repo.CreateModule(ctx, end)
		return errors.Wrap(err, "creating break end")
	})
	if err != nil {
		return Module{}, err
	}

	svc.invalidate(ctx, experimentID)
	return mod, nil
}

func (svc *service) Update(ctx context.Context, mod Module, label string, settings Settings) (Module, error) {
	if p, ok := settings.(preparer); ok {
		p.prepare(mod.Settings)
	}
	if end, ok := settings.(*BreakEndSettings); ok {
		end.StartModuleID = mod.BreakStartID.Int
	}

	mod.Label = label
	mod.Settings = settings
	mod.UpdatedAt = time.Now().UTC()
	if err := svc.encode(&mod); err != nil {
		return Module{}, err
	}
	mod, err := svc.repo.UpdateModule(ctx, mod)
	if err != nil {
		return Module{}, errors.Wrap(err, "updating module")
	}
	mod.Settings = settings

	svc.invalidate(ctx, mod.ExperimentID)
	return mod, nil
}

func (svc *service) Delete(ctx context.Context, mod Module) error {
	err := svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		ids := []int{mod.ID}
		switch mod.Kind {
		case BreakEnd:
			if mod.BreakStartID.Valid {
				ids = append(ids, mod.BreakStartID.Int)
			}
		case BreakStart:
			mods, err := svc.repo.QueryModules(ctx, mod.ExperimentID)
			if err != nil {
				return errors.Wrap(err, "querying modules")
			}
			for _, m := range mods {
				if m.Kind == BreakEnd && m.BreakStartID.Valid && m.BreakStartID.Int == mod.ID {
					ids = append(ids, m.ID)
				}
			}
		}

		hasData, err := svc.repo.HasData(ctx, ids...)
		if err != nil {
			return errors.Wrap(err, "checking module data")
		}
		if hasData {
			return core.NewFieldError("module", hasDataText)
		}
		return errors.Wrap(svc.repo.DeleteModulesByID(ctx, ids...), "deleting modules")
	})
	if err != nil {
		return err
	}

	svc.invalidate(ctx, mod.ExperimentID)
	return nil
}

func (svc *service) Reorder(ctx context.Context, experimentID int, order map[int]int) error {
	err := svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := svc.repo.LockExperiment(ctx, experimentID); err != nil {
			return errors.Wrap(err, "locking experiment")
		}
		mods, err := svc.repo.QueryModules(ctx, experimentID)
		if err != nil {
			return errors.Wrap(err, "querying modules")
		}
		if err = CheckOrder(mods, order); err != nil {
			return err
		}
		return errors.Wrap(svc.repo.UpdateSortOrders(ctx, order), "updating sort orders")
	})
	if err != nil {
		return err
	}

	svc.invalidate(ctx, experimentID)
	return nil
}
