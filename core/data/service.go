package data

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/module"
	"github.com/flare-portal/flare/core/participant"
)

var (
	// errors
	ErrNotFound  = errors.New("data not found")
	ErrDuplicate = errors.New("duplicate data")

	invalidModuleText   = "Invalid module."
	notInExperimentText = "This participant is not part of the module's experiment."
)

type (
	Repository interface {
		// CreateData returns ErrDuplicate when a row with the same (kind, participant, module, item key) exists.
		CreateData(ctx context.Context, d Data) (Data, error)
		// QueryData returns rows ordered by participant id, module sortorder and trial.
		QueryData(ctx context.Context, filter QueryFilter) ([]Data, error)
		GetDataByID(ctx context.Context, id int) (Data, error)
		DeleteDataByID(ctx context.Context, experimentID int, ids ...int) error
	}

	Service interface {
		Registry() *Registry
		// Submit records a participant's data for a module, locking the participant when the data disqualifies it.
		Submit(ctx context.Context, entry Entry, sub Submission) (Data, error)
		Query(ctx context.Context, filter QueryFilter) ([]Data, error)
		GetByID(ctx context.Context, id int) (Data, error)
		Delete(ctx context.Context, experimentID int, ids ...int) error
	}

	service struct {
		repo         Repository
		registry     *Registry
		modules      module.Service
		participants participant.Service
		tx           core.Transactor
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, registry *Registry, modules module.Service, participants participant.Service, tx core.Transactor) Service {
	return &service{repo: repo, registry: registry, modules: modules, participants: participants, tx: tx}
}

func (svc *service) Registry() *Registry {
	return svc.registry
}

func (svc *service) Submit(ctx context.Context, entry Entry, sub Submission) (Data, error) {
	var d Data
	err := svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := svc.participants.Resolve(ctx, sub.Participant)
		if err != nil {
			return err
		}

		mod, err := svc.modules.GetByID(ctx, sub.Module)
		if err != nil {
			if errors.Cause(err) == module.ErrNotFound {
				return core.NewFieldError("module", invalidModuleText)
			}
			return errors.Wrap(err, "getting module")
		}
		if mod.Kind != entry.ModuleKind {
			return core.NewFieldError("module", invalidModuleText)
		}
		if mod.ExperimentID != p.ExperimentID {
			return core.NewFieldError("participant", notInExperimentText)
		}
		if err = p.CheckActive(); err != nil {
			return err
		}
		if c, ok := sub.Payload.(checker); ok {
			if err = c.Check(mod); err != nil {
				return err
			}
		}

		d = Data{
			Kind:          entry.ModuleKind,
			ExperimentID:  mod.ExperimentID,
			ParticipantID: p.ID,
			Participant:   p.ParticipantID,
			ModuleID:      mod.ID,
			ItemKey:       sub.Payload.ItemKey(),
			Payload:       sub.Payload,
			CreatedAt:     time.Now().UTC(),
		}
		if t, ok := sub.Payload.(trialed); ok {
			d.Trial = null.IntFrom(t.TrialIndex())
		}
		if d.RawPayload, err = json.Marshal(sub.Payload); err != nil {
			return errors.Wrapf(err, "encoding %s payload", entry.ModuleKind)
		}

		created, err := svc.repo.CreateData(ctx, d)
		if err != nil {
			if errors.Cause(err) == ErrDuplicate {
				return core.NewValidationError(err, core.FieldError{Field: "non_field_errors", Error: entry.UniqueText()})
			}
			return errors.Wrap(err, "creating data")
		}
		d.ID, d.CreatedAt = created.ID, created.CreatedAt

		if r, ok := sub.Payload.(rejecter); ok {
			if reason := r.Rejection(mod); reason != "" {
				if _, err = svc.participants.Lock(ctx, p, reason); err != nil {
					return errors.Wrap(err, "locking participant")
				}
			}
		}
		return nil
	})
	if err != nil {
		return Data{}, err
	}
	return d, nil
}

func (svc *service) decode(ds ...*Data) error {
	for _, d := range ds {
		entry, ok := svc.registry.Get(d.Kind)
		if !ok {
			return errors.Errorf("data %d: unknown kind %q", d.ID, d.Kind)
		}
		payload, err := entry.DecodePayload(d.RawPayload)
		if err != nil {
			return errors.Wrapf(err, "data %d", d.ID)
		}
		d.Payload = payload
	}
	return nil
}

func (svc *service) Query(ctx context.Context, filter QueryFilter) ([]Data, error) {
	ds, err := svc.repo.QueryData(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range ds {
		if err = svc.decode(&ds[i]); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func (svc *service) GetByID(ctx context.Context, id int) (Data, error) {
	d, err := svc.repo.GetDataByID(ctx, id)
	if err != nil {
		return Data{}, err
	}
	if err = svc.decode(&d); err != nil {
		return Data{}, err
	}
	return d, nil
}

func (svc *service) Delete(ctx context.Context, experimentID int, ids ...int) error {
	return svc.repo.DeleteDataByID(ctx, experimentID, ids...)
}
