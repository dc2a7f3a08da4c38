package participant

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
)

const (
	field        = "participant"
	suffixLen    = 6
	suffixChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxBatchRuns = 10
)

var (
	// errors
	ErrNotFound      = errors.New("participant not found")
	ErrAlreadyExists = errors.New("participant already exists")

	invalidText        = "This participant identifier is not correct, please contact your research assistant."
	existsText         = "A participant with this identifier already exists."
	notStartedText     = "This participant has not started an experiment."
	alreadyStartedText = "This participant has already started the experiment."
	finishedText       = "This participant has already finished the experiment."
	lockedText         = "This participant can no longer take part in the experiment."
)

type (
	Repository interface {
		// CreateParticipants returns ErrAlreadyExists when a participant id is taken.
		CreateParticipants(ctx context.Context, ps ...Participant) ([]Participant, error)
		QueryParticipants(ctx context.Context, experimentID int, orderings ...core.DBOrdering) ([]Participant, error)
		GetParticipantByID(ctx context.Context, id int) (Participant, error)
		GetParticipantByParticipantID(ctx context.Context, participantID string) (Participant, error)
		// ExistingParticipantIDs returns those of participantIDs already in use.
		ExistingParticipantIDs(ctx context.Context, participantIDs ...string) ([]string, error)
		UpdateParticipant(ctx context.Context, p Participant) (Participant, error)
		DeleteParticipantsByID(ctx context.Context, experimentID int, ids ...int) error
	}

	Service interface {
		Create(ctx context.Context, experimentID int, np NewParticipant) (Participant, error)
		CreateBatch(ctx context.Context, experimentID int, prefix string, count int) ([]Participant, error)
		Query(ctx context.Context, experimentID int, orderings []core.DBOrdering) ([]Participant, error)
		GetByID(ctx context.Context, id int) (Participant, error)
		// Resolve finds a participant by its participant id, answering with a field error when unknown.
		Resolve(ctx context.Context, participantID string) (Participant, error)
		Delete(ctx context.Context, experimentID int, ids ...int) error

		Start(ctx context.Context, p Participant) (Participant, error)
		Finish(ctx context.Context, p Participant) (Participant, error)
		AgreeToTerms(ctx context.Context, p Participant) (Participant, error)
		Track(ctx context.Context, p Participant, tr Tracking) (Participant, error)
		Lock(ctx context.Context, p Participant, reason string) (Participant, error)
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

var NowFunc = time.Now // mockable

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func now() time.Time {
	return NowFunc().UTC()
}

func (svc *service) Create(ctx context.Context, experimentID int, np NewParticipant) (Participant, error) {
	t := now()
	ps, err := svc.repo.CreateParticipants(ctx, Participant{
		ParticipantID: np.ParticipantID,
		ExperimentID:  experimentID,
		CreatedAt:     t,
		UpdatedAt:     t,
	})
	if err != nil {
		if errors.Cause(err) == ErrAlreadyExists {
			return Participant{}, core.NewFieldError("participant_id", existsText)
		}
		return Participant{}, errors.Wrap(err, "creating participant")
	}
	return ps[0], nil
}

func (svc *service) CreateBatch(ctx context.Context, experimentID int, prefix string, count int) ([]Participant, error) {
	ids := make(map[string]bool, count)
	for run := 0; len(ids) < count; run++ {
		if run == maxBatchRuns {
			return nil, errors.New("could not generate unique participant ids")
		}

		candidates := make([]string, 0, count-len(ids))
		for len(candidates) < count-len(ids) {
			suffix, err := randomSuffix()
			if err != nil {
				return nil, errors.Wrap(err, "generating participant id")
			}
			pid := suffix
			if prefix != "" {
				pid = prefix + "." + suffix
			}
			if !ids[pid] {
				candidates = append(candidates, pid)
			}
		}

		existing, err := svc.repo.ExistingParticipantIDs(ctx, candidates...)
		if err != nil {
			return nil, errors.Wrap(err, "checking participant ids")
		}
		taken := make(map[string]bool, len(existing))
		for _, pid := range existing {
			taken[pid] = true
		}
		for _, pid := range candidates {
			if !taken[pid] {
				ids[pid] = true
			}
		}
	}

	t := now()
	ps := make([]Participant, 0, count)
	for pid := range ids {
		ps = append(ps, Participant{ParticipantID: pid, ExperimentID: experimentID, CreatedAt: t, UpdatedAt: t})
	}
	created, err := svc.repo.CreateParticipants(ctx, ps...)
	return created, errors.Wrap(err, "creating participants")
}

func randomSuffix() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(suffixChars)))
	for i := 0; i < suffixLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(suffixChars[n.Int64()])
	}
	return b.String(), nil
}

func (svc *service) Query(ctx context.Context, experimentID int, orderings []core.DBOrdering) ([]Participant, error) {
	return svc.repo.QueryParticipants(ctx, experimentID, orderings...)
}

func (svc *service) GetByID(ctx context.Context, id int) (Participant, error) {
	return svc.repo.GetParticipantByID(ctx, id)
}

func (svc *service) Resolve(ctx context.Context, participantID string) (Participant, error) {
	p, err := svc.repo.GetParticipantByParticipantID(ctx, core.CleanString(participantID))
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Participant{}, core.NewFieldError(field, invalidText)
		}
		return Participant{}, errors.Wrap(err, "finding participant")
	}
	return p, nil
}

func (svc *service) Delete(ctx context.Context, experimentID int, ids ...int) error {
	return svc.repo.DeleteParticipantsByID(ctx, experimentID, ids...)
}

func (svc *service) save(ctx context.Context, p Participant) (Participant, error) {
	p.UpdatedAt = now()
	p, err := svc.repo.UpdateParticipant(ctx, p)
	return p, errors.Wrap(err, "updating participant")
}

// Start moves a participant from not started to started.
func (svc *service) Start(ctx context.Context, p Participant) (Participant, error) {
	if p.IsLocked() {
		return Participant{}, core.NewFieldError(field, lockedText)
	}
	if p.IsStarted() {
		return Participant{}, core.NewFieldError(field, alreadyStartedText)
	}
	p.StartedAt = null.TimeFrom(now())
	return svc.save(ctx, p)
}

// Finish marks a started participant as finished. Finishing twice keeps the first time.
func (svc *service) Finish(ctx context.Context, p Participant) (Participant, error) {
	if !p.IsStarted() {
		return Participant{}, core.NewFieldError(field, notStartedText)
	}
	if p.IsFinished() {
		return p, nil
	}
	p.FinishedAt = null.TimeFrom(now())
	return svc.save(ctx, p)
}

func (svc *service) AgreeToTerms(ctx context.Context, p Participant) (Participant, error) {
	if p.IsLocked() {
		return Participant{}, core.NewFieldError(field, lockedText)
	}
	if p.AgreedToTermsAndConditions {
		return p, nil
	}
	p.AgreedToTermsAndConditions = true
	return svc.save(ctx, p)
}

// Track records the participant's position. A non-empty rejection reason locks the participant;
// a locked participant keeps its first reason.
func (svc *service) Track(ctx context.Context, p Participant, tr Tracking) (Participant, error) {
	if !p.IsStarted() {
		return Participant{}, core.NewFieldError(field, notStartedText)
	}
	p.CurrentModuleID = tr.ModuleID
	p.CurrentTrial = tr.TrialIndex
	if reason := core.CleanString(tr.RejectionReason); reason != "" && !p.IsLocked() {
		p.RejectionReason = reason
	}
	return svc.save(ctx, p)
}

func (svc *service) Lock(ctx context.Context, p Participant, reason string) (Participant, error) {
	if p.IsLocked() {
		return p, nil
	}
	p.RejectionReason = reason
	return svc.save(ctx, p)
}
