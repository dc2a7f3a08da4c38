package participant

import (
	"context"
	"sort"

	"github.com/flare-portal/flare/core"
)

// RepositoryMock is an in-memory Repository.
type RepositoryMock struct {
	pk    int
	table map[int]Participant
}

func NewRepositoryMock() *RepositoryMock {
	return &RepositoryMock{table: make(map[int]Participant)}
}

func (r *RepositoryMock) CreateParticipants(_ context.Context, ps ...Participant) ([]Participant, error) {
	for _, p := range ps {
		if existing, _ := r.ExistingParticipantIDs(context.Background(), p.ParticipantID); len(existing) > 0 {
			return nil, ErrAlreadyExists
		}
	}
	created := make([]Participant, 0, len(ps))
	for _, p := range ps {
		r.pk++
		p.ID = r.pk
		r.table[p.ID] = p
		created = append(created, p)
	}
	return created, nil
}

func (r *RepositoryMock) QueryParticipants(_ context.Context, experimentID int, _ ...core.DBOrdering) ([]Participant, error) {
	var ps []Participant
	for _, p := range r.table {
		if p.ExperimentID == experimentID {
			ps = append(ps, p)
		}
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
	return ps, nil
}

func (r *RepositoryMock) GetParticipantByID(_ context.Context, id int) (Participant, error) {
	if p, ok := r.table[id]; ok {
		return p, nil
	}
	return Participant{}, ErrNotFound
}

func (r *RepositoryMock) GetParticipantByParticipantID(_ context.Context, participantID string) (Participant, error) {
	for _, p := range r.table {
		if p.ParticipantID == participantID {
			return p, nil
		}
	}
	return Participant{}, ErrNotFound
}

func (r *RepositoryMock) ExistingParticipantIDs(_ context.Context, participantIDs ...string) ([]string, error) {
	var existing []string
	for _, pid := range participantIDs {
		for _, p := range r.table {
			if p.ParticipantID == pid {
				existing = append(existing, pid)
			}
		}
	}
	return existing, nil
}

func (r *RepositoryMock) UpdateParticipant(_ context.Context, p Participant) (Participant, error) {
	if _, ok := r.table[p.ID]; !ok {
		return Participant{}, ErrNotFound
	}
	r.table[p.ID] = p
	return p, nil
}

func (r *RepositoryMock) DeleteParticipantsByID(_ context.Context, experimentID int, ids ...int) error {
	for _, id := range ids {
		if p, ok := r.table[id]; ok && p.ExperimentID == experimentID {
			delete(r.table, id)
		}
	}
	return nil
}
