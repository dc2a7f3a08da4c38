package sqlxrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/participant"
)

const participantColumns = `id, participant_id, experiment_id, agreed_to_terms_and_conditions, started_at, finished_at,
	current_module_id, current_trial, rejection_reason, created_at, updated_at`

var participantOrderings = map[string]string{
	"id":             "id",
	"participant_id": "participant_id",
	"started_at":     "started_at",
	"finished_at":    "finished_at",
	"created_at":     "created_at",
}

type participantRow struct {
	ID                         int       `db:"id"`
	ParticipantID              string    `db:"participant_id"`
	ExperimentID               int       `db:"experiment_id"`
	AgreedToTermsAndConditions bool      `db:"agreed_to_terms_and_conditions"`
	StartedAt                  null.Time `db:"started_at"`
	FinishedAt                 null.Time `db:"finished_at"`
	CurrentModuleID            null.Int  `db:"current_module_id"`
	CurrentTrial               null.Int  `db:"current_trial"`
	RejectionReason            string    `db:"rejection_reason"`
	CreatedAt                  time.Time `db:"created_at"`
	UpdatedAt                  time.Time `db:"updated_at"`
}

func (row participantRow) participant() participant.Participant {
	return participant.Participant{
		ID:                         row.ID,
		ParticipantID:              row.ParticipantID,
		ExperimentID:               row.ExperimentID,
		AgreedToTermsAndConditions: row.AgreedToTermsAndConditions,
		StartedAt:                  utcNullTime(row.StartedAt),
		FinishedAt:                 utcNullTime(row.FinishedAt),
		CurrentModuleID:            row.CurrentModuleID,
		CurrentTrial:               row.CurrentTrial,
		RejectionReason:            row.RejectionReason,
		CreatedAt:                  row.CreatedAt.UTC(),
		UpdatedAt:                  row.UpdatedAt.UTC(),
	}
}

type participantRepository struct {
	repository
}

var _ participant.Repository = (*participantRepository)(nil)

func NewParticipantRepository(db core.DBExecutor) participant.Repository {
	return &participantRepository{repository{db: db}}
}

func (repo *participantRepository) CreateParticipants(ctx context.Context, ps ...participant.Participant) ([]participant.Participant, error) {
	created := make([]participant.Participant, 0, len(ps))
	for _, p := range ps {
		err := repo.get(ctx, &p.ID, `INSERT INTO participants (participant_id, experiment_id, agreed_to_terms_and_conditions,
			started_at, finished_at, current_module_id, current_trial, rejection_reason, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			p.ParticipantID, p.ExperimentID, p.AgreedToTermsAndConditions,
			utcNullTime(p.StartedAt), utcNullTime(p.FinishedAt), p.CurrentModuleID, p.CurrentTrial, p.RejectionReason,
			p.CreatedAt.UTC(), p.UpdatedAt.UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return nil, participant.ErrAlreadyExists
			}
			return nil, errors.Wrap(err, "inserting participant")
		}
		created = append(created, p)
	}
	return created, nil
}

func (repo *participantRepository) QueryParticipants(ctx context.Context, experimentID int, orderings ...core.DBOrdering) ([]participant.Participant, error) {
	q := "SELECT " + participantColumns + " FROM participants WHERE experiment_id = ?" +
		orderBy(orderings, participantOrderings, "id ASC")
	var rows []participantRow
	if err := repo.selectAll(ctx, &rows, q, experimentID); err != nil {
		return nil, errors.Wrap(err, "querying participants")
	}
	ps := make([]participant.Participant, 0, len(rows))
	for _, row := range rows {
		ps = append(ps, row.participant())
	}
	return ps, nil
}

func (repo *participantRepository) getParticipant(ctx context.Context, where string, arg interface{}) (participant.Participant, error) {
	var row participantRow
	if err := repo.get(ctx, &row, "SELECT "+participantColumns+" FROM participants WHERE "+where, arg); err != nil {
		return participant.Participant{}, trapNoRowsErr(err, participant.ErrNotFound, "finding participant")
	}
	return row.participant(), nil
}

func (repo *participantRepository) GetParticipantByID(ctx context.Context, id int) (participant.Participant, error) {
	return repo.getParticipant(ctx, "id = ?", id)
}

func (repo *participantRepository) GetParticipantByParticipantID(ctx context.Context, participantID string) (participant.Participant, error) {
	return repo.getParticipant(ctx, "participant_id = ?", participantID)
}

func (repo *participantRepository) ExistingParticipantIDs(ctx context.Context, participantIDs ...string) ([]string, error) {
	existing := make([]string, 0)
	if len(participantIDs) == 0 {
		return existing, nil
	}
	q, args := in("SELECT participant_id FROM participants WHERE participant_id IN (?) ORDER BY participant_id", participantIDs)
	if err := repo.selectAll(ctx, &existing, q, args...); err != nil {
		return nil, errors.Wrap(err, "checking participant ids")
	}
	return existing, nil
}

func (repo *participantRepository) UpdateParticipant(ctx context.Context, p participant.Participant) (participant.Participant, error) {
	res, err := repo.exec(ctx, `UPDATE participants SET agreed_to_terms_and_conditions = ?, started_at = ?, finished_at = ?,
		current_module_id = ?, current_trial = ?, rejection_reason = ?, updated_at = ? WHERE id = ?`,
		p.AgreedToTermsAndConditions, utcNullTime(p.StartedAt), utcNullTime(p.FinishedAt),
		p.CurrentModuleID, p.CurrentTrial, p.RejectionReason, p.UpdatedAt.UTC(), p.ID)
	if err != nil {
		return participant.Participant{}, errors.Wrap(err, "updating participant")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return participant.Participant{}, participant.ErrNotFound
	}
	return p, nil
}

func (repo *participantRepository) DeleteParticipantsByID(ctx context.Context, experimentID int, ids ...int) error {
	if len(ids) == 0 {
		return nil
	}
	q, args := in("DELETE FROM participants WHERE experiment_id = ? AND id IN (?)", experimentID, ids)
	_, err := repo.exec(ctx, q, args...)
	return errors.Wrap(err, "deleting participants")
}
