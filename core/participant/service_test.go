package participant

import (
	"context"
	"regexp"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
)

func participantError(t *testing.T, err error) string {
	t.Helper()
	vErr, ok := errors.Cause(err).(*core.ValidationError)
	require.True(t, ok, "expected a *core.ValidationError, got %v", err)
	require.Len(t, vErr.Fields, 1)
	assert.Equal(t, field, vErr.Fields[0].Field)
	return vErr.Fields[0].Error
}

func TestService_StateMachine(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewRepositoryMock())

	p, err := svc.Create(ctx, 1, NewParticipant{ParticipantID: "Flare.ABCDEF"})
	require.NoError(t, err)
	assert.Equal(t, StateNotStarted, p.State())
	assert.Equal(t, notStartedText, participantError(t, p.CheckActive()))

	_, err = svc.Finish(ctx, p)
	assert.Equal(t, notStartedText, participantError(t, err))
	_, err = svc.Track(ctx, p, Tracking{})
	assert.Equal(t, notStartedText, participantError(t, err))

	p, err = svc.Start(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, StateStarted, p.State())
	assert.NoError(t, p.CheckActive())

	_, err = svc.Start(ctx, p)
	assert.Equal(t, alreadyStartedText, participantError(t, err))

	p, err = svc.AgreeToTerms(ctx, p)
	require.NoError(t, err)
	assert.True(t, p.AgreedToTermsAndConditions)

	p, err = svc.Finish(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, StateFinished, p.State())
	finishedAt := p.FinishedAt
	assert.Equal(t, finishedText, participantError(t, p.CheckActive()))

	p, err = svc.Finish(ctx, p)
	require.NoError(t, err, "finishing is idempotent")
	assert.Equal(t, finishedAt, p.FinishedAt)
}

func TestService_TrackAndLock(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewRepositoryMock())

	p, err := svc.Create(ctx, 1, NewParticipant{ParticipantID: "P1"})
	require.NoError(t, err)
	p, err = svc.Start(ctx, p)
	require.NoError(t, err)

	p, err = svc.Track(ctx, p, Tracking{ModuleID: null.IntFrom(3), TrialIndex: null.IntFrom(7)})
	require.NoError(t, err)
	assert.Equal(t, null.IntFrom(3), p.CurrentModuleID)
	assert.Equal(t, null.IntFrom(7), p.CurrentTrial)
	assert.False(t, p.IsLocked())

	p, err = svc.Track(ctx, p, Tracking{ModuleID: null.IntFrom(4), RejectionReason: " LEFT_TASK "})
	require.NoError(t, err)
	assert.Equal(t, "LEFT_TASK", p.RejectionReason)
	assert.Equal(t, lockedText, participantError(t, p.CheckActive()))

	p, err = svc.Track(ctx, p, Tracking{ModuleID: null.IntFrom(5), RejectionReason: "OTHER"})
	require.NoError(t, err)
	assert.Equal(t, "LEFT_TASK", p.RejectionReason, "the first reason is kept")
	assert.Equal(t, null.IntFrom(5), p.CurrentModuleID)

	p, err = svc.Lock(ctx, p, RejectionCriterion)
	require.NoError(t, err)
	assert.Equal(t, "LEFT_TASK", p.RejectionReason)

	_, err = svc.AgreeToTerms(ctx, p)
	assert.Equal(t, lockedText, participantError(t, err))

	fresh, err := svc.Create(ctx, 1, NewParticipant{ParticipantID: "P2"})
	require.NoError(t, err)
	fresh, err = svc.Lock(ctx, fresh, RejectionCriterion)
	require.NoError(t, err)
	_, err = svc.Start(ctx, fresh)
	assert.Equal(t, lockedText, participantError(t, err))
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewRepositoryMock())

	_, err := svc.Create(ctx, 1, NewParticipant{ParticipantID: "P1"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, 2, NewParticipant{ParticipantID: "P1"})
	vErr, ok := err.(*core.ValidationError)
	require.True(t, ok)
	assert.Equal(t, []core.FieldError{{Field: "participant_id", Error: existsText}}, vErr.Fields)

	_, err = svc.Resolve(ctx, "nope")
	assert.Equal(t, invalidText, participantError(t, err))

	p, err := svc.Resolve(ctx, " P1 ")
	require.NoError(t, err)
	assert.Equal(t, "P1", p.ParticipantID)
}

func TestService_CreateBatch(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewRepositoryMock())

	ps, err := svc.CreateBatch(ctx, 1, "Flare", 25)
	require.NoError(t, err)
	require.Len(t, ps, 25)

	pattern := regexp.MustCompile(`^Flare\.[A-Z0-9]{6}$`)
	seen := make(map[string]bool)
	for _, p := range ps {
		assert.Regexp(t, pattern, p.ParticipantID)
		assert.False(t, seen[p.ParticipantID])
		seen[p.ParticipantID] = true
		assert.Equal(t, 1, p.ExperimentID)
	}

	ps, err = svc.CreateBatch(ctx, 1, "", 2)
	require.NoError(t, err)
	for _, p := range ps {
		assert.Len(t, p.ParticipantID, suffixLen)
	}

	all, err := svc.Query(ctx, 1, nil)
	require.NoError(t, err)
	assert.Len(t, all, 27)

	require.NoError(t, svc.Delete(ctx, 1, all[0].ID, all[1].ID))
	all, _ = svc.Query(ctx, 1, nil)
	assert.Len(t, all, 25)
}
