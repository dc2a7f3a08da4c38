package client

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/experiment"
	"github.com/flare-portal/flare/core/module"
	"github.com/flare-portal/flare/core/participant"
	"github.com/flare-portal/flare/core/siteconfig"
	"github.com/flare-portal/flare/core/user"
	"github.com/flare-portal/flare/core/voucher"
)

type fixture struct {
	svc          Service
	cache        *core.CacheMock
	expRepo      *experiment.RepositoryMock
	participants participant.Service
	experiments  experiment.Service
	modules      module.Service
	vouchers     voucher.Service
	siteConfig   siteconfig.Service
	exp          experiment.Experiment
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	tx := core.NewTransactorMock()
	cache := core.NewCacheMock()
	logger := new(core.LoggerMock)

	f := fixture{
		cache:        cache,
		expRepo:      experiment.NewRepositoryMock(),
		participants: participant.NewService(participant.NewRepositoryMock()),
		modules:      module.NewService(module.NewRepositoryMock(), module.NewDefaultRegistry(), tx, cache),
		vouchers:     voucher.NewService(voucher.NewRepositoryMock(), tx),
		siteConfig:   siteconfig.NewService(siteconfig.NewRepositoryMock()),
	}
	f.experiments = experiment.NewService(f.expRepo, experiment.NewAssetStoreMock(), cache, logger)
	f.svc = NewService(Deps{
		Participants: f.participants,
		Experiments:  f.experiments,
		Modules:      f.modules,
		Vouchers:     f.vouchers,
		SiteConfig:   f.siteConfig,
		Cache:        cache,
		Logger:       logger,
	})

	ei := experiment.NewExperimentInput()
	ei.Name, ei.Code, ei.TrialLength = "Fear", "FEAR1", 4
	exp, err := f.experiments.Create(ctx, 1, user.User{ID: "owner"}, ei)
	require.NoError(t, err)
	f.exp = exp
	return f
}

func (f fixture) participant(t *testing.T, pid string) participant.Participant {
	t.Helper()
	p, err := f.participants.Create(context.Background(), f.exp.ID, participant.NewParticipant{ParticipantID: pid})
	require.NoError(t, err)
	return p
}

func fieldError(t *testing.T, err error) core.FieldError {
	t.Helper()
	vErr, ok := errors.Cause(err).(*core.ValidationError)
	require.True(t, ok, "expected a *core.ValidationError, got %v", err)
	require.Len(t, vErr.Fields, 1)
	return vErr.Fields[0]
}

func TestService_Configuration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.siteConfig.Update(ctx, siteconfig.UpdateSiteConfiguration{ParticipantTermsAndConditions: strPtr("Terms")})
	require.NoError(t, err)
	_, err = f.experiments.UploadAsset(ctx, f.exp, experiment.AssetUpload{Name: experiment.AssetCSA, Filename: "csa.png", Body: strings.NewReader("png")})
	require.NoError(t, err)
	fc, err := f.modules.Create(ctx, f.exp.ID, module.FearConditioning, "", &module.FearConditioningSettings{Phase: module.PhaseHabituation})
	require.NoError(t, err)
	text, err := f.modules.Create(ctx, f.exp.ID, module.Text, "", &module.TextSettings{Heading: "Welcome"})
	require.NoError(t, err)
	require.NoError(t, f.modules.Reorder(ctx, f.exp.ID, map[int]int{fc.ID: 1, text.ID: 0}))
	f.participant(t, "Flare.ABCDEF")

	_, err = f.svc.Configuration(ctx, "nobody")
	assert.Equal(t, "participant", fieldError(t, err).Field)

	conf, err := f.svc.Configuration(ctx, " Flare.ABCDEF ")
	require.NoError(t, err)
	assert.False(t, conf.ParticipantStartedAt.Valid, "the first fetch starts the participant")
	assert.Equal(t, "Terms", conf.Config.TermsAndConditions)
	assert.Equal(t, f.exp.ID, conf.Experiment.ID)
	assert.Equal(t, experiment.DefaultAnchorLabelRight, conf.Experiment.RatingScaleAnchorLabelRight)
	assert.True(t, conf.Experiment.CSA.Valid)
	assert.False(t, conf.Experiment.US.Valid)
	assert.False(t, conf.Experiment.ContactEmail.Valid)
	assert.False(t, conf.Experiment.Reimbursements)

	var mods []struct {
		ID     int                    `json:"id"`
		Type   string                 `json:"type"`
		Config map[string]interface{} `json:"config"`
	}
	require.NoError(t, json.Unmarshal(conf.Modules, &mods))
	require.Len(t, mods, 2)
	assert.Equal(t, text.ID, mods[0].ID)
	assert.Equal(t, "TEXT", mods[0].Type)
	assert.Equal(t, "Welcome", mods[0].Config["heading"])
	assert.Equal(t, "FEAR_CONDITIONING", mods[1].Type)
	assert.True(t, f.cache.Has(core.ExperimentConfigCacheKey(f.exp.ID)))

	p, err := f.participants.Resolve(ctx, "Flare.ABCDEF")
	require.NoError(t, err)
	assert.True(t, p.IsStarted())

	conf, err = f.svc.Configuration(ctx, "Flare.ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, p.StartedAt, conf.ParticipantStartedAt)

	// module changes invalidate the cached configuration
	_, err = f.modules.Create(ctx, f.exp.ID, module.Web, "", &module.WebSettings{URL: "https://example.com"})
	require.NoError(t, err)
	assert.False(t, f.cache.Has(core.ExperimentConfigCacheKey(f.exp.ID)))
	conf, err = f.svc.Configuration(ctx, "Flare.ABCDEF")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(conf.Modules, &mods))
	assert.Len(t, mods, 3)
}

func TestService_ConfigurationContactEmail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ei := f.exp.Input()
	ei.ContactEmail = "lab@example.com"
	exp, err := f.experiments.Update(ctx, f.exp, ei)
	require.NoError(t, err)
	require.Equal(t, "lab@example.com", exp.ContactEmail)
	f.participant(t, "p1")

	conf, err := f.svc.Configuration(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, null.StringFrom("lab@example.com"), conf.Experiment.ContactEmail, "the experiment's contact, not its owner's email")
}

func strPtr(s string) *string { return &s }

func TestService_SubmitTermsTrack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mod, err := f.modules.Create(ctx, f.exp.ID, module.Text, "", &module.TextSettings{Heading: "Hi"})
	require.NoError(t, err)
	f.participant(t, "p1")

	_, err = f.svc.Submit(ctx, "p1")
	assert.Equal(t, "This participant has not started an experiment.", fieldError(t, err).Error)

	_, err = f.svc.Configuration(ctx, "p1")
	require.NoError(t, err)

	terms, err := f.svc.AgreeToTerms(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, TermsStatus{Participant: "p1", AgreedToTermsAndConditions: true}, terms)

	_, err = f.svc.Track(ctx, TrackingRequest{Participant: "p1", Module: null.IntFrom(999)})
	assert.Equal(t, invalidModuleText, fieldError(t, err).Error)

	tracked, err := f.svc.Track(ctx, TrackingRequest{Participant: "p1", Module: null.IntFrom(mod.ID), TrialIndex: null.IntFrom(2)})
	require.NoError(t, err)
	assert.Equal(t, TrackingStatus{Participant: "p1", CurrentModule: null.IntFrom(mod.ID), CurrentTrial: null.IntFrom(2)}, tracked)

	status, err := f.svc.Submit(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, status.ParticipantStartedAt.Valid)
	assert.True(t, status.ParticipantFinishedAt.Valid)

	again, err := f.svc.Submit(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, status, again)
}

func TestService_ClaimVoucher(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	finish := func(pid string) {
		f.participant(t, pid)
		_, err := f.svc.Configuration(ctx, pid)
		require.NoError(t, err)
		_, err = f.svc.Submit(ctx, pid)
		require.NoError(t, err)
	}
	finish("p1")
	finish("p2")
	finish("p3")
	f.participant(t, "idle")

	_, err := f.svc.ClaimVoucher(ctx, "idle")
	assert.Equal(t, notFinishedText, fieldError(t, err).Error)

	_, err = f.svc.ClaimVoucher(ctx, "p1")
	claimErr, ok := err.(*ClaimError)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, CodePoolUnassigned, claimErr.ErrorCode)
	assert.Equal(t, poolUnassignedText, claimErr.ErrorMessage)

	pool, err := f.vouchers.CreatePool(ctx, user.User{ID: "owner"}, voucher.PoolInput{
		Name: "Gift cards", SuccessMessage: "Enjoy", EmptyPoolMessage: "All gone",
	})
	require.NoError(t, err)
	_, err = f.vouchers.Upload(ctx, pool, strings.NewReader("code\nA1\nB2\n"))
	require.NoError(t, err)
	f.expRepo.Pools[pool.ID] = true
	ei := f.exp.Input()
	ei.VoucherPoolID = null.IntFrom(pool.ID)
	f.exp, err = f.experiments.Update(ctx, f.exp, ei)
	require.NoError(t, err)

	status, err := f.svc.ClaimVoucher(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, VoucherStatus{Status: StatusSuccess, Voucher: "A1", SuccessMessage: "Enjoy"}, status)

	_, err = f.svc.ClaimVoucher(ctx, "p1")
	claimErr, ok = err.(*ClaimError)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, CodeAlreadyClaimed, claimErr.ErrorCode)

	status, err = f.svc.ClaimVoucher(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, "B2", status.Voucher)

	status, err = f.svc.ClaimVoucher(ctx, "p3")
	require.NoError(t, err)
	assert.Equal(t, VoucherStatus{Status: StatusError, ErrorCode: CodePoolEmpty, ErrorMessage: "All gone"}, status)

	conf, err := f.svc.Configuration(ctx, "p3")
	require.NoError(t, err)
	assert.True(t, conf.Experiment.Reimbursements)
}
