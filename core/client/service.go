// Package client serves the participant client: configuration, terms, tracking, submission and voucher claims.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/experiment"
	"github.com/flare-portal/flare/core/module"
	"github.com/flare-portal/flare/core/participant"
	"github.com/flare-portal/flare/core/siteconfig"
	"github.com/flare-portal/flare/core/voucher"
)

var (
	invalidModuleText  = "Invalid module."
	notFinishedText    = "This participant has not finished the experiment."
	lockedText         = "This participant can no longer take part in the experiment."
	poolUnassignedText = "This experiment is not assigned a voucher pool"
	alreadyClaimedText = "This participant has already claimed a voucher."
)

type (
	Service interface {
		// Configuration starts the participant when needed and returns the configuration of its experiment.
		Configuration(ctx context.Context, participantID string) (Configuration, error)
		// Submit marks the participant as finished.
		Submit(ctx context.Context, participantID string) (SubmissionStatus, error)
		AgreeToTerms(ctx context.Context, participantID string) (TermsStatus, error)
		Track(ctx context.Context, tr TrackingRequest) (TrackingStatus, error)
		// ClaimVoucher returns a *ClaimError when the participant may not claim a voucher.
		ClaimVoucher(ctx context.Context, participantID string) (VoucherStatus, error)
	}

	service struct {
		participants participant.Service
		experiments  experiment.Service
		modules      module.Service
		vouchers     voucher.Service
		siteConfig   siteconfig.Service
		cache        core.Cache
		cacheTTL     time.Duration
		logger       core.Logger
	}
)

var _ Service = (*service)(nil)

// Deps groups the services the participant API is built on.
type Deps struct {
	Participants participant.Service
	Experiments  experiment.Service
	Modules      module.Service
	Vouchers     voucher.Service
	SiteConfig   siteconfig.Service
	Cache        core.Cache
	CacheTTL     time.Duration
	Logger       core.Logger
}

func NewService(deps Deps) Service {
	return &service{
		participants: deps.Participants,
		experiments:  deps.Experiments,
		modules:      deps.Modules,
		vouchers:     deps.Vouchers,
		siteConfig:   deps.SiteConfig,
		cache:        deps.Cache,
		cacheTTL:     deps.CacheTTL,
		logger:       deps.Logger,
	}
}

func (svc *service) Configuration(ctx context.Context, participantID string) (Configuration, error) {
	p, err := svc.participants.Resolve(ctx, participantID)
	if err != nil {
		return Configuration{}, err
	}

	startedAt := p.StartedAt
	if !p.IsStarted() {
		if p, err = svc.participants.Start(ctx, p); err != nil {
			return Configuration{}, err
		}
	}

	cached, err := svc.experimentConfig(ctx, p.ExperimentID)
	if err != nil {
		return Configuration{}, err
	}
	site, err := svc.siteConfig.Get(ctx)
	if err != nil {
		return Configuration{}, err
	}

	return Configuration{
		Experiment:            cached.Experiment,
		Config:                SiteConfig{TermsAndConditions: site.ParticipantTermsAndConditions},
		Modules:               cached.Modules,
		ParticipantStartedAt:  startedAt,
		ParticipantFinishedAt: p.FinishedAt,
	}, nil
}

// experimentConfig returns the participant independent part of the configuration, from the cache when possible.
func (svc *service) experimentConfig(ctx context.Context, experimentID int) (cachedConfig, error) {
	key := core.ExperimentConfigCacheKey(experimentID)

	var cached cachedConfig
	err := svc.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	} else if err != core.ErrCacheMiss {
		svc.logger.Warn(fmt.Sprintf("client.experimentConfig(%d): %v", experimentID, err), err)
	}

	exp, err := svc.experiments.GetByID(ctx, experimentID)
	if err != nil {
		return cachedConfig{}, errors.Wrap(err, "getting experiment")
	}
	urls, err := svc.experiments.AssetURLs(ctx, exp)
	if err != nil {
		return cachedConfig{}, errors.Wrap(err, "getting asset urls")
	}
	mods, err := svc.modules.Query(ctx, exp.ID)
	if err != nil {
		return cachedConfig{}, errors.Wrap(err, "querying modules")
	}
	configs := make([]module.ClientConfig, 0, len(mods))
	for _, m := range mods {
		configs = append(configs, m.Config())
	}
	if cached.Modules, err = json.Marshal(configs); err != nil {
		return cachedConfig{}, errors.Wrap(err, "encoding modules")
	}
	cached.Experiment = newExperimentConfig(exp, urls)

	if err = svc.cache.Set(ctx, key, cached, svc.cacheTTL); err != nil {
		svc.logger.Warn(fmt.Sprintf("client.experimentConfig(%d): caching: %v", experimentID, err), err)
	}
	return cached, nil
}

func newExperimentConfig(exp experiment.Experiment, urls map[string]string) ExperimentConfig {
	url := func(name string) null.String {
		u, ok := urls[name]
		return null.NewString(u, ok)
	}
	return ExperimentConfig{
		ID:                           exp.ID,
		Name:                         exp.Name,
		Description:                  exp.Description,
		ContactEmail:                 null.NewString(exp.ContactEmail, exp.ContactEmail != ""),
		TrialLength:                  exp.TrialLength,
		RatingDelay:                  exp.RatingDelay,
		ITIMinDelay:                  exp.ITIMinDelay,
		ITIMaxDelay:                  exp.ITIMaxDelay,
		MinimumVolume:                exp.MinimumVolume,
		RatingScaleAnchorLabelLeft:   exp.RatingScaleAnchorLabelLeft,
		RatingScaleAnchorLabelCenter: exp.RatingScaleAnchorLabelCenter,
		RatingScaleAnchorLabelRight:  exp.RatingScaleAnchorLabelRight,
		US:                           url(experiment.AssetUS),
		USFileVolume:                 exp.USFileVolume,
		CSA:                          url(experiment.AssetCSA),
		CSB:                          url(experiment.AssetCSB),
		ContextA:                     url(experiment.AssetContextA),
		ContextB:                     url(experiment.AssetContextB),
		ContextC:                     url(experiment.AssetContextC),
		GSA:                          url(experiment.AssetGSA),
		GSB:                          url(experiment.AssetGSB),
		GSC:                          url(experiment.AssetGSC),
		GSD:                          url(experiment.AssetGSD),
		Reimbursements:               exp.VoucherPoolID.Valid,
	}
}

func (svc *service) Submit(ctx context.Context, participantID string) (SubmissionStatus, error) {
	p, err := svc.participants.Resolve(ctx, participantID)
	if err != nil {
		return SubmissionStatus{}, err
	}
	if p, err = svc.participants.Finish(ctx, p); err != nil {
		return SubmissionStatus{}, err
	}
	return SubmissionStatus{ParticipantStartedAt: p.StartedAt, ParticipantFinishedAt: p.FinishedAt}, nil
}

func (svc *service) AgreeToTerms(ctx context.Context, participantID string) (TermsStatus, error) {
	p, err := svc.participants.Resolve(ctx, participantID)
	if err != nil {
		return TermsStatus{}, err
	}
	if p, err = svc.participants.AgreeToTerms(ctx, p); err != nil {
		return TermsStatus{}, err
	}
	return TermsStatus{Participant: p.ParticipantID, AgreedToTermsAndConditions: p.AgreedToTermsAndConditions}, nil
}

func (svc *service) Track(ctx context.Context, tr TrackingRequest) (TrackingStatus, error) {
	p, err := svc.participants.Resolve(ctx, tr.Participant)
	if err != nil {
		return TrackingStatus{}, err
	}
	if tr.Module.Valid {
		mod, err := svc.modules.GetByID(ctx, tr.Module.Int)
		if err != nil && errors.Cause(err) != module.ErrNotFound {
			return TrackingStatus{}, errors.Wrap(err, "getting module")
		}
		if err != nil || mod.ExperimentID != p.ExperimentID {
			return TrackingStatus{}, core.NewFieldError("module", invalidModuleText)
		}
	}

	p, err = svc.participants.Track(ctx, p, participant.Tracking{
		ModuleID:        tr.Module,
		TrialIndex:      tr.TrialIndex,
		RejectionReason: tr.RejectionReason,
	})
	if err != nil {
		return TrackingStatus{}, err
	}
	return TrackingStatus{
		Participant:     p.ParticipantID,
		CurrentModule:   p.CurrentModuleID,
		CurrentTrial:    p.CurrentTrial,
		RejectionReason: p.RejectionReason,
	}, nil
}

func (svc *service) ClaimVoucher(ctx context.Context, participantID string) (VoucherStatus, error) {
	p, err := svc.participants.Resolve(ctx, participantID)
	if err != nil {
		return VoucherStatus{}, err
	}
	switch {
	case p.IsLocked():
		return VoucherStatus{}, core.NewFieldError("participant", lockedText)
	case !p.IsFinished():
		return VoucherStatus{}, core.NewFieldError("participant", notFinishedText)
	}

	exp, err := svc.experiments.GetByID(ctx, p.ExperimentID)
	if err != nil {
		return VoucherStatus{}, errors.Wrap(err, "getting experiment")
	}
	if !exp.VoucherPoolID.Valid {
		return VoucherStatus{}, newClaimError(CodePoolUnassigned, poolUnassignedText)
	}
	pool, err := svc.vouchers.GetPool(ctx, exp.VoucherPoolID.Int)
	if err != nil {
		return VoucherStatus{}, errors.Wrap(err, "getting voucher pool")
	}

	v, err := svc.vouchers.Claim(ctx, pool, p.ID)
	switch errors.Cause(err) {
	case nil:
		return VoucherStatus{Status: StatusSuccess, Voucher: v.Code, SuccessMessage: pool.SuccessMessage}, nil
	case voucher.ErrPoolEmpty:
		return VoucherStatus{Status: StatusError, ErrorCode: CodePoolEmpty, ErrorMessage: pool.EmptyPoolMessage}, nil
	case voucher.ErrAlreadyClaimed:
		return VoucherStatus{}, newClaimError(CodeAlreadyClaimed, alreadyClaimedText)
	default:
		return VoucherStatus{}, errors.Wrap(err, "claiming voucher")
	}
}
