// Package siteconfig holds the portal wide settings: contact email, terms and policies.
package siteconfig

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
)

const DefaultAdminContactEmail = "flare@kcl.ac.uk"

var ErrNotFound = errors.New("site configuration not found")

type SiteConfiguration struct {
	AdminContactEmail             string    `json:"admin_contact_email"`
	ParticipantTermsAndConditions string    `json:"participant_terms_and_conditions"`
	ResearcherTermsAndConditions  string    `json:"researcher_terms_and_conditions"`
	ResearcherPrivacyPolicy       string    `json:"researcher_privacy_policy"`
	ResearcherTermsUpdatedAt      null.Time `json:"researcher_terms_updated_at"` // UTC
	UpdatedAt                     time.Time `json:"updated_at"`                  // UTC
}

// Default is the configuration in use until an admin saves one.
func Default() SiteConfiguration {
	return SiteConfiguration{AdminContactEmail: DefaultAdminContactEmail}
}

type UpdateSiteConfiguration struct {
	AdminContactEmail             *string `json:"admin_contact_email" validate:"omitempty,email,max=254"`
	ParticipantTermsAndConditions *string `json:"participant_terms_and_conditions"`
	ResearcherTermsAndConditions  *string `json:"researcher_terms_and_conditions"`
	ResearcherPrivacyPolicy       *string `json:"researcher_privacy_policy"`
}

func (u *UpdateSiteConfiguration) Validate(validate *validator.Validate) error {
	for _, s := range []*string{u.AdminContactEmail, u.ParticipantTermsAndConditions, u.ResearcherTermsAndConditions, u.ResearcherPrivacyPolicy} {
		if s != nil {
			*s = core.CleanString(*s)
		}
	}
	return validate.Struct(u)
}

type (
	Repository interface {
		// GetSiteConfig returns ErrNotFound until the configuration is saved once.
		GetSiteConfig(ctx context.Context) (SiteConfiguration, error)
		SaveSiteConfig(ctx context.Context, conf SiteConfiguration) error
	}

	Service interface {
		Get(ctx context.Context) (SiteConfiguration, error)
		// Update saves the changed settings. Changing the researcher terms bumps ResearcherTermsUpdatedAt,
		// asking every researcher to agree to them again.
		Update(ctx context.Context, u UpdateSiteConfiguration) (SiteConfiguration, error)
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

func (svc *service) Get(ctx context.Context) (SiteConfiguration, error) {
	conf, err := svc.repo.GetSiteConfig(ctx)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Default(), nil
		}
		return SiteConfiguration{}, errors.Wrap(err, "getting site configuration")
	}
	return conf, nil
}

func (svc *service) Update(ctx context.Context, u UpdateSiteConfiguration) (SiteConfiguration, error) {
	conf, err := svc.Get(ctx)
	if err != nil {
		return SiteConfiguration{}, err
	}

	now := NowFunc().UTC()
	if u.AdminContactEmail != nil && *u.AdminContactEmail != "" {
		conf.AdminContactEmail = *u.AdminContactEmail
	}
	if u.ParticipantTermsAndConditions != nil {
		conf.ParticipantTermsAndConditions = *u.ParticipantTermsAndConditions
	}
	if u.ResearcherTermsAndConditions != nil && *u.ResearcherTermsAndConditions != conf.ResearcherTermsAndConditions {
		conf.ResearcherTermsAndConditions = *u.ResearcherTermsAndConditions
		conf.ResearcherTermsUpdatedAt = null.TimeFrom(now)
	}
	if u.ResearcherPrivacyPolicy != nil {
		conf.ResearcherPrivacyPolicy = *u.ResearcherPrivacyPolicy
	}
	conf.UpdatedAt = now

	if err = svc.repo.SaveSiteConfig(ctx, conf); err != nil {
		return SiteConfiguration{}, errors.Wrap(err, "saving site configuration")
	}
	return conf, nil
}
