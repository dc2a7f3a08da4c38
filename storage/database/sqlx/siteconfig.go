package sqlxrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/siteconfig"
)

// the site configuration is the single row with id 1
type siteConfigRow struct {
	AdminContactEmail             string    `db:"admin_contact_email"`
	ParticipantTermsAndConditions string    `db:"participant_terms_and_conditions"`
	ResearcherTermsAndConditions  string    `db:"researcher_terms_and_conditions"`
	ResearcherPrivacyPolicy       string    `db:"researcher_privacy_policy"`
	ResearcherTermsUpdatedAt      null.Time `db:"researcher_terms_updated_at"`
	UpdatedAt                     time.Time `db:"updated_at"`
}

type siteConfigRepository struct {
	repository
}

var _ siteconfig.Repository = (*siteConfigRepository)(nil)

func NewSiteConfigRepository(db core.DBExecutor) siteconfig.Repository {
	return &siteConfigRepository{repository{db: db}}
}

func (repo *siteConfigRepository) GetSiteConfig(ctx context.Context) (siteconfig.SiteConfiguration, error) {
	var row siteConfigRow
	err := repo.get(ctx, &row, `SELECT admin_contact_email, participant_terms_and_conditions, researcher_terms_and_conditions,
		researcher_privacy_policy, researcher_terms_updated_at, updated_at FROM site_configuration WHERE id = 1`)
	if err != nil {
		return siteconfig.SiteConfiguration{}, trapNoRowsErr(err, siteconfig.ErrNotFound, "getting site configuration")
	}
	return siteconfig.SiteConfiguration{
		AdminContactEmail:             row.AdminContactEmail,
		ParticipantTermsAndConditions: row.ParticipantTermsAndConditions,
		ResearcherTermsAndConditions:  row.ResearcherTermsAndConditions,
		ResearcherPrivacyPolicy:       row.ResearcherPrivacyPolicy,
		ResearcherTermsUpdatedAt:      utcNullTime(row.ResearcherTermsUpdatedAt),
		UpdatedAt:                     row.UpdatedAt.UTC(),
	}, nil
}

func (repo *siteConfigRepository) SaveSiteConfig(ctx context.Context, conf siteconfig.SiteConfiguration) error {
	_, err := repo.exec(ctx, `INSERT INTO site_configuration (id, admin_contact_email, participant_terms_and_conditions,
		researcher_terms_and_conditions, researcher_privacy_policy, researcher_terms_updated_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET admin_contact_email = excluded.admin_contact_email,
		participant_terms_and_conditions = excluded.participant_terms_and_conditions,
		researcher_terms_and_conditions = excluded.researcher_terms_and_conditions,
		researcher_privacy_policy = excluded.researcher_privacy_policy,
		researcher_terms_updated_at = excluded.researcher_terms_updated_at,
		updated_at = excluded.updated_at`,
		conf.AdminContactEmail, conf.ParticipantTermsAndConditions, conf.ResearcherTermsAndConditions,
		conf.ResearcherPrivacyPolicy, utcNullTime(conf.ResearcherTermsUpdatedAt), conf.UpdatedAt.UTC())
	return errors.Wrap(err, "saving site configuration")
}
