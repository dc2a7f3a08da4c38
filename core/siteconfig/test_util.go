package siteconfig

import "context"

// RepositoryMock keeps the configuration in memory.
type RepositoryMock struct {
	conf  *SiteConfiguration
	Saves int
}

func (r *RepositoryMock) GetSiteConfig(context.Context) (SiteConfiguration, error) {
	if r.conf == nil {
		return SiteConfiguration{}, ErrNotFound
	}
	return *r.conf, nil
}

func (r *RepositoryMock) SaveSiteConfig(_ context.Context, conf SiteConfiguration) error {
	r.conf = &conf
	r.Saves++
	return nil
}

func NewRepositoryMock() *RepositoryMock {
	return new(RepositoryMock)
}
