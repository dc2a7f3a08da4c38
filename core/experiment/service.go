package experiment

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/user"
)

var (
	// errors
	ErrNotFound      = errors.New("experiment not found")
	ErrCodeExists    = errors.New("an experiment with this code already exists")
	ErrAssetNotFound = errors.New("asset not found")

	codeExistsText  = "Experiment with this Code already exists."
	invalidPoolText = "Select a valid voucher pool."
)

type (
	Repository interface {
		QueryExperiments(ctx context.Context, projectID int, orderings ...core.DBOrdering) ([]Experiment, error)
		GetExperimentByID(ctx context.Context, id int) (Experiment, error)
		// CreateExperiment and UpdateExperiment return ErrCodeExists when the code is used by another experiment.
		CreateExperiment(ctx context.Context, exp Experiment) (Experiment, error)
		UpdateExperiment(ctx context.Context, exp Experiment) (Experiment, error)
		DeleteExperiment(ctx context.Context, id int) error
		VoucherPoolExists(ctx context.Context, id int) (bool, error)

		QueryAssets(ctx context.Context, experimentID int) ([]Asset, error)
		UpsertAsset(ctx context.Context, a Asset) error
		// DeleteAsset returns ErrAssetNotFound when the experiment has no such asset.
		DeleteAsset(ctx context.Context, experimentID int, name string) error
	}

	// AssetStore keeps the stimulus files.
	AssetStore interface {
		Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
		// URL returns a time limited URL the participant client can download the object from.
		URL(ctx context.Context, key string) (string, error)
		Delete(ctx context.Context, key string) error
	}

	Service interface {
		Query(ctx context.Context, projectID int, orderings []core.DBOrdering) ([]Experiment, error)
		GetByID(ctx context.Context, id int) (Experiment, error)
		Create(ctx context.Context, projectID int, owner user.User, ei ExperimentInput) (Experiment, error)
		Update(ctx context.Context, exp Experiment, ei ExperimentInput) (Experiment, error)
		Delete(ctx context.Context, exp Experiment) error

		Assets(ctx context.Context, exp Experiment) ([]Asset, error)
		UploadAsset(ctx context.Context, exp Experiment, upload AssetUpload) (Asset, error)
		DeleteAsset(ctx context.Context, exp Experiment, name string) error
		// AssetURLs returns {asset name: download URL} for the uploaded assets of exp.
		AssetURLs(ctx context.Context, exp Experiment) (map[string]string, error)
	}

	// AssetUpload is a stimulus file sent by a researcher.
	AssetUpload struct {
		Name        string
		Filename    string
		ContentType string
		Size        int64
		Body        io.Reader
	}

	service struct {
		repo   Repository
		store  AssetStore
		cache  core.Cache
		logger core.Logger
	}
)

var _ Service = (*service)(nil)

var NowFunc = time.Now // mockable

func NewService(repo Repository, store AssetStore, cache core.Cache, logger core.Logger) Service {
	return &service{repo: repo, store: store, cache: cache, logger: logger}
}

func (svc *service) invalidate(ctx context.Context, experimentID int) {
	if err := svc.cache.Delete(ctx, core.ExperimentConfigCacheKey(experimentID)); err != nil {
		svc.logger.Warn(fmt.Sprintf("experiment.invalidate(%d): %v", experimentID, err), err)
	}
}

func (svc *service) Query(ctx context.Context, projectID int, orderings []core.DBOrdering) ([]Experiment, error) {
	return svc.repo.QueryExperiments(ctx, projectID, orderings...)
}

func (svc *service) GetByID(ctx context.Context, id int) (Experiment, error) {
	return svc.repo.GetExperimentByID(ctx, id)
}

func (svc *service) checkPool(ctx context.Context, ei ExperimentInput) error {
	if !ei.VoucherPoolID.Valid {
		return nil
	}
	ok, err := svc.repo.VoucherPoolExists(ctx, ei.VoucherPoolID.Int)
	if err != nil {
		return errors.Wrap(err, "checking voucher pool")
	}
	if !ok {
		return core.NewFieldError("voucher_pool", invalidPoolText)
	}
	return nil
}

func apply(exp *Experiment, ei ExperimentInput) {
	exp.Name = ei.Name
	exp.Description = ei.Description
	exp.Code = ei.Code
	exp.TrialLength = ei.TrialLength
	exp.RatingDelay = ei.RatingDelay
	exp.ITIMinDelay = ei.ITIMinDelay
	exp.ITIMaxDelay = ei.ITIMaxDelay
	exp.MinimumVolume = ei.MinimumVolume
	exp.USFileVolume = ei.USFileVolume
	exp.ContactEmail = ei.ContactEmail
	exp.RatingScaleAnchorLabelLeft = ei.RatingScaleAnchorLabelLeft
	exp.RatingScaleAnchorLabelCenter = ei.RatingScaleAnchorLabelCenter
	exp.RatingScaleAnchorLabelRight = ei.RatingScaleAnchorLabelRight
	exp.VoucherPoolID = ei.VoucherPoolID
}

func (svc *service) Create(ctx context.Context, projectID int, owner user.User, ei ExperimentInput) (Experiment, error) {
	if err := svc.checkPool(ctx, ei); err != nil {
		return Experiment{}, err
	}

	now := NowFunc().UTC()
	exp := Experiment{ProjectID: projectID, OwnerID: owner.ID, CreatedAt: now, UpdatedAt: now}
	apply(&exp, ei)

	exp, err := svc.repo.CreateExperiment(ctx, exp)
	if err != nil {
		if errors.Cause(err) == ErrCodeExists {
			return Experiment{}, core.NewFieldError("code", codeExistsText)
		}
		return Experiment{}, errors.Wrap(err, "creating experiment")
	}
	return exp, nil
}

func (svc *service) Update(ctx context.Context, exp Experiment, ei ExperimentInput) (Experiment, error) {
	if err := svc.checkPool(ctx, ei); err != nil {
		return Experiment{}, err
	}

	apply(&exp, ei)
	exp.UpdatedAt = NowFunc().UTC()
	exp, err := svc.repo.UpdateExperiment(ctx, exp)
	if err != nil {
		if errors.Cause(err) == ErrCodeExists {
			return Experiment{}, core.NewFieldError("code", codeExistsText)
		}
		return Experiment{}, errors.Wrap(err, "updating experiment")
	}

	svc.invalidate(ctx, exp.ID)
	return exp, nil
}

func (svc *service) Delete(ctx context.Context, exp Experiment) error {
	assets, err := svc.repo.QueryAssets(ctx, exp.ID)
	if err != nil {
		return errors.Wrap(err, "querying assets")
	}
	if err = svc.repo.DeleteExperiment(ctx, exp.ID); err != nil {
		return errors.Wrap(err, "deleting experiment")
	}
	svc.invalidate(ctx, exp.ID)

	// the rows are gone, stale objects are only logged
	for _, a := range assets {
		if err = svc.store.Delete(ctx, a.ObjectKey); err != nil {
			svc.logger.Warn(fmt.Sprintf("experiment.Delete(%d): removing %s: %v", exp.ID, a.ObjectKey, err), err)
		}
	}
	return nil
}

func (svc *service) Assets(ctx context.Context, exp Experiment) ([]Asset, error) {
	return svc.repo.QueryAssets(ctx, exp.ID)
}

func (svc *service) UploadAsset(ctx context.Context, exp Experiment, upload AssetUpload) (Asset, error) {
	allowed := AllowedExtensions(upload.Name)
	if allowed == nil {
		return Asset{}, core.NewFieldError("name", invalidAssetText)
	}
	ext := fileExtension(upload.Filename)
	var ok bool
	for _, a := range allowed {
		ok = ok || a == ext
	}
	if !ok {
		return Asset{}, core.NewFieldError("file", fmt.Sprintf(invalidExtensionFmt, ext, strings.Join(allowed, ", ")))
	}

	existing, err := svc.repo.QueryAssets(ctx, exp.ID)
	if err != nil {
		return Asset{}, errors.Wrap(err, "querying assets")
	}

	now := NowFunc().UTC()
	a := Asset{
		ExperimentID: exp.ID,
		Name:         upload.Name,
		ObjectKey:    fmt.Sprintf("experiments/%d/%s-%d.%s", exp.ID, upload.Name, now.UnixNano(), ext),
		ContentType:  upload.ContentType,
		Size:         upload.Size,
		UploadedAt:   now,
	}
	if err = svc.store.Put(ctx, a.ObjectKey, upload.Body, upload.Size, upload.ContentType); err != nil {
		return Asset{}, errors.Wrap(err, "storing asset")
	}
	if err = svc.repo.UpsertAsset(ctx, a); err != nil {
		return Asset{}, errors.Wrap(err, "saving asset")
	}
	svc.invalidate(ctx, exp.ID)

	for _, prev := range existing {
		if prev.Name != a.Name {
			continue
		}
		if err = svc.store.Delete(ctx, prev.ObjectKey); err != nil {
			svc.logger.Warn(fmt.Sprintf("experiment.UploadAsset(%d): removing %s: %v", exp.ID, prev.ObjectKey, err), err)
		}
	}
	return a, nil
}

func (svc *service) DeleteAsset(ctx context.Context, exp Experiment, name string) error {
	assets, err := svc.repo.QueryAssets(ctx, exp.ID)
	if err != nil {
		return errors.Wrap(err, "querying assets")
	}
	var key string
	for _, a := range assets {
		if a.Name == name {
			key = a.ObjectKey
		}
	}
	if key == "" {
		return ErrAssetNotFound
	}

	if err = svc.repo.DeleteAsset(ctx, exp.ID, name); err != nil {
		return err
	}
	svc.invalidate(ctx, exp.ID)
	return errors.Wrap(svc.store.Delete(ctx, key), "removing asset")
}

func (svc *service) AssetURLs(ctx context.Context, exp Experiment) (map[string]string, error) {
	assets, err := svc.repo.QueryAssets(ctx, exp.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying assets")
	}
	urls := make(map[string]string, len(assets))
	for _, a := range assets {
		if urls[a.Name], err = svc.store.URL(ctx, a.ObjectKey); err != nil {
			return nil, errors.Wrapf(err, "signing %s", a.Name)
		}
	}
	return urls, nil
}
