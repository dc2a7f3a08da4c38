package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/experiment"
	"github.com/flare-portal/flare/core/user"
)

var (
	assetFileField = "file"
	noFileText     = "No file was submitted."
)

type experimentApi struct {
	svc      experiment.Service
	users    user.Service
	validate *validator.Validate
}

// registerExperimentAPI registers the experiment routes under a project group
// and returns the experiment detail group.
func registerExperimentAPI(pg *echo.Group, api *experimentApi) *echo.Group {
	eg := pg.Group("/experiments")
	eg.GET("", api.query)
	eg.POST("", api.create)

	dg := eg.Group("/:experiment_id", experimentMiddleware(api.svc))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)

	dg.GET("/assets", api.queryAssets)
	dg.PUT("/assets/:name", api.uploadAsset)
	dg.DELETE("/assets/:name", api.destroyAsset)
	return dg
}

func (api *experimentApi) query(ctx echo.Context) error {
	ordering := new(Ordering)
	ordering.Bind(ctx)

	exps, err := api.svc.Query(ctx.Request().Context(), ctxProject(ctx).ID, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying experiments")
	}
	if exps == nil {
		exps = []experiment.Experiment{}
	}
	return ctx.JSON(http.StatusOK, exps)
}

func (api *experimentApi) create(ctx echo.Context) error {
	data := experiment.NewExperimentInput()
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ExperimentInput")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	exp, err := api.svc.Create(ctx.Request().Context(), ctxProject(ctx).ID, usr, data)
	if err != nil {
		return errors.Wrap(err, "creating experiment")
	}
	return ctx.JSON(http.StatusCreated, exp)
}

func (api *experimentApi) retrieve(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, ctxExperiment(ctx))
}

func (api *experimentApi) update(ctx echo.Context) error {
	exp := ctxExperiment(ctx)
	data := exp.Input()
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ExperimentInput")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	exp, err := api.svc.Update(ctx.Request().Context(), exp, data)
	if err != nil {
		return errors.Wrap(err, "updating experiment")
	}
	return ctx.JSON(http.StatusOK, exp)
}

func (api *experimentApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctxExperiment(ctx)); err != nil {
		return errors.Wrap(err, "deleting experiment")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *experimentApi) queryAssets(ctx echo.Context) error {
	assets, err := api.svc.Assets(ctx.Request().Context(), ctxExperiment(ctx))
	if err != nil {
		return errors.Wrap(err, "querying assets")
	}
	if assets == nil {
		assets = []experiment.Asset{}
	}
	return ctx.JSON(http.StatusOK, assets)
}

// uploadAsset stores the multipart `file` as the `:name` stimulus, replacing the previous one.
func (api *experimentApi) uploadAsset(ctx echo.Context) error {
	fh, err := ctx.FormFile(assetFileField)
	if err != nil {
		return core.NewValidationError(errors.Wrap(err, "reading form file"), core.FieldError{Field: assetFileField, Error: noFileText})
	}
	file, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening form file")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer file.Close()

	a, err := api.svc.UploadAsset(ctx.Request().Context(), ctxExperiment(ctx), experiment.AssetUpload{
		Name:        ctx.Param("name"),
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Size:        fh.Size,
		Body:        file,
	})
	if err != nil {
		return errors.Wrap(err, "uploading asset")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *experimentApi) destroyAsset(ctx echo.Context) error {
	if err := api.svc.DeleteAsset(ctx.Request().Context(), ctxExperiment(ctx), ctx.Param("name")); err != nil {
		return errors.Wrap(err, "deleting asset")
	}
	return ctx.NoContent(http.StatusNoContent)
}
