package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/user"
	"github.com/flare-portal/flare/core/voucher"
)

var importFileField = "import_file"

type voucherApi struct {
	svc      voucher.Service
	users    user.Service
	validate *validator.Validate
}

func registerVoucherAPI(g *echo.Group, api *voucherApi) {
	vg := g.Group("/voucher-pools")
	vg.GET("", api.queryPools)
	vg.POST("", api.createPool)

	dg := vg.Group("/:pool_id", poolMiddleware(api.svc))
	dg.GET("", api.retrievePool)
	dg.PUT("", api.updatePool)
	dg.DELETE("", api.destroyPool)
	dg.GET("/vouchers", api.queryVouchers)
	dg.POST("/vouchers/upload", api.upload)
	dg.DELETE("/vouchers", api.destroyVouchers)
}

func (api *voucherApi) queryPools(ctx echo.Context) error {
	ordering := new(Ordering)
	ordering.Bind(ctx)

	pools, err := api.svc.QueryPools(ctx.Request().Context(), ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying voucher pools")
	}
	if pools == nil {
		pools = []voucher.Pool{}
	}
	return ctx.JSON(http.StatusOK, pools)
}

func (api *voucherApi) createPool(ctx echo.Context) error {
	var data voucher.PoolInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PoolInput")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	pool, err := api.svc.CreatePool(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "creating voucher pool")
	}
	return ctx.JSON(http.StatusCreated, pool)
}

func (api *voucherApi) retrievePool(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, ctxPool(ctx))
}

func (api *voucherApi) updatePool(ctx echo.Context) error {
	pool := ctxPool(ctx)
	data := voucher.PoolInput{
		Name:             pool.Name,
		Description:      pool.Description,
		SuccessMessage:   pool.SuccessMessage,
		EmptyPoolMessage: pool.EmptyPoolMessage,
	}
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PoolInput")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	pool, err := api.svc.UpdatePool(ctx.Request().Context(), pool, data)
	if err != nil {
		return errors.Wrap(err, "updating voucher pool")
	}
	return ctx.JSON(http.StatusOK, pool)
}

func (api *voucherApi) destroyPool(ctx echo.Context) error {
	if err := api.svc.DeletePool(ctx.Request().Context(), ctxPool(ctx)); err != nil {
		return errors.Wrap(err, "deleting voucher pool")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *voucherApi) queryVouchers(ctx echo.Context) error {
	vouchers, err := api.svc.QueryVouchers(ctx.Request().Context(), ctxPool(ctx))
	if err != nil {
		return errors.Wrap(err, "querying vouchers")
	}
	if vouchers == nil {
		vouchers = []voucher.Voucher{}
	}
	return ctx.JSON(http.StatusOK, vouchers)
}

// upload imports the codes of the multipart `import_file` CSV.
func (api *voucherApi) upload(ctx echo.Context) error {
	fh, err := ctx.FormFile(importFileField)
	if err != nil {
		return core.NewValidationError(errors.Wrap(err, "reading form file"), core.FieldError{Field: importFileField, Error: noFileText})
	}
	file, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening form file")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer file.Close()

	res, err := api.svc.Upload(ctx.Request().Context(), ctxPool(ctx), file)
	if err != nil {
		return errors.Wrap(err, "uploading vouchers")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *voucherApi) destroyVouchers(ctx echo.Context) error {
	ids := new(IntIDs)
	ids.Bind(ctx)
	if len(ids.IDs) == 0 {
		return ctx.NoContent(http.StatusNoContent)
	}
	if err := api.svc.DeleteVouchers(ctx.Request().Context(), ctxPool(ctx), ids.IDs...); err != nil {
		return errors.Wrap(err, "deleting vouchers")
	}
	return ctx.NoContent(http.StatusNoContent)
}
