package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/flare-portal/flare/core/siteconfig"
)

type siteConfigApi struct {
	svc      siteconfig.Service
	validate *validator.Validate
}

func registerSiteConfigAPI(g *echo.Group, api *siteConfigApi) {
	g.GET("/site-config", api.retrieve)
	g.PUT("/site-config", api.update, adminMiddleware())
}

func (api *siteConfigApi) retrieve(ctx echo.Context) error {
	conf, err := api.svc.Get(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "getting site configuration")
	}
	return ctx.JSON(http.StatusOK, conf)
}

func (api *siteConfigApi) update(ctx echo.Context) error {
	var data siteconfig.UpdateSiteConfiguration
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSiteConfiguration")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	conf, err := api.svc.Update(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "updating site configuration")
	}
	return ctx.JSON(http.StatusOK, conf)
}
