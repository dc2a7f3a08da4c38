package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/flare-portal/flare/core/client"
)

// clientApi serves the unauthenticated participant client.
type clientApi struct {
	svc      client.Service
	validate *validator.Validate
}

func registerClientAPI(cg *echo.Group, api *clientApi) {
	cg.POST("/configuration", api.configuration)
	cg.POST("/submission", api.submission)
	cg.POST("/terms", api.terms)
	cg.POST("/tracking", api.tracking)
	cg.POST("/voucher", api.voucher)
}

func (api *clientApi) bindParticipant(ctx echo.Context) (string, error) {
	var data client.ParticipantRequest
	if err := ctx.Bind(&data); err != nil {
		return "", errors.Wrap(err, "binding to ParticipantRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return "", err
	}
	return data.Participant, nil
}

func (api *clientApi) configuration(ctx echo.Context) error {
	pid, err := api.bindParticipant(ctx)
	if err != nil {
		return err
	}
	conf, err := api.svc.Configuration(ctx.Request().Context(), pid)
	if err != nil {
		return errors.Wrap(err, "getting configuration")
	}
	return ctx.JSON(http.StatusOK, conf)
}

func (api *clientApi) submission(ctx echo.Context) error {
	pid, err := api.bindParticipant(ctx)
	if err != nil {
		return err
	}
	status, err := api.svc.Submit(ctx.Request().Context(), pid)
	if err != nil {
		return errors.Wrap(err, "submitting")
	}
	return ctx.JSON(http.StatusOK, status)
}

func (api *clientApi) terms(ctx echo.Context) error {
	pid, err := api.bindParticipant(ctx)
	if err != nil {
		return err
	}
	status, err := api.svc.AgreeToTerms(ctx.Request().Context(), pid)
	if err != nil {
		return errors.Wrap(err, "agreeing to terms")
	}
	return ctx.JSON(http.StatusOK, status)
}

func (api *clientApi) tracking(ctx echo.Context) error {
	var data client.TrackingRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TrackingRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	status, err := api.svc.Track(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "tracking")
	}
	return ctx.JSON(http.StatusOK, status)
}

func (api *clientApi) voucher(ctx echo.Context) error {
	pid, err := api.bindParticipant(ctx)
	if err != nil {
		return err
	}
	status, err := api.svc.ClaimVoucher(ctx.Request().Context(), pid)
	if err != nil {
		return errors.Wrap(err, "claiming voucher")
	}
	return ctx.JSON(http.StatusOK, status)
}
