package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/flare-portal/flare/core/participant"
)

type participantApi struct {
	svc      participant.Service
	validate *validator.Validate
}

func registerParticipantAPI(eg *echo.Group, api *participantApi) {
	pg := eg.Group("/participants")
	pg.GET("", api.query)
	pg.POST("", api.create)
	pg.POST("/batch", api.createBatch)
	pg.DELETE("", api.destroyMultiple)
	pg.GET("/:participant_pk", api.retrieve)
}

func (api *participantApi) query(ctx echo.Context) error {
	ordering := new(Ordering)
	ordering.Bind(ctx)

	ps, err := api.svc.Query(ctx.Request().Context(), ctxExperiment(ctx).ID, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying participants")
	}
	if ps == nil {
		ps = []participant.Participant{}
	}
	return ctx.JSON(http.StatusOK, ps)
}

func (api *participantApi) create(ctx echo.Context) error {
	var data participant.NewParticipant
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewParticipant")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	p, err := api.svc.Create(ctx.Request().Context(), ctxExperiment(ctx).ID, data)
	if err != nil {
		return errors.Wrap(err, "creating participant")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *participantApi) createBatch(ctx echo.Context) error {
	var data participant.NewParticipantBatch
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewParticipantBatch")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ps, err := api.svc.CreateBatch(ctx.Request().Context(), ctxExperiment(ctx).ID, data.Prefix, data.Count)
	if err != nil {
		return errors.Wrap(err, "creating participants")
	}
	return ctx.JSON(http.StatusCreated, ps)
}

func (api *participantApi) retrieve(ctx echo.Context) error {
	id, err := intParam(ctx, "participant_pk")
	if err != nil {
		return err
	}
	p, err := api.svc.GetByID(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "finding participant by ID")
	}
	if p.ExperimentID != ctxExperiment(ctx).ID {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *participantApi) destroyMultiple(ctx echo.Context) error {
	ids := new(IntIDs)
	ids.Bind(ctx)
	if len(ids.IDs) == 0 {
		return ctx.NoContent(http.StatusNoContent)
	}
	if err := api.svc.Delete(ctx.Request().Context(), ctxExperiment(ctx).ID, ids.IDs...); err != nil {
		return errors.Wrap(err, "deleting participants")
	}
	return ctx.NoContent(http.StatusNoContent)
}
