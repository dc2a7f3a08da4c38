package echoapi

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/flare-portal/flare/core/data"
	"github.com/flare-portal/flare/core/export"
)

type dataApi struct {
	svc       data.Service
	exportSvc export.Service
	validate  *validator.Validate
}

// registerDataAPI registers, for every data kind, the researcher list, detail and delete routes on g
// behind mws, and the participant submission route on cg.
func registerDataAPI(g, eg, cg *echo.Group, api *dataApi, mws ...echo.MiddlewareFunc) {
	eg.GET("/export", api.exportZIP)

	for _, entry := range api.svc.Registry().Entries() {
		g.GET(entry.ListPath, api.query(entry), mws...).Name = entry.ListRouteName
		g.GET(entry.DetailPath, api.retrieve(entry), mws...).Name = entry.DetailRouteName
		g.DELETE(entry.DetailPath, api.destroy(entry), mws...).Name = entry.Names.Snake + "_delete"
		eg.GET("/export/"+entry.ModuleNames.Slug, api.exportCSV(entry)).Name = entry.Names.Snake + "_export"

		cg.POST(entry.SubmitPath, api.submit(entry)).Name = entry.SubmitRouteName
	}
}

func (api *dataApi) query(entry data.Entry) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		ds, err := api.svc.Query(ctx.Request().Context(), data.QueryFilter{
			ExperimentID:  ctxExperiment(ctx).ID,
			Kind:          entry.ModuleKind,
			ParticipantID: queryInt(ctx, "participant"),
			ModuleID:      queryInt(ctx, "module"),
		})
		if err != nil {
			return errors.Wrapf(err, "querying %s data", entry.ModuleKind)
		}
		if ds == nil {
			ds = []data.Data{}
		}
		return ctx.JSON(http.StatusOK, ds)
	}
}

// getData loads the `:data_id` row, which must belong to the context experiment and the entry's kind.
func (api *dataApi) getData(ctx echo.Context, entry data.Entry) (data.Data, error) {
	id, err := intParam(ctx, "data_id")
	if err != nil {
		return data.Data{}, err
	}
	d, err := api.svc.GetByID(ctx.Request().Context(), id)
	if err != nil {
		return data.Data{}, errors.Wrap(err, "finding data by ID")
	}
	if d.ExperimentID != ctxExperiment(ctx).ID || d.Kind != entry.ModuleKind {
		return data.Data{}, errHttpNotFound
	}
	return d, nil
}

func (api *dataApi) retrieve(entry data.Entry) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		d, err := api.getData(ctx, entry)
		if err != nil {
			return err
		}
		return ctx.JSON(http.StatusOK, d)
	}
}

func (api *dataApi) destroy(entry data.Entry) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		d, err := api.getData(ctx, entry)
		if err != nil {
			return err
		}
		if err = api.svc.Delete(ctx.Request().Context(), d.ExperimentID, d.ID); err != nil {
			return errors.Wrap(err, "deleting data")
		}
		return ctx.NoContent(http.StatusNoContent)
	}
}

// submit records the data a participant client posts for a module of the entry's kind.
func (api *dataApi) submit(entry data.Entry) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		raw, err := io.ReadAll(ctx.Request().Body)
		if err != nil {
			return errors.Wrap(err, "reading body")
		}
		sub, err := entry.DecodeSubmission(raw)
		if err != nil {
			return err
		}
		if err = sub.Validate(api.validate); err != nil {
			return err
		}

		d, err := api.svc.Submit(ctx.Request().Context(), entry, sub)
		if err != nil {
			return errors.Wrapf(err, "submitting %s data", entry.ModuleKind)
		}
		return ctx.JSON(http.StatusCreated, d)
	}
}

func setAttachment(ctx echo.Context, contentType, filename string) {
	header := ctx.Response().Header()
	header.Set(echo.HeaderContentType, contentType)
	header.Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
}

func (api *dataApi) exportCSV(entry data.Entry) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		exp := ctxExperiment(ctx)
		setAttachment(ctx, "text/csv; charset=utf-8", export.CSVFilename(exp, entry, time.Now()))
		ctx.Response().WriteHeader(http.StatusOK)
		return errors.Wrapf(api.exportSvc.WriteCSV(ctx.Request().Context(), ctx.Response(), exp, entry), "exporting %s data", entry.ModuleKind)
	}
}

func (api *dataApi) exportZIP(ctx echo.Context) error {
	exp := ctxExperiment(ctx)
	at := time.Now()
	setAttachment(ctx, "application/zip", export.ZIPFilename(exp, at))
	ctx.Response().WriteHeader(http.StatusOK)
	return errors.Wrap(api.exportSvc.WriteZIP(ctx.Request().Context(), ctx.Response(), exp, at), "exporting data")
}
