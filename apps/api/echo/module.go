package echoapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/module"
)

var (
	invalidOrderText = "Submit a mapping of module ids to sort orders."
	reorderedText    = "Modules have been reordered."
)

type moduleApi struct {
	svc      module.Service
	validate *validator.Validate
}

// ModuleResponse is a module along with its display title and summary.
type ModuleResponse struct {
	module.Module
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func newModuleResponse(mod module.Module) ModuleResponse {
	return ModuleResponse{Module: mod, Type: mod.Kind.Tag(), Title: mod.Title(), Description: mod.Description()}
}

// registerModuleAPI registers the list and sort routes under an experiment group and a create,
// update and delete route per registered module kind on g, behind the project and experiment middlewares.
func registerModuleAPI(g, eg *echo.Group, api *moduleApi, mws ...echo.MiddlewareFunc) {
	eg.GET("/modules", api.query)
	eg.GET("/modules/types", api.queryTypes)
	eg.POST("/modules/sort", api.sort)

	for _, entry := range api.svc.Registry().Entries() {
		detailMws := append(append([]echo.MiddlewareFunc{}, mws...), moduleMiddleware(api.svc, entry))
		if entry.Creatable {
			g.POST(entry.CreatePath, api.create(entry), mws...).Name = entry.CreateRouteName
		}
		g.GET(entry.UpdatePath, api.retrieve, detailMws...).Name = entry.Names.Snake + "_detail"
		g.PUT(entry.UpdatePath, api.update(entry), detailMws...).Name = entry.UpdateRouteName
		g.DELETE(entry.DeletePath, api.destroy, detailMws...).Name = entry.DeleteRouteName
	}
}

func (api *moduleApi) query(ctx echo.Context) error {
	mods, err := api.svc.Query(ctx.Request().Context(), ctxExperiment(ctx).ID)
	if err != nil {
		return errors.Wrap(err, "querying modules")
	}
	res := make([]ModuleResponse, 0, len(mods))
	for _, mod := range mods {
		res = append(res, newModuleResponse(mod))
	}
	return ctx.JSON(http.StatusOK, res)
}

// ModuleType describes a module kind researchers can add to an experiment.
type ModuleType struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Slug       string `json:"slug"`
	CreatePath string `json:"create_path"`
}

func (api *moduleApi) queryTypes(ctx echo.Context) error {
	types := make([]ModuleType, 0)
	for _, entry := range api.svc.Registry().Entries() {
		if !entry.Creatable {
			continue
		}
		types = append(types, ModuleType{
			Type:       entry.Kind.Tag(),
			Title:      entry.Kind.Title(),
			Slug:       entry.Names.Slug,
			CreatePath: ctx.Echo().Reverse(entry.CreateRouteName, ctxProject(ctx).ID, ctxExperiment(ctx).ID),
		})
	}
	return ctx.JSON(http.StatusOK, types)
}

func (api *moduleApi) create(entry module.Entry) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		var data module.ModuleInput
		if err := ctx.Bind(&data); err != nil {
			return errors.Wrap(err, "binding to ModuleInput")
		}
		settings, err := data.Validate(api.validate, entry.NewSettings())
		if err != nil {
			return err
		}

		mod, err := api.svc.Create(ctx.Request().Context(), ctxExperiment(ctx).ID, entry.Kind, data.Label, settings)
		if err != nil {
			return errors.Wrapf(err, "creating %s module", entry.Kind)
		}
		return ctx.JSON(http.StatusCreated, newModuleResponse(mod))
	}
}

func (api *moduleApi) retrieve(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, newModuleResponse(ctxModule(ctx)))
}

func (api *moduleApi) update(entry module.Entry) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		mod := ctxModule(ctx)
		data := module.ModuleInput{Label: mod.Label}
		if err := ctx.Bind(&data); err != nil {
			return errors.Wrap(err, "binding to ModuleInput")
		}
		base, err := entry.DecodeSettings(mod.RawConfig)
		if err != nil {
			return err
		}
		settings, err := data.Validate(api.validate, base)
		if err != nil {
			return err
		}

		if mod, err = api.svc.Update(ctx.Request().Context(), mod, data.Label, settings); err != nil {
			return errors.Wrapf(err, "updating %s module", entry.Kind)
		}
		return ctx.JSON(http.StatusOK, newModuleResponse(mod))
	}
}

func (api *moduleApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctxModule(ctx)); err != nil {
		return errors.Wrap(err, "deleting module")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// sort applies a full reordering given as `{"<module id>": <sortorder>}`.
func (api *moduleApi) sort(ctx echo.Context) error {
	var body map[string]int
	if err := json.NewDecoder(ctx.Request().Body).Decode(&body); err != nil {
		return core.NewValidationError(errors.Wrap(err, "decoding sort order"), core.FieldError{Field: "modules", Error: invalidOrderText})
	}
	order := make(map[int]int, len(body))
	for key, pos := range body {
		id, err := strconv.Atoi(key)
		if err != nil {
			return core.NewValidationError(errors.Wrap(err, "parsing module id"), core.FieldError{Field: "modules", Error: invalidOrderText})
		}
		order[id] = pos
	}

	if err := api.svc.Reorder(ctx.Request().Context(), ctxExperiment(ctx).ID, order); err != nil {
		return errors.Wrap(err, "reordering modules")
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: reorderedText})
}
