package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/flare-portal/flare/core/project"
	"github.com/flare-portal/flare/core/user"
)

type projectApi struct {
	svc      project.Service
	users    user.Service
	validate *validator.Validate
}

func registerProjectAPI(g *echo.Group, api *projectApi) *echo.Group {
	pg := g.Group("/projects")
	pg.GET("", api.query)
	pg.POST("", api.create)

	dg := pg.Group("/:project_id", projectMiddleware(api.users, api.svc))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)
	return dg
}

func (api *projectApi) query(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	projects, err := api.svc.Query(ctx.Request().Context(), usr, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying projects")
	}
	if projects == nil {
		projects = []project.Project{}
	}
	return ctx.JSON(http.StatusOK, projects)
}

func (api *projectApi) create(ctx echo.Context) error {
	var data project.ProjectInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ProjectInput")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	p, err := api.svc.Create(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "creating project")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *projectApi) retrieve(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, ctxProject(ctx))
}

func (api *projectApi) update(ctx echo.Context) error {
	p := ctxProject(ctx)
	data := project.ProjectInput{Name: p.Name, Description: p.Description, ResearcherIDs: p.ResearcherIDs}
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ProjectInput")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	p, err := api.svc.Update(ctx.Request().Context(), p, data)
	if err != nil {
		return errors.Wrap(err, "updating project")
	}
	return ctx.JSON(http.StatusOK, p)
}

// destroy is restricted to the owner and admins.
func (api *projectApi) destroy(ctx echo.Context) error {
	p := ctxProject(ctx)
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !(usr.IsAdmin() || usr.ID == p.OwnerID) {
		return errHttpForbidden
	}

	if err = api.svc.Delete(ctx.Request().Context(), p); err != nil {
		return errors.Wrap(err, "deleting project")
	}
	return ctx.NoContent(http.StatusNoContent)
}
