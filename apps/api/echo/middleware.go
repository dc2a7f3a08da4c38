package echoapi

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/flare-portal/flare/core/experiment"
	"github.com/flare-portal/flare/core/module"
	"github.com/flare-portal/flare/core/project"
	"github.com/flare-portal/flare/core/siteconfig"
	"github.com/flare-portal/flare/core/user"
	"github.com/flare-portal/flare/core/voucher"
)

// context keys of the objects loaded by the middlewares
const (
	ctxProjectKey    = "project"
	ctxExperimentKey = "experiment"
	ctxModuleKey     = "module"
	ctxPoolKey       = "pool"
	ctxObjectKey     = "object"
)

func adminMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// termsMiddleware refuses researchers who have not agreed to the current researcher terms.
func termsMiddleware(users user.Service, siteSvc siteconfig.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx, users)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			site, err := siteSvc.Get(ctx.Request().Context())
			if err != nil {
				return errors.Wrap(err, "getting site configuration")
			}
			if site.ResearcherTermsAndConditions == "" || usr.HasAgreedTerms(site.ResearcherTermsUpdatedAt) {
				return next(ctx)
			}
			return errTermsNotAgreed
		}
	}
}

func intParam(ctx echo.Context, name string) (int, error) {
	id, err := strconv.Atoi(ctx.Param(name))
	if err != nil || id <= 0 {
		return 0, errHttpNotFound
	}
	return id, nil
}

// projectMiddleware loads the `:project_id` project, hiding it from users who cannot access it.
func projectMiddleware(users user.Service, projects project.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			id, err := intParam(ctx, "project_id")
			if err != nil {
				return err
			}
			usr, err := getContextUser(ctx, users)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			p, err := projects.GetByID(ctx.Request().Context(), id)
			if err != nil {
				return errors.Wrap(err, "finding project by ID")
			}
			if !p.CanAccess(usr) {
				return errHttpNotFound
			}
			ctx.Set(ctxProjectKey, p)
			return next(ctx)
		}
	}
}

// experimentMiddleware loads the `:experiment_id` experiment of the context project.
func experimentMiddleware(experiments experiment.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			id, err := intParam(ctx, "experiment_id")
			if err != nil {
				return err
			}
			exp, err := experiments.GetByID(ctx.Request().Context(), id)
			if err != nil {
				return errors.Wrap(err, "finding experiment by ID")
			}
			if exp.ProjectID != ctxProject(ctx).ID {
				return errHttpNotFound
			}
			ctx.Set(ctxExperimentKey, exp)
			return next(ctx)
		}
	}
}

// moduleMiddleware loads the `:module_id` module of the context experiment, which must be of the entry's kind.
func moduleMiddleware(modules module.Service, entry module.Entry) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			id, err := intParam(ctx, "module_id")
			if err != nil {
				return err
			}
			mod, err := modules.GetByID(ctx.Request().Context(), id)
			if err != nil {
				return errors.Wrap(err, "finding module by ID")
			}
			if mod.ExperimentID != ctxExperiment(ctx).ID || mod.Kind != entry.Kind {
				return errHttpNotFound
			}
			ctx.Set(ctxModuleKey, mod)
			return next(ctx)
		}
	}
}

func poolMiddleware(vouchers voucher.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			id, err := intParam(ctx, "pool_id")
			if err != nil {
				return err
			}
			pool, err := vouchers.GetPool(ctx.Request().Context(), id)
			if err != nil {
				return errors.Wrap(err, "finding voucher pool by ID")
			}
			ctx.Set(ctxPoolKey, pool)
			return next(ctx)
		}
	}
}

// the context getters below are only used behind their middleware

func ctxProject(ctx echo.Context) project.Project {
	p, _ := ctx.Get(ctxProjectKey).(project.Project)
	return p
}

func ctxExperiment(ctx echo.Context) experiment.Experiment {
	exp, _ := ctx.Get(ctxExperimentKey).(experiment.Experiment)
	return exp
}

func ctxModule(ctx echo.Context) module.Module {
	mod, _ := ctx.Get(ctxModuleKey).(module.Module)
	return mod
}

func ctxPool(ctx echo.Context) voucher.Pool {
	pool, _ := ctx.Get(ctxPoolKey).(voucher.Pool)
	return pool
}
