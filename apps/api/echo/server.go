package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/client"
	"github.com/flare-portal/flare/core/data"
	"github.com/flare-portal/flare/core/experiment"
	"github.com/flare-portal/flare/core/export"
	"github.com/flare-portal/flare/core/module"
	"github.com/flare-portal/flare/core/participant"
	"github.com/flare-portal/flare/core/project"
	"github.com/flare-portal/flare/core/siteconfig"
	"github.com/flare-portal/flare/core/user"
	"github.com/flare-portal/flare/core/voucher"
)

type (
	ServerDeps struct {
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator

		UserSvc        user.Service
		ProjectSvc     project.Service
		ExperimentSvc  experiment.Service
		ModuleSvc      module.Service
		ParticipantSvc participant.Service
		DataSvc        data.Service
		ExportSvc      export.Service
		VoucherSvc     voucher.Service
		SiteConfigSvc  siteconfig.Service
		ClientSvc      client.Service
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(jwtConfig(conf))
	terms := termsMiddleware(s.deps.UserSvc, s.deps.SiteConfigSvc)

	// outside the terms gate: researchers must be able to read and agree to the terms
	registerUserAPI(v1, jwt, &userApi{svc: s.deps.UserSvc, conf: conf, validate: s.deps.Validate})
	registerSiteConfigAPI(v1.Group("", jwt), &siteConfigApi{svc: s.deps.SiteConfigSvc, validate: s.deps.Validate})

	ag := v1.Group("", jwt, terms)
	pg := registerProjectAPI(ag, &projectApi{svc: s.deps.ProjectSvc, users: s.deps.UserSvc, validate: s.deps.Validate})
	eg := registerExperimentAPI(pg, &experimentApi{svc: s.deps.ExperimentSvc, users: s.deps.UserSvc, validate: s.deps.Validate})
	registerParticipantAPI(eg, &participantApi{svc: s.deps.ParticipantSvc, validate: s.deps.Validate})
	registerVoucherAPI(ag, &voucherApi{svc: s.deps.VoucherSvc, users: s.deps.UserSvc, validate: s.deps.Validate})

	// module and data kinds are registered on the authed group with explicit middlewares, as their
	// paths embed the project and experiment IDs.
	mws := []echo.MiddlewareFunc{
		jwt,
		terms,
		projectMiddleware(s.deps.UserSvc, s.deps.ProjectSvc),
		experimentMiddleware(s.deps.ExperimentSvc),
	}
	cg := s.app.Group("/api/v1")
	registerModuleAPI(v1, eg, &moduleApi{svc: s.deps.ModuleSvc, validate: s.deps.Validate}, mws...)
	registerDataAPI(v1, eg, cg, &dataApi{svc: s.deps.DataSvc, exportSvc: s.deps.ExportSvc, validate: s.deps.Validate}, mws...)
	registerClientAPI(cg, &clientApi{svc: s.deps.ClientSvc, validate: s.deps.Validate})
}

func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

// Errors receives the error that stopped the server.
func (s *Server) Errors() <-chan error {
	return s.errors
}

// ShutdownSignal receives OS interrupts and shutdown requests raised by handlers.
func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Flare API!")
}
