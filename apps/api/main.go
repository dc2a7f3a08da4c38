package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	echoapi "github.com/flare-portal/flare/apps/api/echo"
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
	cachesvc "github.com/flare-portal/flare/services/cache"
	emailsvc "github.com/flare-portal/flare/services/email"
	logsvc "github.com/flare-portal/flare/services/logger"
	storagesvc "github.com/flare-portal/flare/services/storage"
	"github.com/flare-portal/flare/storage/database"
	sqlxrepos "github.com/flare-portal/flare/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()
	ctx := context.Background()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger.Enable(!conf.Debug)

	// set up DB
	db, err := setUpDB(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Fatal("Failed to close", err)
		}
	}()
	tx := core.NewTransactor(db)

	// set up cache: redis when configured, in process otherwise
	var cache core.Cache
	if conf.Redis.URL != "" {
		var closeCache func() error
		if cache, closeCache, err = cachesvc.NewRedisCache(ctx, conf); err != nil {
			logger.Fatal(fmt.Sprintf("setting up cache: %v", err), err)
		}
		defer func() { _ = closeCache() }()
	} else {
		logger.Warn("REDIS_URL not set, using the in-process cache")
		cache = cachesvc.NewMemoryCache()
	}

	// set up asset storage
	var store experiment.AssetStore
	if conf.Storage.Endpoint != "" {
		if store, err = storagesvc.NewMinioStore(ctx, conf); err != nil {
			logger.Fatal(fmt.Sprintf("setting up storage: %v", err), err)
		}
	} else {
		logger.Warn("STORAGE_ENDPOINT not set, stimulus uploads are disabled")
		store = storagesvc.NewDisabledStore()
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db), mailSvc, conf)
	projectSvc := project.NewService(sqlxrepos.NewProjectRepository(db), usrSvc, tx)
	expSvc := experiment.NewService(sqlxrepos.NewExperimentRepository(db), store, cache, logger)
	modReg := module.NewDefaultRegistry()
	modSvc := module.NewService(sqlxrepos.NewModuleRepository(db), modReg, tx, cache)
	partSvc := participant.NewService(sqlxrepos.NewParticipantRepository(db))
	dataSvc := data.NewService(sqlxrepos.NewDataRepository(db), data.NewDefaultRegistry(modReg), modSvc, partSvc, tx)
	voucherSvc := voucher.NewService(sqlxrepos.NewVoucherRepository(db), tx)
	siteSvc := siteconfig.NewService(sqlxrepos.NewSiteConfigRepository(db))
	clientSvc := client.NewService(client.Deps{
		Participants: partSvc,
		Experiments:  expSvc,
		Modules:      modSvc,
		Vouchers:     voucherSvc,
		SiteConfig:   siteSvc,
		Cache:        cache,
		CacheTTL:     conf.Redis.ConfigCacheTTL,
		Logger:       logger,
	})

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	core.ParseEmailTemplates(conf, logger)

	user.LoadCommonPasswords(logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:           conf,
			Logger:         logger,
			Validate:       validate,
			Translator:     translator,
			UserSvc:        usrSvc,
			ProjectSvc:     projectSvc,
			ExperimentSvc:  expSvc,
			ModuleSvc:      modSvc,
			ParticipantSvc: partSvc,
			DataSvc:        dataSvc,
			ExportSvc:      export.NewService(modSvc, dataSvc),
			VoucherSvc:     voucherSvc,
			SiteConfigSvc:  siteSvc,
			ClientSvc:      clientSvc,
		},
	)

	go server.Start()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(ctx, conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpDB(ctx context.Context, conf *core.Config) (*sqlx.DB, error) {
	if !conf.Database.IsSQLite() {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
