package tests

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	emailsvc "github.com/flare-portal/flare/services/email"
	sqlxrepos "github.com/flare-portal/flare/storage/database/sqlx"
	testutil "github.com/flare-portal/flare/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

func newConf() *core.Config {
	return &core.Config{
		AppName:                   "Flare",
		SecretKey:                 "s3cr3t",
		TestMode:                  true,
		PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
		Server: core.ServerConfig{
			JWTExpirationDelta:        time.Hour,
			JWTRefreshExpirationDelta: 24 * time.Hour,
			DisableReqLogs:            true,
		},
	}
}

// testApp is a server backed by an in-memory database, plus direct access to what it is built on.
type testApp struct {
	*echoapi.Server

	conf    *core.Config
	usrRepo user.Repository
	users   user.Service
	site    siteconfig.Service
	store   *experiment.AssetStoreMock
	cache   *core.CacheMock
}

func setup(t *testing.T) *testApp {
	t.Helper()
	conf := newConf()
	logger := new(core.LoggerMock)

	// set up DB & repos
	db := testutil.OpenDB(t)
	tx := core.NewTransactor(db)
	usrRepo := sqlxrepos.NewUserRepository(db)

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	core.ParseEmailTemplates(conf, logger)

	// set up services
	cache := core.NewCacheMock()
	store := experiment.NewAssetStoreMock()
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)

	usrSvc := user.NewServiceMock(usrRepo, mailSvc, conf)
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
		CacheTTL:     time.Minute,
		Logger:       logger,
	})

	// set up server
	server := echoapi.NewServer(echoapi.ServerDeps{
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
	})

	return &testApp{
		Server:  server,
		conf:    conf,
		usrRepo: usrRepo,
		users:   usrSvc,
		site:    siteSvc,
		store:   store,
		cache:   cache,
	}
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

// newUploadRequest posts content as the multipart file field.
func newUploadRequest(t *testing.T, method, path, token, field, filename string, content []byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req, httptest.NewRecorder()
}

func getToken(t *testing.T, conf *core.Config, usr user.User) string {
	claims := echoapi.GetUserClaims(conf, usr)
	token, err := echoapi.GenerateToken(conf, claims)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

// do serves the request and decodes the JSON response into dest, when given.
func (app *testApp) do(t *testing.T, req *http.Request, rec *httptest.ResponseRecorder, wantCode int, dest ...interface{}) {
	t.Helper()
	app.ServeHTTP(rec, req)
	require.Equal(t, wantCode, rec.Code, rec.Body.String())
	if len(dest) > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest[0]), rec.Body.String())
	}
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code)
	if tt.wantData != nil {
		assert.JSONEq(t, string(tt.wantData), rec.Body.String())
	}
}
