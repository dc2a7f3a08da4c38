package tests

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/flare-portal/flare/apps/api/echo"
	"github.com/flare-portal/flare/core/siteconfig"
	"github.com/flare-portal/flare/core/user"
	emailsvc "github.com/flare-portal/flare/services/email"
	testutil "github.com/flare-portal/flare/tests"
)

func Test_home(t *testing.T) {
	app := setup(t)
	req, rec := newRequest(http.MethodGet, "/")
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Flare API!", rec.Body.String())
}

func Test_userApi_login(t *testing.T) {
	app := setup(t)
	testutil.CreateUser(t, app.usrRepo, "Ada", "ada", "ada@test.org", "LolC@t123", nil, true)
	testutil.CreateUser(t, app.usrRepo, "N Dog", "ndog", "ndog@test.org", "LolC@t123", nil, false)

	login := func(uname, pwd string) []byte {
		return marchallObj(t, echoapi.LoginRequest{Username: uname, Password: pwd})
	}
	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest, body: []byte("{}"),
			wantData: marchallObj(t, echoapi.LoginRequest{Username: "this field is required", Password: "this field is required"}),
		},
		{
			name: "unknown user", wantCode: http.StatusBadRequest, body: login("lol", "LolC@t123"),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", wantCode: http.StatusBadRequest, body: login("ada", "lol"),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "inactive user", wantCode: http.StatusForbidden, body: login("ndog", "LolC@t123"),
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "by username", wantCode: http.StatusOK, body: login("ADA", "LolC@t123")},
		{name: "by email", wantCode: http.StatusOK, body: login("ada@test.org", "LolC@t123")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/login", tt.body)
			if tt.wantCode == http.StatusOK {
				var resp echoapi.LoginResponse
				app.do(t, req, rec, http.StatusOK, &resp)
				assert.NotEmpty(t, resp.Token)
				return
			}
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_query(t *testing.T) {
	app := setup(t)

	now := time.Now()
	ada := testutil.CreateUser(t, app.usrRepo, "Ada", "ada", "ada@test.org", "", nil, true, now.Add(time.Hour))
	grace := testutil.CreateUser(t, app.usrRepo, "Grace", "grace", "grace@test.org", "", []string{user.RoleResearcher}, true, now.Add(2*time.Hour))
	admin := testutil.CreateUser(t, app.usrRepo, "Admin", "admin", "admin@test.org", "", []string{user.RoleAdmin}, true, now.Add(3*time.Hour))
	naughty := testutil.CreateUser(t, app.usrRepo, "N Dog", "ndog", "ndog@test.org", "", []string{user.RoleResearcher}, false, now)

	adminToken := getToken(t, app.conf, admin)
	path := func(v url.Values) string { return "/v1/users?" + v.Encode() }

	t.Run("auth required", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/users")
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}, rec)
	})

	t.Run("admin required", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/users", getToken(t, app.conf, grace))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"})}, rec)
	})

	ids := func(users []user.User) []string {
		res := make([]string, 0, len(users))
		for _, u := range users {
			res = append(res, u.ID)
		}
		return res
	}
	tests := []struct {
		name string
		path string
		want []string
	}{
		{name: "all", path: "/v1/users", want: []string{ada.ID, admin.ID, grace.ID, naughty.ID}},
		{name: "search", path: path(url.Values{"search": {"GRA"}}), want: []string{grace.ID}},
		{name: "search (unknown)", path: path(url.Values{"search": {"lol"}}), want: []string{}},
		{name: "role", path: path(url.Values{"role": {user.RoleAdmin}}), want: []string{admin.ID}},
		{name: "is_active=false", path: path(url.Values{"is_active": {"false"}}), want: []string{naughty.ID}},
		{name: "order by created_at", path: path(url.Values{"ordering": {"created_at"}}), want: []string{naughty.ID, ada.ID, grace.ID, admin.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var users []user.User
			req, rec := newAuthRequest(http.MethodGet, tt.path, adminToken)
			app.do(t, req, rec, http.StatusOK, &users)
			assert.Equal(t, tt.want, ids(users))
		})
	}
}

func Test_userApi_refreshToken(t *testing.T) {
	app := setup(t)
	naughty := testutil.CreateUser(t, app.usrRepo, "N Dog", "ndog", "ndog@test.org", "", nil, false)
	grace := testutil.CreateUser(t, app.usrRepo, "Grace", "grace", "grace@test.org", "", nil, true)

	now := time.Now()
	unrefreshableClaims := echoapi.GetUserClaims(app.conf, grace)
	unrefreshableClaims.StandardClaims = jwt.StandardClaims{
		Issuer:    app.conf.AppName,
		Subject:   grace.ID,
		Audience:  "Researchers",
		ExpiresAt: now.Add(app.conf.Server.JWTExpirationDelta).Unix(),
		IssuedAt:  now.Unix(),
	}
	unrefreshableClaims.OrigIssuedAt = now.Add(-2 * app.conf.Server.JWTRefreshExpirationDelta).Unix() // older than threshold
	unrefreshableToken, err := echoapi.GenerateToken(app.conf, unrefreshableClaims)
	require.NoError(t, err)

	tests := []httpTest{
		{name: "auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "inactive user not allowed", token: getToken(t, app.conf, naughty), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"})},
		{name: "refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "refresh has expired"})},
		{name: "token refreshed", token: getToken(t, app.conf, grace), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/users/token-refresh", tt.token)
			if tt.wantCode == http.StatusOK {
				var resp echoapi.LoginResponse
				app.do(t, req, rec, http.StatusOK, &resp)
				assert.NotEmpty(t, resp.Token)
				return
			}
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_resetPassword(t *testing.T) {
	app := setup(t)
	grace := testutil.CreateUser(t, app.usrRepo, "Grace", "grace", "grace@test.org", "", nil, true)
	successData := marchallObj(t, echoapi.SuccessResponse{Success: "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."})

	tests := []struct {
		httpTest
		emailSent bool
	}{
		{httpTest: httpTest{
			name: "invalid email", wantCode: http.StatusBadRequest, body: marchallObj(t, echoapi.PasswordResetRequest{Email: "lol"}),
			wantData: marchallObj(t, echoapi.PasswordResetRequest{Email: "email must be a valid email address"}),
		}},
		{httpTest: httpTest{
			name: "unknown email", wantCode: http.StatusOK, body: marchallObj(t, echoapi.PasswordResetRequest{Email: "lol@test.org"}),
			wantData: successData,
		}},
		{
			httpTest: httpTest{
				name: "known email", wantCode: http.StatusOK, body: marchallObj(t, echoapi.PasswordResetRequest{Email: grace.Email}),
				wantData: successData,
			},
			emailSent: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emailsvc.SentMessages = nil // reset

			req, rec := newRequest(http.MethodPost, "/v1/users/password-reset", tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt.httpTest, rec)

			if !tt.emailSent {
				assert.Empty(t, emailsvc.SentMessages)
				return
			}
			msg, ok := emailsvc.LastSentMessage()
			require.True(t, ok)
			assert.Equal(t, grace.Email, msg.To[0].Address)
			assert.True(t, strings.Contains(msg.TextContent, user.EncodeUID(grace)))
		})
	}
}

func Test_userApi_termsGate(t *testing.T) {
	app := setup(t)
	grace := testutil.CreateUser(t, app.usrRepo, "Grace", "grace", "grace@test.org", "", nil, true)
	token := getToken(t, app.conf, grace)

	listProjects := func() int {
		req, rec := newAuthRequest(http.MethodGet, "/v1/projects", token)
		app.ServeHTTP(rec, req)
		return rec.Code
	}

	// no researcher terms yet
	assert.Equal(t, http.StatusOK, listProjects())

	terms := "Be nice."
	_, err := app.site.Update(context.Background(), siteconfig.UpdateSiteConfiguration{ResearcherTermsAndConditions: &terms})
	require.NoError(t, err)

	req, rec := newAuthRequest(http.MethodGet, "/v1/projects", token)
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusForbidden,
		wantData: marchallObj(t, httpErr{Error: "researcher terms and conditions not agreed"}),
	}, rec)

	// the site configuration stays readable
	var site siteconfig.SiteConfiguration
	req, rec = newAuthRequest(http.MethodGet, "/v1/site-config", token)
	app.do(t, req, rec, http.StatusOK, &site)
	assert.Equal(t, terms, site.ResearcherTermsAndConditions)

	var usr user.User
	req, rec = newAuthRequest(http.MethodPost, "/v1/users/agree-terms", token)
	app.do(t, req, rec, http.StatusOK, &usr)
	assert.True(t, usr.AgreedTermsAt.Valid)

	assert.Equal(t, http.StatusOK, listProjects())
}

func Test_siteConfigApi_update(t *testing.T) {
	app := setup(t)
	grace := testutil.CreateUser(t, app.usrRepo, "Grace", "grace", "grace@test.org", "", nil, true)
	admin := testutil.CreateUser(t, app.usrRepo, "Admin", "admin", "admin@test.org", "", []string{user.RoleAdmin}, true)

	body := []byte(`{"admin_contact_email": "help@test.org"}`)

	req, rec := newAuthRequest(http.MethodPut, "/v1/site-config", getToken(t, app.conf, grace), body)
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var site siteconfig.SiteConfiguration
	req, rec = newAuthRequest(http.MethodPut, "/v1/site-config", getToken(t, app.conf, admin), body)
	app.do(t, req, rec, http.StatusOK, &site)
	assert.Equal(t, "help@test.org", site.AdminContactEmail)

	req, rec = newAuthRequest(http.MethodPut, "/v1/site-config", getToken(t, app.conf, admin), []byte(`{"admin_contact_email": "lol"}`))
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
