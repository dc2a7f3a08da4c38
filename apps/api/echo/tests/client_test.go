package tests

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flare-portal/flare/core/client"
	"github.com/flare-portal/flare/core/participant"
	"github.com/flare-portal/flare/core/voucher"
)

func (f researcherFixture) createParticipant(t *testing.T, app *testApp, id string) participant.Participant {
	t.Helper()
	var p participant.Participant
	req, rec := newAuthRequest(http.MethodPost, f.expPath("/participants"), f.token, marchallObj(t, participant.NewParticipant{ParticipantID: id}))
	app.do(t, req, rec, http.StatusCreated, &p)
	return p
}

func clientPost(t *testing.T, app *testApp, path string, body interface{}) (int, string) {
	t.Helper()
	req, rec := newRequest(http.MethodPost, "/api/v1"+path, marchallObj(t, body))
	app.ServeHTTP(rec, req)
	return rec.Code, rec.Body.String()
}

func Test_participantApi(t *testing.T) {
	app := setup(t)
	f := newResearcherFixture(t, app)

	p := f.createParticipant(t, app, "P001")
	assert.Equal(t, f.exp.ID, p.ExperimentID)
	assert.Equal(t, participant.StateNotStarted, p.State())

	t.Run("duplicate", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, f.expPath("/participants"), f.token, []byte(`{"participant_id": "P001"}`))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: []byte(`{"participant_id": "A participant with this identifier already exists."}`)}, rec)
	})

	t.Run("batch", func(t *testing.T) {
		var ps []participant.Participant
		req, rec := newAuthRequest(http.MethodPost, f.expPath("/participants/batch"), f.token, []byte(`{"count": 3, "prefix": "LAB"}`))
		app.do(t, req, rec, http.StatusCreated, &ps)
		require.Len(t, ps, 3)
		for _, bp := range ps {
			assert.True(t, strings.HasPrefix(bp.ParticipantID, "LAB."), bp.ParticipantID)
			assert.LessOrEqual(t, len(bp.ParticipantID), 24)
		}

		req, rec = newAuthRequest(http.MethodPost, f.expPath("/participants/batch"), f.token, []byte(`{"count": 0}`))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("retrieve", func(t *testing.T) {
		var got participant.Participant
		req, rec := newAuthRequest(http.MethodGet, f.expPath(fmt.Sprintf("/participants/%d", p.ID)), f.token)
		app.do(t, req, rec, http.StatusOK, &got)
		assert.Equal(t, "P001", got.ParticipantID)
	})

	t.Run("bulk delete", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, f.expPath(fmt.Sprintf("/participants?id=%d", p.ID)), f.token)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		var ps []participant.Participant
		req, rec = newAuthRequest(http.MethodGet, f.expPath("/participants"), f.token)
		app.do(t, req, rec, http.StatusOK, &ps)
		assert.Len(t, ps, 3)
	})
}

func Test_clientApi_flow(t *testing.T) {
	app := setup(t)
	f := newResearcherFixture(t, app)
	crit := f.createModule(t, app, "criterion", `{"config": {"questions": [{"question": "Are you 18?", "required_answer": true}]}}`)
	info := f.createModule(t, app, "basic-info", `{}`)
	instr := f.createModule(t, app, "instructions", `{"config": {"include_volume_calibration": true}}`)
	f.createParticipant(t, app, "P001")
	f.createParticipant(t, app, "P002")

	t.Run("unknown participant", func(t *testing.T) {
		code, body := clientPost(t, app, "/configuration", client.ParticipantRequest{Participant: "lol"})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.JSONEq(t, `{"participant": "This participant identifier is not correct, please contact your research assistant."}`, body)
	})

	t.Run("data before start", func(t *testing.T) {
		code, body := clientPost(t, app, "/basic-info-data", map[string]interface{}{"participant": "P001", "module": info.ID})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.JSONEq(t, `{"participant": "This participant has not started an experiment."}`, body)
	})

	t.Run("configuration starts the participant", func(t *testing.T) {
		var conf client.Configuration
		req, rec := newRequest(http.MethodPost, "/api/v1/configuration", []byte(`{"participant": "P001"}`))
		app.do(t, req, rec, http.StatusOK, &conf)
		assert.False(t, conf.ParticipantStartedAt.Valid)
		assert.Equal(t, "ACQ1", conf.Experiment.Code)
		assert.Contains(t, string(conf.Modules), `"type":"CRITERION"`)

		req, rec = newRequest(http.MethodPost, "/api/v1/configuration", []byte(`{"participant": "P001"}`))
		app.do(t, req, rec, http.StatusOK, &conf)
		assert.True(t, conf.ParticipantStartedAt.Valid)
	})

	t.Run("terms", func(t *testing.T) {
		var status client.TermsStatus
		req, rec := newRequest(http.MethodPost, "/api/v1/terms", []byte(`{"participant": "P001"}`))
		app.do(t, req, rec, http.StatusOK, &status)
		assert.True(t, status.AgreedToTermsAndConditions)
	})

	t.Run("tracking", func(t *testing.T) {
		code, body := clientPost(t, app, "/tracking", map[string]interface{}{"participant": "P001", "module": 999})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.JSONEq(t, `{"module": "Invalid module."}`, body)

		var status client.TrackingStatus
		req, rec := newRequest(http.MethodPost, "/api/v1/tracking", marchallObj(t, map[string]interface{}{"participant": "P001", "module": info.ID, "trial_index": 2}))
		app.do(t, req, rec, http.StatusOK, &status)
		assert.Equal(t, info.ID, status.CurrentModule.Int)
		assert.Equal(t, 2, status.CurrentTrial.Int)
	})

	t.Run("data", func(t *testing.T) {
		code, body := clientPost(t, app, "/basic-info-data", map[string]interface{}{"participant": "P001", "module": info.ID, "gender": "lol"})
		assert.Equal(t, http.StatusBadRequest, code, body)

		code, body = clientPost(t, app, "/basic-info-data", map[string]interface{}{"participant": "P001", "module": crit.ID})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.JSONEq(t, `{"module": "Invalid module."}`, body)

		code, body = clientPost(t, app, "/basic-info-data", map[string]interface{}{"participant": "P001", "module": info.ID, "gender": "female"})
		assert.Equal(t, http.StatusCreated, code, body)

		code, _ = clientPost(t, app, "/basic-info-data", map[string]interface{}{"participant": "P001", "module": info.ID, "gender": "female"})
		assert.Equal(t, http.StatusBadRequest, code)

		code, body = clientPost(t, app, "/criterion-data", map[string]interface{}{"participant": "P001", "module": crit.ID, "question": 1, "answer": true})
		assert.Equal(t, http.StatusCreated, code, body)

		code, body = clientPost(t, app, "/volume-calibration-data", map[string]interface{}{"participant": "P001", "module": info.ID, "calibrated_volume_level": "0.85"})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.JSONEq(t, `{"module": "Invalid module."}`, body)

		code, body = clientPost(t, app, "/volume-calibration-data", map[string]interface{}{"participant": "P001", "module": instr.ID, "calibrated_volume_level": "0.85"})
		assert.Equal(t, http.StatusCreated, code, body)
		assert.Contains(t, body, `"calibrated_volume_level":0.85`)
	})

	t.Run("researchers see the data", func(t *testing.T) {
		var rows []map[string]interface{}
		req, rec := newAuthRequest(http.MethodGet, f.expPath("/data/basic-info"), f.token)
		app.do(t, req, rec, http.StatusOK, &rows)
		require.Len(t, rows, 1)
		assert.Equal(t, "P001", rows[0]["participant"])
		assert.Equal(t, "female", rows[0]["gender"])
	})

	t.Run("wrong criterion answer locks", func(t *testing.T) {
		code, _ := clientPost(t, app, "/configuration", client.ParticipantRequest{Participant: "P002"})
		require.Equal(t, http.StatusOK, code)

		code, body := clientPost(t, app, "/criterion-data", map[string]interface{}{"participant": "P002", "module": crit.ID, "question": 1, "answer": false})
		assert.Equal(t, http.StatusCreated, code, body)

		code, body = clientPost(t, app, "/basic-info-data", map[string]interface{}{"participant": "P002", "module": info.ID})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.JSONEq(t, `{"participant": "This participant can no longer take part in the experiment."}`, body)
	})

	t.Run("submission", func(t *testing.T) {
		var status client.SubmissionStatus
		req, rec := newRequest(http.MethodPost, "/api/v1/submission", []byte(`{"participant": "P001"}`))
		app.do(t, req, rec, http.StatusOK, &status)
		assert.True(t, status.ParticipantStartedAt.Valid)
		assert.True(t, status.ParticipantFinishedAt.Valid)

		code, body := clientPost(t, app, "/basic-info-data", map[string]interface{}{"participant": "P001", "module": info.ID})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.JSONEq(t, `{"participant": "This participant has already finished the experiment."}`, body)
	})

	t.Run("unassigned voucher pool", func(t *testing.T) {
		code, body := clientPost(t, app, "/voucher", client.ParticipantRequest{Participant: "P001"})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.JSONEq(t, `{"status": "error", "error_code": "pool_unassigned", "error_message": "This experiment is not assigned a voucher pool"}`, body)
	})

	t.Run("csv export", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, f.expPath("/export/criterion"), f.token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "-criterion.csv")

		records, err := csv.NewReader(rec.Body).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, []string{
			"experiment_id", "experiment_code", "module_type", "module_id", "module_label", "participant_id", "question", "answer",
		}, records[0])
		assert.Equal(t, []string{"ACQ1", "CRITERION", "P001", "1", "True"}, []string{
			records[1][1], records[1][2], records[1][5], records[1][6], records[1][7],
		})
	})

	t.Run("zip export", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, f.expPath("/export"), f.token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))

		body := rec.Body.Bytes()
		zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
		require.NoError(t, err)
		var found bool
		for _, file := range zr.File {
			if !strings.HasSuffix(file.Name, "-basic-info.csv") {
				continue
			}
			found = true
			rc, err := file.Open()
			require.NoError(t, err)
			content, err := io.ReadAll(rc)
			require.NoError(t, err)
			_ = rc.Close()
			assert.Contains(t, string(content), "P001")
		}
		assert.True(t, found)
		assert.Len(t, zr.File, len(dataKinds))
	})

	t.Run("module with data cannot be deleted", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, f.expPath(fmt.Sprintf("/modules/basic-info/%d", info.ID)), f.token)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: []byte(`{"module": "This module has data and cannot be deleted."}`)}, rec)
	})
}

// dataKinds are the data path segments, one per kind of participant data.
var dataKinds = []string{
	"fear-conditioning", "basic-info", "criterion", "affective-rating",
	"contingency-awareness", "post-experiment-questions", "us-unpleasantness", "volume-calibration",
}

func Test_voucherApi(t *testing.T) {
	app := setup(t)
	f := newResearcherFixture(t, app)

	var pool voucher.Pool
	body := []byte(`{"name": "Amazon", "success_message": "Enjoy!", "empty_pool_message": "Sorry."}`)
	req, rec := newAuthRequest(http.MethodPost, "/v1/voucher-pools", f.token, body)
	app.do(t, req, rec, http.StatusCreated, &pool)
	poolPath := fmt.Sprintf("/v1/voucher-pools/%d", pool.ID)

	t.Run("upload", func(t *testing.T) {
		req, rec := newUploadRequest(t, http.MethodPost, poolPath+"/vouchers/upload", f.token, "lol", "codes.csv", []byte("code\nA1\n"))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: []byte(`{"import_file": "No file was submitted."}`)}, rec)

		req, rec = newUploadRequest(t, http.MethodPost, poolPath+"/vouchers/upload", f.token, "import_file", "codes.csv", []byte("voucher\nA1\n"))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: []byte(`{"import_file": "The file must have a “code” column."}`)}, rec)

		var res voucher.UploadResult
		req, rec = newUploadRequest(t, http.MethodPost, poolPath+"/vouchers/upload", f.token, "import_file", "codes.csv", []byte("code\nA1\nA1\n"))
		app.do(t, req, rec, http.StatusOK, &res)
		assert.Equal(t, voucher.UploadResult{RowCount: 1, Created: 1}, res)

		req, rec = newUploadRequest(t, http.MethodPost, poolPath+"/vouchers/upload", f.token, "import_file", "codes.csv", []byte("code\nA1\nB2\n"))
		app.do(t, req, rec, http.StatusOK, &res)
		assert.Equal(t, voucher.UploadResult{RowCount: 2, Created: 1}, res)
	})

	// assign the pool and finish two participants
	req, rec = newAuthRequest(http.MethodPut, f.expPath(""), f.token, []byte(fmt.Sprintf(`{"voucher_pool": %d}`, pool.ID)))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, pid := range []string{"P001", "P002", "P003"} {
		f.createParticipant(t, app, pid)
		code, _ := clientPost(t, app, "/configuration", client.ParticipantRequest{Participant: pid})
		require.Equal(t, http.StatusOK, code)
		code, _ = clientPost(t, app, "/submission", client.ParticipantRequest{Participant: pid})
		require.Equal(t, http.StatusOK, code)
	}

	t.Run("claim", func(t *testing.T) {
		var status client.VoucherStatus
		req, rec := newRequest(http.MethodPost, "/api/v1/voucher", []byte(`{"participant": "P001"}`))
		app.do(t, req, rec, http.StatusOK, &status)
		assert.Equal(t, client.StatusSuccess, status.Status)
		assert.Equal(t, "Enjoy!", status.SuccessMessage)
		assert.NotEmpty(t, status.Voucher)

		code, body := clientPost(t, app, "/voucher", client.ParticipantRequest{Participant: "P001"})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.JSONEq(t, `{"status": "error", "error_code": "already_claimed", "error_message": "This participant has already claimed a voucher."}`, body)

		req, rec = newRequest(http.MethodPost, "/api/v1/voucher", []byte(`{"participant": "P002"}`))
		app.do(t, req, rec, http.StatusOK, &status)
		assert.Equal(t, client.StatusSuccess, status.Status)

		req, rec = newRequest(http.MethodPost, "/api/v1/voucher", []byte(`{"participant": "P003"}`))
		app.do(t, req, rec, http.StatusOK, &status)
		assert.Equal(t, client.VoucherStatus{Status: client.StatusError, ErrorCode: client.CodePoolEmpty, ErrorMessage: "Sorry."}, status)
	})

	t.Run("vouchers", func(t *testing.T) {
		var vouchers []voucher.Voucher
		req, rec := newAuthRequest(http.MethodGet, poolPath+"/vouchers", f.token)
		app.do(t, req, rec, http.StatusOK, &vouchers)
		require.Len(t, vouchers, 2)
		for _, v := range vouchers {
			assert.True(t, v.Participant.Valid)
		}

		var got voucher.Pool
		req, rec = newAuthRequest(http.MethodGet, poolPath, f.token)
		app.do(t, req, rec, http.StatusOK, &got)
		assert.Equal(t, 2, got.VoucherCount)
		assert.Equal(t, 2, got.ClaimedCount)
	})

	t.Run("unknown pool", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, f.expPath(""), f.token, []byte(`{"voucher_pool": 999}`))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "voucher_pool")
	})
}
