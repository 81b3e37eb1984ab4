package web

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/config"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/core"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/report"
	_ "github.com/data-to-insight/csc-validator-be-903-sub000/internal/rules/ruleset"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/validator"
)

const headerCSV = "CHILD,SEX,DOB,ETHNIC,UPN,MOTHER,MC_DOB\n" +
	"101,1,01/06/2010,WBRI,,,\n" +
	"102,3,15/09/2012,WBRI,,,\n"

func newTestServer(t *testing.T, vars map[string]string) *Server {
	t.Helper()
	cfg, err := config.LoadFrom(func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	svc, err := core.NewService(core.Options{
		DefaultRuleset: cfg.Validation.DefaultRuleset,
		Metrics:        validator.NewMetrics(reg),
	})
	require.NoError(t, err)
	return NewServer(svc, cfg, reg)
}

type part struct {
	field, name, data string
}

func multipartBody(t *testing.T, parts []part, values map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := mw.CreateFormFile(p.field, p.name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, p.data)
		require.NoError(t, err)
	}
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func validate(t *testing.T, s *Server, parts []part, values map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, parts, values)
	req := httptest.NewRequest(http.MethodPost, "/api/validate", body)
	req.Header.Set("Content-Type", ct)
	return serve(s, req)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, []string{"2023", "2024"}, body.Rulesets)
	assert.Equal(t, core.DefaultMaxSessions, body.Sessions.Capacity)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRulesets(t *testing.T) {
	s := newTestServer(t, nil)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/rulesets", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var sets []rulesetInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sets))
	require.Len(t, sets, 2)
	assert.False(t, sets[0].Default)
	assert.True(t, sets[1].Default)
	assert.Greater(t, sets[1].Rules, sets[0].Rules)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/rulesets/2024/rules", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []ruleInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, "101", list[0].Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/rulesets/1999/rules", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "RULE002", decodeError(t, rec).Code)
}

func TestValidate_JSON(t *testing.T) {
	s := newTestServer(t, nil)
	rec := validate(t, s,
		[]part{{"this_year", "header.csv", headerCSV}},
		map[string]string{"collection_year": "2023/24", "la": "E09000033"},
	)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := rec.Header().Get(SessionHeader)
	require.NotEmpty(t, id)

	var rep report.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "2024", rep.Ruleset)
	require.Len(t, rep.Summary, 1)
	assert.Equal(t, "101", rep.Summary[0].Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	var sessions []core.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"?format=csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), id)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Summary"))

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/tables/Header", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "CHILD,SEX,DOB"))

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/tables/Header?format=parquet", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PAR1")))

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/tables/Nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "validator_rule_outcomes_total")
}

func TestValidate_HTML(t *testing.T) {
	s := newTestServer(t, nil)
	rec := validate(t, s,
		[]part{{"this_year", "header.csv", headerCSV}},
		map[string]string{"collection_year": "2023/24", "format": "html", "ruleset": "2023", "rules": "101, 103"},
	)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Ruleset 2023")
}

func TestValidate_Errors(t *testing.T) {
	s := newTestServer(t, nil)
	year := map[string]string{"collection_year": "2023/24"}

	tests := []struct {
		name   string
		parts  []part
		values map[string]string
		status int
		code   string
	}{
		{"no files", nil, year, http.StatusBadRequest, "UPL001"},
		{"unknown role", []part{{"next_year", "header.csv", headerCSV}}, year, http.StatusBadRequest, "UPL008"},
		{"unmatched columns", []part{{"this_year", "odd.csv", "CHILD,SHOE\n1,9\n"}}, year, http.StatusUnprocessableEntity, "UPL004"},
		{"missing year", []part{{"this_year", "header.csv", headerCSV}}, nil, http.StatusBadRequest, "REQ001"},
		{"bad format", []part{{"this_year", "header.csv", headerCSV}},
			map[string]string{"collection_year": "2023/24", "format": "pdf"}, http.StatusBadRequest, "RPT001"},
		{"unknown rule", []part{{"this_year", "header.csv", headerCSV}},
			map[string]string{"collection_year": "2023/24", "rules": "ZZZ"}, http.StatusBadRequest, "RULE001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validate(t, s, tt.parts, tt.values)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/sessions/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SES002", decodeError(t, rec).Code)
}

func TestUnmatchedColumnsDetail(t *testing.T) {
	s := newTestServer(t, nil)
	rec := validate(t, s,
		[]part{{"this_year", "odd.csv", "CHILD,SHOE\n1,9\n"}},
		map[string]string{"collection_year": "2023/24"},
	)
	assert.Contains(t, decodeError(t, rec).Detail, "odd.csv")
}

func TestAPIKeyAuth(t *testing.T) {
	s := newTestServer(t, map[string]string{"REQUIRE_API_KEY": "true", "API_KEYS": "k1,k2"})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/rulesets", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/rulesets", nil)
	req.Header.Set("X-API-Key", "wrong")
	assert.Equal(t, http.StatusForbidden, serve(s, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/rulesets", nil)
	req.Header.Set("Authorization", "Bearer k2")
	assert.Equal(t, http.StatusOK, serve(s, req).Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
