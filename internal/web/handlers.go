package web

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/core"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/ingress"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/report"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/rules"
)

// SessionHeader carries the session ID on validation responses.
const SessionHeader = "X-Session-ID"

// Table export formats besides CSV.
const formatParquet = "parquet"

type healthResponse struct {
	Status   string             `json:"status"`
	Sessions core.LimiterStatus `json:"sessions"`
	Rulesets []string           `json:"rulesets"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: s.service.Limiter().Status(),
		Rulesets: rules.Versions(),
	})
}

type rulesetInfo struct {
	Version string `json:"version"`
	Rules   int    `json:"rules"`
	Default bool   `json:"default"`
}

func (s *Server) handleListRulesets(w http.ResponseWriter, r *http.Request) {
	var out []rulesetInfo
	for _, v := range rules.Versions() {
		reg, err := rules.Ruleset(v)
		if err != nil {
			continue
		}
		out = append(out, rulesetInfo{Version: v, Rules: reg.Len(), Default: v == s.service.DefaultRuleset()})
	}
	writeJSON(w, http.StatusOK, out)
}

type ruleInfo struct {
	Code           string   `json:"code"`
	Message        string   `json:"message"`
	AffectedFields []string `json:"affected_fields"`
	Tables         []string `json:"tables"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	reg, err := rules.Ruleset(chi.URLParam(r, "version"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	all := reg.Rules()
	out := make([]ruleInfo, len(all))
	for i, rule := range all {
		out[i] = ruleInfo{Code: rule.Code, Message: rule.Message, AffectedFields: rule.AffectedFields, Tables: rule.Tables}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleValidate runs a session from a multipart upload. File fields are
// named by role (this_year, prior_year, ch_lookup, scp_lookup) and may
// repeat. Form values: collection_year, la, ruleset, rules (comma
// separated codes) and format.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		badRequest(w, "Upload too large or not a multipart form", fmt.Sprintf("Keep uploads under %d bytes", maxSize))
		return
	}
	defer r.MultipartForm.RemoveAll()

	format := requestFormat(r)
	if !slices.Contains(report.Formats(), format) {
		respondError(w, r, fmt.Errorf("%w: %q", report.ErrUnknownFormat, format))
		return
	}

	files, err := uploadedFiles(r.MultipartForm)
	if err != nil {
		respondError(w, r, err)
		return
	}
	year := strings.TrimSpace(r.FormValue("collection_year"))
	if year == "" {
		badRequest(w, "Collection year is required", "Set collection_year, for example 2023/24")
		return
	}

	sess, err := s.service.Validate(r.Context(), core.Request{
		Files:          files,
		CollectionYear: year,
		LocalAuthority: strings.TrimSpace(r.FormValue("la")),
		Ruleset:        strings.TrimSpace(r.FormValue("ruleset")),
		Rules:          splitList(r.FormValue("rules")),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set(SessionHeader, sess.ID)
	writeReport(w, r, sess, format)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Sessions())
}

// handleSessionReport re-renders a retained session's report.
func (s *Server) handleSessionReport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.Session(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	format := requestFormat(r)
	if !slices.Contains(report.Formats(), format) {
		respondError(w, r, fmt.Errorf("%w: %q", report.ErrUnknownFormat, format))
		return
	}
	writeReport(w, r, sess, format)
}

// handleSessionTable exports one results table as CSV, or as Parquet with
// its ERR_ flag columns.
func (s *Server) handleSessionTable(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.Session(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	name := chi.URLParam(r, "table")
	t, ok := sess.Results.Store.Table(name)
	if !ok {
		respondMessage(w, core.UserMessage{
			Message: "Table not found in this session",
			Action:  "Choose one of: " + strings.Join(sess.Results.Store.Names(), ", "),
			Code:    "TBL001",
			Status:  http.StatusNotFound,
		})
		return
	}

	var (
		buf         bytes.Buffer
		contentType string
	)
	switch format := requestFormatOr(r, report.FormatCSV); format {
	case report.FormatCSV:
		contentType = report.ContentType(report.FormatCSV)
		err = ingress.WriteCSV(&buf, t)
	case formatParquet:
		contentType = "application/vnd.apache.parquet"
		err = report.WriteParquet(&buf, t)
	default:
		respondError(w, r, fmt.Errorf("%w: %q", report.ErrUnknownFormat, format))
		return
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-%s.%s"`, name, sess.ID, requestFormatOr(r, report.FormatCSV)))
	_, _ = io.Copy(w, &buf)
}

// writeReport renders fully before writing so render errors still get an
// error response.
func writeReport(w http.ResponseWriter, r *http.Request, sess *core.Session, format string) {
	var buf bytes.Buffer
	if err := sess.Report.Write(&buf, format); err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", report.ContentType(format))
	if format == report.FormatCSV || format == report.FormatXLSX {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="report-%s.%s"`, sess.ID, format))
	}
	_, _ = io.Copy(w, &buf)
}

func requestFormat(r *http.Request) string {
	return requestFormatOr(r, report.FormatJSON)
}

func requestFormatOr(r *http.Request, def string) string {
	if f := strings.ToLower(strings.TrimSpace(r.FormValue("format"))); f != "" {
		return f
	}
	return def
}

// uploadedFiles reads every multipart file, tagging it with the role named
// by its field.
func uploadedFiles(form *multipart.Form) ([]ingress.File, error) {
	fields := make([]string, 0, len(form.File))
	for f := range form.File {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var files []ingress.File
	for _, field := range fields {
		role, err := ingress.ParseRole(field)
		if err != nil {
			return nil, err
		}
		for _, fh := range form.File[field] {
			data, err := readPart(fh)
			if err != nil {
				return nil, &ingress.UploadError{File: fh.Filename, Err: errors.Join(ingress.ErrMalformedFile, err)}
			}
			files = append(files, ingress.File{Name: fh.Filename, Role: role, Data: data})
		}
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
