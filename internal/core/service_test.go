package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/ingress"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/rules"
	_ "github.com/data-to-insight/csc-validator-be-903-sub000/internal/rules/ruleset"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/validator"
)

const headerCSV = "CHILD,SEX,DOB,ETHNIC,UPN,MOTHER,MC_DOB\n" +
	"101,1,01/06/2010,WBRI,,,\n" +
	"102,3,15/09/2012,WBRI,,,\n"

func request() Request {
	return Request{
		Files:          []ingress.File{{Name: "header.csv", Role: ingress.RoleThisYear, Data: []byte(headerCSV)}},
		CollectionYear: "2023/24",
		LocalAuthority: "E09000033",
	}
}

func newService(t *testing.T, opts Options) *Service {
	t.Helper()
	svc, err := NewService(opts)
	require.NoError(t, err)
	return svc
}

func TestValidate(t *testing.T) {
	svc := newService(t, Options{})
	assert.Equal(t, "2024", svc.DefaultRuleset())

	sess, err := svc.Validate(context.Background(), request())
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, datastore.FormatCSV, sess.FileFormat)
	assert.Equal(t, "2024", sess.Report.Ruleset)
	require.Len(t, sess.Report.Summary, 1)
	assert.Equal(t, "101", sess.Report.Summary[0].Code)
	require.Len(t, sess.Report.Detail, 1)
	assert.Equal(t, "102", sess.Report.Detail[0].ChildID)
	assert.Empty(t, sess.Report.Failed())

	o, ok := sess.Results.Outcome("1001")
	require.True(t, ok)
	assert.Equal(t, validator.Skipped, o.Status)

	got, err := svc.Session(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)
	assert.Equal(t, 0, svc.Limiter().Active())
}

func TestValidate_RuleSelection(t *testing.T) {
	svc := newService(t, Options{})
	req := request()
	req.Ruleset = "2023"
	req.Rules = []string{"103"}

	sess, err := svc.Validate(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, sess.Results.Outcomes, 1)
	assert.Equal(t, "103", sess.Results.Outcomes[0].Code)
	assert.Empty(t, sess.Report.Summary)
}

func TestValidate_Errors(t *testing.T) {
	svc := newService(t, Options{})

	tests := []struct {
		name   string
		modify func(*Request)
		target error
		code   string
	}{
		{"unknown ruleset", func(r *Request) { r.Ruleset = "1999" }, rules.ErrUnknownRuleset, "RULE002"},
		{"unknown rule", func(r *Request) { r.Rules = []string{"NOPE"} }, rules.ErrUnknownRule, "RULE001"},
		{"no files", func(r *Request) { r.Files = nil }, ingress.ErrNoFiles, "UPL001"},
		{"bad year", func(r *Request) { r.CollectionYear = "soon" }, datastore.ErrInvalidCollectionYear, "VAL001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request()
			tt.modify(&req)
			_, err := svc.Validate(context.Background(), req)
			require.ErrorIs(t, err, tt.target)
			assert.Equal(t, tt.code, MapError(err).Code)
		})
	}
	assert.Empty(t, svc.Sessions())
}

func TestValidate_Busy(t *testing.T) {
	lim := NewSessionLimiter(1, 10*time.Millisecond)
	svc := newService(t, Options{Limiter: lim})
	require.True(t, lim.TryAcquire())
	defer lim.Release()

	_, err := svc.Validate(context.Background(), request())
	assert.ErrorIs(t, err, ErrTooManySessions)
	assert.Equal(t, "SES001", MapError(err).Code)
}

func TestSessions_Retention(t *testing.T) {
	svc := newService(t, Options{Retain: 2})
	var ids []string
	for i := 0; i < 3; i++ {
		sess, err := svc.Validate(context.Background(), request())
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}

	list := svc.Sessions()
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[1], list[1].ID)
	assert.Equal(t, 1, list[0].Flagged)

	_, err := svc.Session(ids[0])
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

type recordingCopier struct {
	tables []string
	err    error
}

func (c *recordingCopier) CopyFrom(_ context.Context, table pgx.Identifier, _ []string, src pgx.CopyFromSource) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.tables = append(c.tables, table.Sanitize())
	var n int64
	for src.Next() {
		n++
	}
	return n, nil
}

func TestValidate_Export(t *testing.T) {
	db := &recordingCopier{}
	svc := newService(t, Options{Exporter: db})

	sess, err := svc.Validate(context.Background(), request())
	require.NoError(t, err)
	assert.NoError(t, sess.ExportErr)
	assert.Equal(t, []string{`"validation_summary"`, `"validation_detail"`}, db.tables)
}

func TestValidate_ExportFailureKeepsSession(t *testing.T) {
	svc := newService(t, Options{Exporter: &recordingCopier{err: errors.New("connection refused")}})

	sess, err := svc.Validate(context.Background(), request())
	require.NoError(t, err)
	require.Error(t, sess.ExportErr)
	assert.Contains(t, sess.ExportErr.Error(), sess.ID)
	assert.Len(t, svc.Sessions(), 1)
}

func TestNewService_UnknownDefault(t *testing.T) {
	_, err := NewService(Options{DefaultRuleset: "1999"})
	assert.ErrorIs(t, err, rules.ErrUnknownRuleset)
}
