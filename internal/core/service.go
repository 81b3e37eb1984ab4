package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/ingress"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/logging"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/report"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/rules"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/validator"
)

// ErrSessionNotFound is returned for an unknown or evicted session ID.
var ErrSessionNotFound = errors.New("validation session not found")

// DefaultRetain is how many finished sessions are kept for re-rendering.
const DefaultRetain = 32

// Options configures a Service. Zero values take defaults.
type Options struct {
	Limiter        *SessionLimiter
	DefaultRuleset string
	RuleTimeout    time.Duration
	// Postcodes is the postcode reference table. Nil disables geography.
	Postcodes *datastore.Table
	Metrics   *validator.Metrics
	// Exporter receives every report when set.
	Exporter report.Copier
	Logger   *slog.Logger
	Retain   int
}

// Request is one validation: uploaded files plus run metadata.
type Request struct {
	Files          []ingress.File
	CollectionYear string
	LocalAuthority string
	// Ruleset defaults to the service's default ruleset.
	Ruleset string
	// Rules restricts the run to these codes; empty runs them all.
	Rules []string
}

// Session is a finished validation.
type Session struct {
	ID             string
	CollectionYear string
	LocalAuthority string
	FileFormat     string
	Started        time.Time
	Finished       time.Time
	Results        *validator.Results
	Report         *report.Report
	// ExportErr is set when the report could not be written to the results
	// database. The session itself is still valid.
	ExportErr error
}

// SessionInfo summarises a session for listings.
type SessionInfo struct {
	ID             string    `json:"id"`
	Ruleset        string    `json:"ruleset"`
	CollectionYear string    `json:"collection_year"`
	LocalAuthority string    `json:"local_authority,omitempty"`
	FileFormat     string    `json:"file_format"`
	Started        time.Time `json:"started"`
	DurationMS     int64     `json:"duration_ms"`
	Flagged        int       `json:"flagged"`
	Failed         int       `json:"failed"`
}

// Info returns the listing summary of s.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:             s.ID,
		Ruleset:        s.Report.Ruleset,
		CollectionYear: s.CollectionYear,
		LocalAuthority: s.LocalAuthority,
		FileFormat:     s.FileFormat,
		Started:        s.Started,
		DurationMS:     s.Finished.Sub(s.Started).Milliseconds(),
		Flagged:        len(s.Report.Detail),
		Failed:         len(s.Report.Failed()),
	}
}

// Service runs validation sessions end to end: ingest, build the datastore,
// run the rules and build the report.
type Service struct {
	limiter        *SessionLimiter
	defaultRuleset string
	ruleTimeout    time.Duration
	postcodes      *datastore.Table
	postcodeIdx    *datastore.PostcodeIndex
	metrics        *validator.Metrics
	exporter       report.Copier
	logger         *slog.Logger
	retain         int

	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
}

// NewService returns a Service. The default ruleset must be registered.
func NewService(opts Options) (*Service, error) {
	if opts.DefaultRuleset == "" {
		versions := rules.Versions()
		if len(versions) == 0 {
			return nil, errors.New("no rulesets registered")
		}
		opts.DefaultRuleset = versions[len(versions)-1]
	}
	if _, err := rules.Ruleset(opts.DefaultRuleset); err != nil {
		return nil, err
	}
	if opts.Limiter == nil {
		opts.Limiter = NewSessionLimiter(DefaultMaxSessions, DefaultMaxWait)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retain <= 0 {
		opts.Retain = DefaultRetain
	}

	s := &Service{
		limiter:        opts.Limiter,
		defaultRuleset: opts.DefaultRuleset,
		ruleTimeout:    opts.RuleTimeout,
		postcodes:      opts.Postcodes,
		metrics:        opts.Metrics,
		exporter:       opts.Exporter,
		logger:         opts.Logger,
		retain:         opts.Retain,
		sessions:       make(map[string]*Session),
	}
	if opts.Postcodes != nil {
		s.postcodeIdx = datastore.NewPostcodeIndex(opts.Postcodes)
	}
	return s, nil
}

// Limiter returns the session limiter, for shutdown and health checks.
func (s *Service) Limiter() *SessionLimiter { return s.limiter }

// DefaultRuleset returns the version used when a request names none.
func (s *Service) DefaultRuleset() string { return s.defaultRuleset }

// Validate runs one validation session. Upload, ruleset and rule-code
// errors are returned before any rule runs; rule failures are recorded in
// the session's outcomes instead.
func (s *Service) Validate(ctx context.Context, req Request) (*Session, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	version := req.Ruleset
	if version == "" {
		version = s.defaultRuleset
	}
	reg, err := rules.Ruleset(version)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:             uuid.NewString(),
		CollectionYear: req.CollectionYear,
		LocalAuthority: req.LocalAuthority,
		Started:        time.Now(),
	}
	ctx = logging.WithSession(ctx, sess.ID)
	logger := logging.Enrich(ctx, s.logger)

	up, err := ingress.Read(ctx, req.Files, ingress.Options{Postcodes: s.postcodeIdx, Logger: logger})
	if err != nil {
		return nil, err
	}
	sess.FileFormat = up.FileFormat

	ds, err := datastore.Create(up.Tables, datastore.Metadata{
		CollectionYear: req.CollectionYear,
		LocalAuthority: req.LocalAuthority,
		FileFormat:     up.FileFormat,
		ProviderInfo:   up.ProviderInfo,
		Postcodes:      s.postcodes,
	})
	if err != nil {
		return nil, err
	}

	v := validator.New(reg,
		validator.WithTimeout(s.ruleTimeout),
		validator.WithLogger(logger),
		validator.WithMetrics(s.metrics),
	)
	sess.Results, err = v.Run(ctx, ds, req.Rules)
	if err != nil {
		return nil, err
	}
	sess.Report = report.Build(sess.Results, reg)
	sess.Finished = time.Now()

	if s.exporter != nil {
		summary, detail, err := sess.Report.ExportPostgres(ctx, s.exporter, sess.ID)
		if err != nil {
			sess.ExportErr = fmt.Errorf("export session %s: %w", sess.ID, err)
			logger.Warn("report export failed", "error", err)
		} else {
			logger.Debug("report exported", "summary_rows", summary, "detail_rows", detail)
		}
	}

	s.store(sess)
	logger.Info("validation session complete",
		"ruleset", reg.Version(),
		"format", sess.FileFormat,
		"flagged", len(sess.Report.Detail),
		"failed", len(sess.Report.Failed()),
		"duration_ms", sess.Finished.Sub(sess.Started).Milliseconds(),
	)
	return sess, nil
}

// store keeps sess, evicting the oldest sessions beyond the retain limit.
func (s *Service) store(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ID] = sess
	s.order = append(s.order, sess.ID)
	for len(s.order) > s.retain {
		delete(s.sessions, s.order[0])
		s.order = s.order[1:]
	}
}

// Session returns a retained session.
func (s *Service) Session(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Sessions lists retained sessions, newest first.
func (s *Service) Sessions() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SessionInfo, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.sessions[s.order[i]].Info())
	}
	return out
}
