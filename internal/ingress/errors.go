package ingress

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel causes wrapped by UploadError. Callers match them with errors.Is.
var (
	ErrNoFiles           = errors.New("no data files uploaded")
	ErrMixedExtensions   = errors.New("data files must all be .csv or all be .xml")
	ErrUnsupportedFile   = errors.New("unsupported file type")
	ErrUnmatchedColumns  = errors.New("columns do not match any known file")
	ErrAmbiguousColumns  = errors.New("columns match more than one known file")
	ErrDuplicateTable    = errors.New("more than one file supplied for the same table")
	ErrMalformedFile     = errors.New("file could not be parsed")
	ErrLookupCount       = errors.New("wrong number of lookup files")
	ErrLookupLayout      = errors.New("lookup file layout not recognised")
	ErrLookupMissingData = errors.New("lookup file is missing expected sheets or columns")
	ErrUnknownRole       = errors.New("unknown file role")
)

// UploadError reports malformed, ambiguous, missing or mismatched input.
// It is fatal to the run and is always returned before any rule executes.
type UploadError struct {
	File    string   // offending file, if any
	Columns []string // offending columns, sheets or tags, if any
	Err     error
}

func (e *UploadError) Error() string {
	var b strings.Builder
	b.WriteString("upload error")
	if e.File != "" {
		fmt.Fprintf(&b, " in %s", e.File)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if len(e.Columns) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Columns, ", "))
	}
	return b.String()
}

func (e *UploadError) Unwrap() error { return e.Err }

func uploadErr(file string, err error, cols ...string) *UploadError {
	return &UploadError{File: file, Columns: cols, Err: err}
}
