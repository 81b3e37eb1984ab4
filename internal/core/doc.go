// Package core runs SSDA903 validation sessions independent of any
// transport. The web server and the command line both go through
// [Service.Validate].
//
// # Sessions
//
// A session takes the uploaded files and run metadata, ingests them into
// canonical tables, builds the datastore for the collection year, runs the
// selected ruleset and builds the report:
//
//	sess, err := svc.Validate(ctx, core.Request{
//	    Files:          files,
//	    CollectionYear: "2023/24",
//	    LocalAuthority: "E09000033",
//	})
//
// Sessions are bounded by a [SessionLimiter]. Finished sessions are kept in
// memory, oldest evicted first, so a report can be fetched again in another
// format without re-running the rules.
//
// # Error Handling
//
// Errors are mapped to user-facing messages with [MapError]. Each carries a
// code that uploaders can quote to support:
//
//   - UPL001-UPL008: upload errors (missing, mixed or unreadable files)
//   - LKP001-LKP003: provider lookup errors
//   - RULE001-RULE002: unknown rule codes or ruleset versions
//   - RPT001: unsupported report format
//   - SES001-SES004: busy, unknown session, cancelled, timed out
package core
