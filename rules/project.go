//go:build ruleguard

// Package gorules contains custom linting rules for golangci-lint via ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// UncategorizedError detects enhanced errors built without a category.
// The control API maps categories to status codes and the metrics label
// issues by category, so an uncategorized error surfaces as a 500.
//
//	errors.New(err).Component("device").Build()
//
// should be
//
//	errors.New(err).Component("device").Category(errors.CategoryNetwork).Build()
func UncategorizedError(m dsl.Matcher) {
	m.Import("github.com/wilfranr/control-id-miid/internal/errors")

	m.Match(
		`errors.New($err).Build()`,
		`errors.Newf($*args).Build()`,
		`errors.New($err).Component($c).Build()`,
		`errors.Newf($*args).Component($c).Build()`,
	).
		Where(m.File().PkgPath.Matches(`control-id-miid/`) && !m.File().Name.Matches(`_test\.go$`)).
		Report("set a Category before Build(); uncategorized errors map to HTTP 500")
}

// StdLog detects the standard library logger outside the logger package.
// Module loggers carry the trace id and redact credentials.
func StdLog(m dsl.Matcher) {
	m.Import("log")

	m.Match(
		`log.Printf($*_)`,
		`log.Println($*_)`,
		`log.Print($*_)`,
		`log.Fatalf($*_)`,
		`log.Fatal($*_)`,
	).
		Where(!m.File().PkgPath.Matches(`internal/logger$`)).
		Report("use a module logger from internal/logger instead of the standard log package")
}

// DefaultHTTPClient detects requests through http.DefaultClient, which has no timeout.
func DefaultHTTPClient(m dsl.Matcher) {
	m.Import("net/http")

	m.Match(
		`http.Get($*_)`,
		`http.Post($*_)`,
		`http.Head($*_)`,
		`http.DefaultClient.Do($*_)`,
	).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report("use internal/httpclient; the default client has no timeout")
}

// FormattedSQL detects SQL text built with fmt.Sprintf. Enrollment and photo
// queries must pass values as parameters.
func FormattedSQL(m dsl.Matcher) {
	m.Import("fmt")

	m.Match(
		`$db.QueryContext($ctx, fmt.Sprintf($*_), $*_)`,
		`$db.QueryRowContext($ctx, fmt.Sprintf($*_), $*_)`,
		`$db.ExecContext($ctx, fmt.Sprintf($*_), $*_)`,
		`$db.Raw(fmt.Sprintf($*_), $*_)`,
	).
		Report("pass values as query parameters instead of formatting them into SQL")

	m.Match(
		`$db.Query($*_)`,
		`$db.QueryRow($*_)`,
		`$db.Exec($*_)`,
	).
		Where(m["db"].Type.Is("*database/sql.DB")).
		Report("use the Context variant so the query honors cancellation and timeouts")
}

// LoggedCredential detects credentials passed as log fields.
func LoggedCredential(m dsl.Matcher) {
	m.Import("github.com/wilfranr/control-id-miid/internal/logger")

	m.Match(
		`logger.String($key, $_)`,
		`logger.Any($key, $_)`,
	).
		Where(m["key"].Text.Matches(`(?i)"(password|passwd|secret|token|session)"`)).
		Report("do not log credentials; the session token and passwords stay out of log fields")
}
