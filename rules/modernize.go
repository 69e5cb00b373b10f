//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupModernize detects goroutines that can use wg.Go (Go 1.25+).
//
//	wg.Add(1)
//	go func() {
//	    defer wg.Done()
//	    work()
//	}()
//
// becomes
//
//	wg.Go(work)
func WaitGroupModernize(m dsl.Matcher) {
	m.Match(`go func() { defer $wg.Done(); $*_ }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup")).
		Report("Use $wg.Go(func() { ... }) instead of go func() { defer $wg.Done(); ... }() (Go 1.25+)").
		Suggest("$wg.Go(func() { $*_ })")

	m.Match(`$wg.Add(1)`).
		Where(m["wg"].Type.Is("*sync.WaitGroup")).
		Report("Consider using $wg.Go() which calls Add(1) automatically (Go 1.25+)")
}

// TestingContext detects context.Background() and context.TODO() in tests.
// t.Context() is cancelled when the test ends, which stops the sync loop,
// the queue consumer and the bus workers started by the test.
func TestingContext(m dsl.Matcher) {
	m.Match(
		`$ctx := context.Background()`,
		`$ctx := context.TODO()`,
		`$fn(context.Background(), $*args)`,
		`$fn(context.TODO(), $*args)`,
	).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("in tests, use t.Context() instead (Go 1.24+)")
}

// LoopTimer detects time.After inside a select of a for loop. Every
// iteration allocates a timer; the poll loop uses a reusable timer.
func LoopTimer(m dsl.Matcher) {
	m.Match(`for { select { $*_; case <-time.After($d): $*_; $*_ } }`,
		`for { select { case <-time.After($d): $*_; $*_ } }`).
		Report("use a time.Timer that is stopped or reset instead of time.After in a loop")
}

// StringsCut detects Index-and-slice splits that strings.Cut expresses directly.
func StringsCut(m dsl.Matcher) {
	m.Match(`if $i := strings.Index($s, $sep); $i != -1 { $*_ }`,
		`if $i := strings.Index($s, $sep); $i >= 0 { $*_ }`).
		Report("use strings.Cut($s, $sep) instead of strings.Index with slicing (Go 1.18+)")
}
