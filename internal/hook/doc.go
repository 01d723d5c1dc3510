// Package hook runs the setup and teardown phases of a load test.
//
// A hook is either declarative (a sleep followed by requests with checks
// and JSONPath extraction) or a Go function. Setup returns Data which later
// requests and the teardown reference as {{setup.<name>}}.
//
// Failure handling:
//   - Setup failure: the test body is skipped, teardown still runs
//   - Teardown: always runs, its failure fails the verdict
package hook
