// Package dedupe provides the two stores that make callback processing
// idempotent: the ExecutionTable of in-flight computations and the
// ResponseCache of completed responses.
//
// A key moves from the table to the cache exactly once. The committer adds
// the response to the cache before removing the table entry, and both steps
// happen under the table's per-key lock, so a concurrent lookup always finds
// the key in one of the two stores.
package dedupe
