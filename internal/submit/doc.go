// Package submit coordinates convert-then-send operations against the match
// service. Each save, search or download is tracked as an Operation whose
// status moves idle -> pending -> succeeded|failed and may be reset to idle
// once finished. Batches run in parallel and failures stay per item.
package submit
