package events

import "time"

// RewriteStart is emitted before a query is run through the authorization rewrite.
type RewriteStart struct {
	OperationName string
	OperationType string
}

// RewriteFinish is emitted once the rewritten document is produced or the rewrite fails.
type RewriteFinish struct {
	OperationName string
	OperationType string
	// Actions is the number of filter edits replayed onto the document.
	Actions  int
	Code     string
	Err      error
	Duration time.Duration
}
