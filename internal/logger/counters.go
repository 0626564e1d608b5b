package logger

import (
	"net/http"
	"sync/atomic"
)

// Counters are exported through internal/metrics. They count every event,
// whether or not its log line was sampled.
var (
	TotalErrors      atomic.Int64
	TotalWarnings    atomic.Int64
	Total5xxErrors   atomic.Int64
	Total4xxErrors   atomic.Int64
	Conflicts        atomic.Int64 // 409: stale revisions, duplicate forms, locked fields
	Unprocessable    atomic.Int64 // 422: invalid schemas, incomplete steps
	SlowRequests     atomic.Int64
	ConnPoolWarnings atomic.Int64
	RuleWarnings     atomic.Int64
)

// ErrorHttp5xx counts a server error response. The handler logs the cause.
func ErrorHttp5xx() {
	Total5xxErrors.Add(1)
	TotalErrors.Add(1)
}

// WarnHttp4xx counts a client error response
func WarnHttp4xx(status int) {
	Total4xxErrors.Add(1)
	TotalWarnings.Add(1)
	switch status {
	case http.StatusConflict:
		Conflicts.Add(1)
	case http.StatusUnprocessableEntity:
		Unprocessable.Add(1)
	}
}

func WarnSlowRequest() {
	SlowRequests.Add(1)
	TotalWarnings.Add(1)
}

func WarnConnPool(inUse, maxOpen int) {
	ConnPoolWarnings.Add(1)
	Warn("database connection pool exhausted", "in_use", inUse, "max_open", maxOpen)
}

// WarnRule records a non-fatal problem the engine reported while evaluating a form.
// The form keeps working; the warning is for its authors.
func WarnRule(formID, kind, ruleID, detail string) {
	RuleWarnings.Add(1)
	Warn("rule warning",
		"form_id", formID,
		"kind", kind,
		"rule_id", ruleID,
		"detail", detail,
	)
}
