// Package logging contains the shared logger used by both mtrip runtime
// modes. Logs go to the standard error in a structured JSON format so a
// meter or reflector running under a supervisor can be processed with
// standard tooling.
package logging

import (
	golog "log"
	"net/http"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/gorilla/handlers"
)

// Logger is the process-wide logger. Measurement progress and per-round
// details are logged at Debug, recoverable per-datagram failures at Warn,
// and lifecycle events at Info.
var Logger = log.Logger{
	Handler: json.New(os.Stderr),
	Level:   log.InfoLevel,
}

// MakeAccessLogHandler wraps |handler| with another handler that logs
// access to each resource on the standard output. mtrip only serves HTTP
// on the optional metrics endpoint; scrapes are logged in the standard
// access-log format rather than JSON, since that format is what log
// processors already understand.
func MakeAccessLogHandler(handler http.Handler) http.Handler {
	return handlers.LoggingHandler(golog.Writer(), handler)
}
