// Package logging provides the small per-component log.Logger wrapper used
// throughout this module, matching the teacher's convention of prefixing
// standard-library log lines with a bracketed component tag (see
// internal/api/job_manager.go's "[JobManager] ..." lines in the teacher).
package logging

import (
	"log"
	"os"
)

// Component returns a *log.Logger that prefixes every line with
// "[name] ".
func Component(name string) *log.Logger {
	return log.New(os.Stderr, "["+name+"] ", log.LstdFlags)
}
