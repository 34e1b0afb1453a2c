package lib

import (
	log "github.com/sirupsen/logrus"
)

func Log() *log.Entry {
	return log.WithFields(log.Fields{})
}

func LogE(err error) *log.Entry {
	return Log().WithError(err)
}

// SetVerbose switches the process-wide log level to debug.
func SetVerbose(verbose bool) {
	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}
