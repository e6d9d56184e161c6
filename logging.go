package eventbus

import "github.com/sirupsen/logrus"

// newLogger builds the per-instance logger. Debug mode drops the level to
// Debug so reader/maintenance diagnostics (decode failures, swallowed
// maintenance errors) are visible; otherwise only Info and above are kept,
// mirroring how kafka's plugin gates its own trace() helper.
func newLogger(id string, debug bool) *logrus.Entry {
	log := logrus.New()
	if debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	return log.WithFields(logrus.Fields{
		"component": "eventbus",
		"instance":  id,
	})
}
