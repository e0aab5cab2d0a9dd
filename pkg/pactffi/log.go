package pactffi

import (
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const DefaultLogEnvVar = "LOG_LEVEL"

var initOnce sync.Once

// Init configures logging from the level held by the logEnvVar environment
// variable. Only the first call has an effect.
func Init(logEnvVar string) {
	initOnce.Do(func() {
		if logEnvVar == "" {
			logEnvVar = DefaultLogEnvVar
		}
		if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
			log.SetFormatter(&log.JSONFormatter{})
		}
		value := os.Getenv(logEnvVar)
		if value == "" {
			return
		}
		level, err := log.ParseLevel(value)
		if err != nil {
			log.WithError(err).Warnf("ignoring invalid log level in %s", logEnvVar)
			return
		}
		log.SetLevel(level)
	})
}

// recoverTo turns a panic in op into the sentinel value.
func recoverTo[T any](target *T, sentinel T, op string) {
	if r := recover(); r != nil {
		logPanic(op, r)
		*target = sentinel
	}
}

// recoverResult turns a panic in op into a failed result.
func recoverResult(target *StringResult, op string) {
	if r := recover(); r != nil {
		logPanic(op, r)
		*target = failedResult(errors.Errorf("panic in %s: %v", op, r))
	}
}

func logPanic(op string, r interface{}) {
	log.WithFields(log.Fields{
		"operation": op,
		"panic":     fmt.Sprintf("%v", r),
	}).Errorf("recovered from panic\n%s", debug.Stack())
}
