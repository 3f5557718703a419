package basic

import (
	"github.com/tobi-laa/embedded-valkey/internal/logging"
)

const loggerName = "basic_cluster"

var defaultLogger = logging.Default(loggerName)

// Must panics if the last arg in its arg list is an error.
func Must(args ...interface{}) {
	err, ok := args[len(args)-1].(error)
	if ok {
		panic(err)
	}
}

func Must2[V any](v V, err error) V {
	if err != nil {
		panic(err)
	}
	return v
}
