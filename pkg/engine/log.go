package engine

import (
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("pkg", "engine")

// logClosure is used to provide a closure over expensive logging operations
// so they are only performed when the logging level requires it.
type logClosure func() string

// String invokes the underlying function and returns the result.
func (c logClosure) String() string {
	return c()
}

// newLogClosure returns a new closure over a function that returns a string
// which itself provides a Stringer interface so that it can be used with the
// logging system.
func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}
