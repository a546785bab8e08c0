package solver

import (
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("pkg", "solver")
