package psbtsolve

import "github.com/sirupsen/logrus"

var log = logrus.WithField("pkg", "psbtsolve")
