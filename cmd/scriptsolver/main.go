// Command scriptsolver inspects, signs and checks the inputs of a partially
// signed transaction.
//
//	scriptsolver constraints --psbt <packet>
//	scriptsolver sign --psbt <packet> --keys <wif>,<wif> [--scripts <hex>]
//	scriptsolver check --psbt <packet>
//
// Every flag may also be set through a SCRIPTSOLVER_ prefixed environment
// variable or a scriptsolver.yaml file in the working directory.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		printErrorAndExit(err, "Failed to parse arguments")
	}

	logrus.SetLevel(cfg.LogLevel)

	if err := run(cfg, os.Stdin, os.Stdout); err != nil {
		printErrorAndExit(err, fmt.Sprintf("Failed to run %s", cfg.Command))
	}
}

func printErrorAndExit(err error, message string) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", message, err)
	os.Exit(1)
}
