package main

import (
	"strings"

	"github.com/btcsuite/btcd/txscript"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "SCRIPTSOLVER"
	configFileName = "scriptsolver"
)

const (
	cmdConstraints = "constraints"
	cmdSign        = "sign"
	cmdCheck       = "check"
)

type config struct {
	Command  string
	PSBT     string
	Input    int
	Keys     []string
	Scripts  []string
	SigHash  txscript.SigHashType
	LogLevel logrus.Level
}

func newFlagSet(command string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(command, pflag.ContinueOnError)
	fs.String("psbt", "", "packet in base64 or hex, - reads it from stdin")
	fs.Int("input", -1, "input to work on, every input when negative")
	fs.StringSlice("keys", nil, "WIF encoded private keys")
	fs.StringSlice("scripts", nil, "hex encoded redeem and witness scripts")
	fs.String("sighash", "", "hash type of new signatures, e.g. all or single|anyonecanpay")
	fs.String("loglevel", "info", "logging level")
	fs.String("config", "", "path of the configuration file")
	return fs
}

// loadConfig reads the configuration of a command from args, the
// environment and the configuration file, in decreasing priority.
func loadConfig(args []string) (*config, error) {
	if len(args) == 0 {
		return nil, errors.Errorf("missing command, expected one of %s, "+
			"%s or %s", cmdConstraints, cmdSign, cmdCheck)
	}

	command := args[0]
	switch command {
	case cmdConstraints, cmdSign, cmdCheck:
	default:
		return nil, errors.Errorf("unknown command %q", command)
	}

	fs := newFlagSet(command)
	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, errors.Wrap(err, "unable to bind flags")
	}
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "unable to read %s", path)
		}
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "unable to read config")
			}
		}
	}

	cfg := &config{
		Command: command,
		PSBT:    v.GetString("psbt"),
		Input:   v.GetInt("input"),
		Keys:    v.GetStringSlice("keys"),
		Scripts: v.GetStringSlice("scripts"),
	}
	if cfg.PSBT == "" && fs.NArg() > 0 {
		cfg.PSBT = fs.Arg(0)
	}
	if cfg.PSBT == "" {
		return nil, errors.New("no packet given")
	}

	sigHash, err := parseSigHash(v.GetString("sighash"))
	if err != nil {
		return nil, err
	}
	cfg.SigHash = sigHash

	level, err := logrus.ParseLevel(v.GetString("loglevel"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}
	cfg.LogLevel = level

	return cfg, nil
}

// parseSigHash parses a hash type such as "all" or "none|anyonecanpay".
// The empty string leaves the hash type to the solver.
func parseSigHash(s string) (txscript.SigHashType, error) {
	if s == "" {
		return 0, nil
	}

	var (
		base         txscript.SigHashType
		anyoneCanPay bool
	)
	for _, part := range strings.Split(strings.ToLower(s), "|") {
		var next txscript.SigHashType
		switch strings.TrimSpace(part) {
		case "all":
			next = txscript.SigHashAll
		case "none":
			next = txscript.SigHashNone
		case "single":
			next = txscript.SigHashSingle
		case "anyonecanpay":
			if anyoneCanPay {
				return 0, errors.Errorf("sighash %q repeats "+
					"anyonecanpay", s)
			}
			anyoneCanPay = true
			continue
		default:
			return 0, errors.Errorf("invalid sighash %q", s)
		}

		if base != 0 {
			return 0, errors.Errorf("sighash %q has more than one "+
				"base type", s)
		}
		base = next
	}

	if base == 0 {
		return 0, errors.Errorf("sighash %q has no base type", s)
	}

	hashType := base
	if anyoneCanPay {
		hashType |= txscript.SigHashAnyOneCanPay
	}
	return hashType, nil
}
