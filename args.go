package main

import (
	"flag"
	"path/filepath"

	"github.com/pkg/errors"
)

// Args are command line arguments.
type Args struct {
	Address    string
	Port       string
	Name       string
	ConfigFile string
}

func getArgs() (Args, error) {
	var args Args

	flag.StringVar(&args.Address, "a", "", "Bind address.")
	flag.StringVar(&args.Address, "address", "", "Bind address.")
	flag.StringVar(&args.Port, "p", "", "Listen port.")
	flag.StringVar(&args.Port, "port", "", "Listen port.")
	flag.StringVar(&args.Name, "n", "", "Server name.")
	flag.StringVar(&args.Name, "name", "", "Server name.")
	flag.StringVar(&args.ConfigFile, "config", "", "Configuration file.")

	flag.Parse()

	if args.ConfigFile != "" {
		configPath, err := filepath.Abs(args.ConfigFile)
		if err != nil {
			return Args{}, errors.Wrapf(err,
				"unable to determine absolute path to config file: %s",
				args.ConfigFile)
		}
		args.ConfigFile = configPath
	}

	return args, nil
}

// apply lays command line flags over the loaded configuration. Flags
// win.
func (a Args) apply(cfg Config) Config {
	if a.Address != "" {
		cfg.ListenHost = a.Address
	}
	if a.Port != "" {
		cfg.ListenPort = a.Port
	}
	if a.Name != "" {
		cfg.ServerName = a.Name
	}
	return cfg
}
