package main

import (
	"fmt"
	"log"
	"os"
	"syscall"

	"github.com/jessevdk/go-flags"
	"golang.org/x/term"

	"github.com/rowdb/rowdb/config"
)

// cliOptions are the command-line flags for the rowdb server, layered on
// top of config.Config: a --config file supplies most settings, and the
// handful of flags here exist for the things an operator wants to set
// without editing YAML (the listen address, the DSN password, which config
// file to load at all).
type cliOptions struct {
	Config        string `long:"config" description:"YAML config file to load" value-name:"config_file"`
	Addr          string `long:"addr" description:"HTTP listen address" value-name:"addr"`
	DBType        string `long:"db-type" description:"Storage backend: csv, mysql, postgres, sqlite, sqlserver" value-name:"type"`
	DBPath        string `long:"db-path" description:"CSV file path (csv backend only)" value-name:"path"`
	DBDSN         string `long:"db-dsn" description:"Driver DSN (relational backends only)" value-name:"dsn"`
	Password      string `long:"password" description:"DSN password, appended to --db-dsn rather than stored in it" value-name:"password"`
	PasswordPrompt bool  `long:"password-prompt" description:"Prompt for the DSN password instead of passing it on the command line"`
	Help          bool   `long:"help" description:"Show this help"`
}

// parseOptions parses args into a config.Config, starting from config.Load
// of the --config file (or config.Default if none is given) and overlaying
// any flags the operator passed explicitly.
func parseOptions(args []string) config.Config {
	var opts cliOptions
	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[options]"

	if _, err := parser.ParseArgs(args); err != nil {
		log.Fatal(err)
	}

	if opts.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Fatal(err)
	}

	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.DBType != "" {
		cfg.Database.Type = opts.DBType
	}
	if opts.DBPath != "" {
		cfg.Database.Path = opts.DBPath
	}
	if opts.DBDSN != "" {
		cfg.Database.DSN = opts.DBDSN
	}

	password := opts.Password
	if opts.PasswordPrompt {
		fmt.Print("Enter Password: ")
		pass, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			log.Fatal(err)
		}
		password = string(pass)
	}
	if password != "" {
		cfg.Database.DSN += "&password=" + password
	}

	return cfg
}
