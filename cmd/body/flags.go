package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/vinayprograms/cellbus/config"
)

// options holds the parsed command line.
type options struct {
	configPath string
	envFile    string
	app        string
	natsURL    string
	logLevel   string
	demo       bool
	mockBus    bool
	stdio      bool
	list       bool

	// set records which flags appeared, so unset ones leave the
	// file and environment values alone.
	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{set: make(map[string]bool)}

	fs := flag.NewFlagSet("body", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "TOML configuration file")
	fs.StringVar(&o.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	fs.StringVar(&o.app, "app", "", "application to load from the applications directory")
	fs.StringVar(&o.natsURL, "nats-url", "", "NATS server URL (default nats://localhost:4222)")
	fs.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.BoolVar(&o.demo, "demo", false, "run the greeting flow with a simulated name")
	fs.BoolVar(&o.mockBus, "mock-bus", false, "use the in-process bus instead of NATS")
	fs.BoolVar(&o.stdio, "stdio", false, "serve envelope frames on stdin/stdout")
	fs.BoolVar(&o.list, "list", false, "list available applications and exit")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Cell Body System (CBS)")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Usage: body [flags]")
		fmt.Fprintln(stderr)
		fs.PrintDefaults()
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Environment: NATS_URL, CBS_APP, CBS_DEMO_MODE, CBS_MOCK_BUS, CBS_LOG_LEVEL")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		err := fmt.Errorf("unexpected argument %q", fs.Arg(0))
		fmt.Fprintln(stderr, err)
		fs.Usage()
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		o.set[f.Name] = true
	})
	return o, nil
}

// apply overrides cfg with the flags that were given.
func (o *options) apply(cfg *config.Config) {
	if o.set["app"] {
		cfg.App.Name = o.app
	}
	if o.set["nats-url"] {
		cfg.Bus.URL = o.natsURL
	}
	if o.set["log-level"] {
		cfg.Log.Level = o.logLevel
	}
	if o.set["demo"] {
		cfg.App.Demo = o.demo
	}
	if o.set["mock-bus"] {
		cfg.App.MockBus = o.mockBus
	}
}

// loadConfig layers defaults, the TOML file, the dotenv file, the
// environment and the flags, then validates the result.
func loadConfig(o *options) (*config.Config, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if o.configPath != "" {
		if err := cfg.LoadFile(o.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	o.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
