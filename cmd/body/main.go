// Command body hosts cells on the Cell Body System bus.
//
// Usage:
//
//	body                      interactive flow: prompt, greet, print
//	body --demo               the same flow with a simulated name
//	body --app <name>         load applications/<name>/app.yaml and run it
//	body --stdio              serve envelope frames on stdin/stdout
//	body --list               list the available applications
//
// Configuration is read from defaults, then --config (TOML), then the
// environment (a .env file is loaded first), then flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "body: %v\n", err)
		return 1
	}

	if opts.list {
		if err := listApps(cfg, stdout); err != nil {
			fmt.Fprintf(stderr, "body: %v\n", err)
			return 1
		}
		return 0
	}

	p, err := start(ctx, cfg, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "body: %v\n", err)
		return 1
	}

	runErr := p.run(ctx, opts)
	stopErr := p.stop()

	if err := errors.Join(runErr, stopErr); err != nil {
		fmt.Fprintf(stderr, "body: %v\n", err)
		return 1
	}
	return 0
}
