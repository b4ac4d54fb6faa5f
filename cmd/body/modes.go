package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/vinayprograms/cellbus/app"
	"github.com/vinayprograms/cellbus/body"
	"github.com/vinayprograms/cellbus/cells"
	"github.com/vinayprograms/cellbus/cells/greeter"
	"github.com/vinayprograms/cellbus/cells/printer"
	"github.com/vinayprograms/cellbus/cells/prompt"
	"github.com/vinayprograms/cellbus/cells/web"
	"github.com/vinayprograms/cellbus/config"
	"github.com/vinayprograms/cellbus/shutdown"
	"github.com/vinayprograms/cellbus/transport"
)

// DemoName is the name the demo flow greets.
const DemoName = "Ada Lovelace"

// VoidSchema tags requests that carry no meaningful payload.
const VoidSchema = "demo/v1/Void"

// run dispatches to the mode selected by opts and cfg.
func (p *process) run(ctx context.Context, opts *options) error {
	switch {
	case opts.stdio:
		return p.runStdio(ctx)
	case p.cfg.App.Name != "":
		return p.runApp(ctx, p.cfg.App.Name)
	case p.cfg.App.Demo:
		return p.runDemo(ctx)
	default:
		return p.runInteractive(ctx)
	}
}

func (p *process) deps() cells.Deps {
	return cells.Deps{
		Stdin:   p.stdin,
		Stdout:  p.stdout,
		Web:     p.cfg.Web.Cell(),
		Logger:  p.logger.WithComponent(web.ID),
		Metrics: p.metrics,
	}
}

func (p *process) banner(format string, args ...any) {
	fmt.Fprintf(p.stdout, format+"\n", args...)
}

// runDemo greets DemoName through the greeter and printer cells without
// reading the terminal.
func (p *process) runDemo(ctx context.Context) error {
	p.banner("Cell Body System (CBS) demo")
	if err := p.register("", greeter.New(), printer.New(p.stdout)); err != nil {
		return err
	}

	p.banner("\n1. Prompting for name (simulated)\n   Input: %s", DemoName)
	return p.greet(ctx, DemoName)
}

// runInteractive asks for a name, greets it and prints the greeting.
func (p *process) runInteractive(ctx context.Context) error {
	p.banner("Cell Body System (CBS) interactive mode")
	d := p.deps()
	if err := p.register("", prompt.New(d.Stdin, d.Stdout), greeter.New(), printer.New(d.Stdout)); err != nil {
		return err
	}
	return p.interactiveFlow(ctx)
}

// interactiveFlow runs prompt, greet and print over the bus. The cells may
// live in this process or anywhere else on the bus.
func (p *process) interactiveFlow(ctx context.Context) error {
	p.banner("\n1. Prompting for name")
	var read prompt.Response
	if err := body.Call(ctx, p.bus, "prompt_name", "read", VoidSchema, struct{}{}, &read); err != nil {
		return fmt.Errorf("prompt: %w", err)
	}
	p.banner("   Input: %s", read.Name)
	return p.greet(ctx, read.Name)
}

func (p *process) greet(ctx context.Context, name string) error {
	p.banner("\n2. Processing greeting")
	var greeting greeter.Response
	if err := body.Call(ctx, p.bus, "greeter", "say_hello", greeter.Schema, greeter.Request{Name: name}, &greeting); err != nil {
		return fmt.Errorf("greet: %w", err)
	}
	p.banner("   Generated: %s", greeting.Message)

	p.banner("\n3. Printing greeting")
	var printed printer.Response
	if err := body.Call(ctx, p.bus, "printer", "write", printer.Schema, printer.Request{Message: greeting.Message}, &printed); err != nil {
		return fmt.Errorf("print: %w", err)
	}

	p.banner("\nDone.")
	return nil
}

// runApp loads an application, hosts its cells and runs until a signal,
// or runs the interactive flow when the application reads a name.
func (p *process) runApp(ctx context.Context, name string) error {
	loader := app.NewLoader(p.cfg.App.Dir)
	built, appCfg, err := p.loadApp(loader, name, p.deps())
	if err != nil {
		return err
	}

	p.banner("Loaded %s v%s: %s", appCfg.Name, appCfg.Version, appCfg.Description)
	p.banner("    Cells: %d, shared cells: %d", len(appCfg.Cells), len(appCfg.SharedCells))

	if err := p.register(appCfg.Name, built...); err != nil {
		return err
	}
	if err := p.startServers(built); err != nil {
		return err
	}
	for _, c := range built {
		if w, ok := c.(*web.Cell); ok {
			p.banner("Web server listening on http://%s", w.Addr())
		}
	}

	if hasCell(built, prompt.ID) {
		return p.interactiveFlow(ctx)
	}

	p.coord.HandleSignals()
	p.banner("Running %s. Press Ctrl+C to stop.", appCfg.Name)
	select {
	case <-p.coord.Done():
	case <-ctx.Done():
	}
	return nil
}

// loadApp reads the manifest and builds its cells. A relative web root is
// taken relative to the application directory.
func (p *process) loadApp(loader *app.Loader, name string, d cells.Deps) ([]body.Cell, *app.AppConfig, error) {
	appCfg, err := loader.Load(name)
	if err != nil {
		if names, derr := loader.Discover(); derr == nil {
			p.logger.Info("available applications", map[string]interface{}{"apps": names})
		}
		return nil, nil, err
	}

	if !filepath.IsAbs(d.Web.StaticDir) {
		d.Web.StaticDir = filepath.Join(loader.Path(name), d.Web.StaticDir)
	}

	built, err := cells.Default().BuildApp(appCfg, d)
	if err != nil {
		return nil, nil, err
	}
	return built, appCfg, nil
}

// startServers starts the cells that listen on the network and stops them
// first at shutdown.
func (p *process) startServers(built []body.Cell) error {
	for _, c := range built {
		w, ok := c.(*web.Cell)
		if !ok {
			continue
		}
		if err := w.Start(); err != nil {
			return err
		}
		p.coord.RegisterFunc("web", shutdown.PhaseWeb, w.Shutdown)
	}
	return nil
}

// runStdio serves envelope frames on stdin/stdout. With an application
// named, its cells are hosted first; on the in-process bus with none, the
// greeter and printer are. Frames own stdout, so printed output goes to
// stderr.
func (p *process) runStdio(ctx context.Context) error {
	d := p.deps()
	d.Stdout = p.stderr

	switch {
	case p.cfg.App.Name != "":
		built, appCfg, err := p.loadApp(app.NewLoader(p.cfg.App.Dir), p.cfg.App.Name, d)
		if err != nil {
			return err
		}
		if hasCell(built, prompt.ID) {
			return fmt.Errorf("application %s reads the terminal and cannot run with --stdio", appCfg.Name)
		}
		if err := p.register(appCfg.Name, built...); err != nil {
			return err
		}
		if err := p.startServers(built); err != nil {
			return err
		}
	case p.local():
		if err := p.register("", greeter.New(), printer.New(d.Stdout)); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.coord.HandleSignals()
	go func() {
		select {
		case <-p.coord.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	gw := transport.NewGateway(p.bus, transport.WithLogger(p.logger.WithComponent("gateway")))
	t := transport.NewStdioTransport(p.stdin, p.stdout, transport.DefaultConfig())
	return gw.Serve(ctx, t)
}

// listApps writes the names of the applications under cfg.App.Dir.
func listApps(cfg *config.Config, w io.Writer) error {
	names, err := app.NewLoader(cfg.App.Dir).Discover()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintf(w, "no applications in %s\n", cfg.App.Dir)
		return nil
	}
	for _, name := range names {
		fmt.Fprintln(w, name)
	}
	return nil
}

func hasCell(built []body.Cell, id string) bool {
	for _, c := range built {
		if c.ID() == id {
			return true
		}
	}
	return false
}
