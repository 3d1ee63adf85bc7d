package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ritzau/unitconv/pkg/codec"
	"github.com/ritzau/unitconv/pkg/config"
	"github.com/ritzau/unitconv/pkg/conversion"
	"github.com/ritzau/unitconv/pkg/logging"
	"github.com/ritzau/unitconv/pkg/model"
	"github.com/ritzau/unitconv/pkg/output"
	"github.com/ritzau/unitconv/pkg/paths"
	"github.com/ritzau/unitconv/pkg/pubsub"
	"github.com/ritzau/unitconv/pkg/seed"
	"github.com/ritzau/unitconv/pkg/store"
	"github.com/ritzau/unitconv/pkg/watcher"
	"github.com/ritzau/unitconv/pkg/web"
	"github.com/spf13/pflag"
)

const usage = `Usage: unitconv [flags] [command] [args]

Commands:
  serve                  run the HTTP API (default)
  path FROM TO           print the shortest conversion route
  convert QTY FROM TO    convert a quantity along the shortest route
  check FROM TO          report whether FROM->TO would close a cycle
  list                   print the stored rules
  audit                  list cycles already present in the store
  export FILE            write every rule to a msgpack snapshot
  import FILE            import a msgpack snapshot through the cycle gate

Flags:
`

func main() {
	flags := pflag.NewFlagSet("unitconv", pflag.ExitOnError)
	config.RegisterFlags(flags)
	replace := flags.Bool("replace", false, "import: overwrite rules for existing pairs")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		logging.Fatal("failed to parse flags", "error", err)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if err := logging.Configure(os.Stderr, cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flags.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	if err := run(ctx, cfg, cmd, args, *replace); err != nil {
		var u usageError
		if errors.As(err, &u) {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			flags.Usage()
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

func run(ctx context.Context, cfg *config.Config, cmd string, args []string, replace bool) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	switch cmd {
	case "serve":
		return serve(ctx, cfg, st)
	case "path":
		if len(args) != 2 {
			return usageError("path needs FROM and TO")
		}
		svc := conversion.NewService(st, conversion.WithMaxSteps(cfg.MaxSteps))
		p, err := svc.CalculatePath(ctx, args[0], args[1], paths.UseDefaultSteps)
		if err != nil {
			return err
		}
		output.PrintPath(os.Stdout, p)
	case "convert":
		if len(args) != 3 {
			return usageError("convert needs QTY, FROM and TO")
		}
		qty, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return usageError(fmt.Sprintf("invalid quantity %q", args[0]))
		}
		svc := conversion.NewService(st, conversion.WithMaxSteps(cfg.MaxSteps))
		c, err := svc.Convert(ctx, args[1], args[2], qty, "", paths.UseDefaultSteps)
		if err != nil {
			return err
		}
		output.PrintConversion(os.Stdout, c)
	case "check":
		if len(args) != 2 {
			return usageError("check needs FROM and TO")
		}
		svc := conversion.NewService(st)
		check, err := svc.ValidateCycle(ctx, model.Edge{FromUnit: args[0], ToUnit: args[1]}, "")
		if err != nil {
			return err
		}
		output.PrintCycleCheck(os.Stdout, check)
	case "list":
		rules, err := st.List(ctx, store.Filter{})
		if err != nil {
			return err
		}
		output.PrintRules(os.Stdout, rules)
	case "audit":
		svc := conversion.NewService(st)
		rules, err := svc.Export(ctx)
		if err != nil {
			return err
		}
		found, err := svc.Audit(ctx)
		if err != nil {
			return err
		}
		output.PrintAudit(os.Stdout, len(rules), found)
	case "export":
		if len(args) != 1 {
			return usageError("export needs FILE")
		}
		return exportRules(ctx, conversion.NewService(st), args[0])
	case "import":
		if len(args) != 1 {
			return usageError("import needs FILE")
		}
		report, err := importRules(ctx, conversion.NewService(st), args[0], replace)
		if err != nil {
			return err
		}
		output.PrintImport(os.Stdout, report)
	default:
		return usageError(fmt.Sprintf("unknown command %q", cmd))
	}
	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemoryStore(), nil
	case config.StoreSQLite:
		st, err := store.OpenSQLite(cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", cfg.DB, err)
		}
		logging.Debug("opened rule store", "db", cfg.DB)
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func serve(ctx context.Context, cfg *config.Config, st store.Store) error {
	pub := pubsub.NewConversionPublisher()
	defer pub.Close()

	svc := conversion.NewService(st,
		conversion.WithPublisher(pub),
		conversion.WithMaxSteps(cfg.MaxSteps),
	)

	if cfg.Seed != "" {
		if _, err := seed.Apply(ctx, svc, cfg.Seed); err != nil {
			if !cfg.Watch {
				return err
			}
			// The watcher picks the file up once it is fixed
			logging.Warn("failed to apply seed file", "path", cfg.Seed, "error", err)
		}
	}

	if found, err := svc.Audit(ctx); err != nil {
		return err
	} else if len(found) > 0 {
		logging.Warn("stored rules are not acyclic, conversions may be inconsistent", "cycles", len(found))
	}

	if cfg.Watch {
		if err := watchSeed(ctx, svc, cfg.Seed); err != nil {
			return err
		}
	}

	logging.Info("serving conversion rules",
		"store", cfg.Store,
		"port", cfg.Port,
		"maxSteps", svc.MaxSteps(),
	)
	return web.NewServer(svc, pub).Start(ctx, cfg.Port)
}

// watchSeed re-imports the seed file whenever it is written. The pipeline
// stops with ctx.
func watchSeed(ctx context.Context, svc *conversion.Service, path string) error {
	fw, err := watcher.NewFileWatcher(path)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	if err := fw.Start(ctx); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	debouncer := watcher.NewDebouncer(fw.Events(), 500*time.Millisecond, 5*time.Second)
	debouncer.Start(ctx)

	go func() {
		for event := range debouncer.Output() {
			plan := watcher.AnalyzeChanges(event)
			if !plan.Reload {
				logging.Info("seed file change ignored", "reason", plan.Reason)
				continue
			}
			logging.Info("reloading seed file", "reason", plan.Reason)
			if _, err := seed.Apply(ctx, svc, fw.Path()); err != nil {
				logging.Error("failed to reload seed file", "path", fw.Path(), "error", err)
			}
		}
	}()

	logging.Info("watching seed file", "path", fw.Path())
	return nil
}

func exportRules(ctx context.Context, svc *conversion.Service, path string) error {
	rules, err := svc.Export(ctx)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := codec.EncodeRules(f, rules, time.Now()); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Exported %d rules to %s\n", len(rules), path)
	return nil
}

func importRules(ctx context.Context, svc *conversion.Service, path string, replace bool) (conversion.ImportReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return conversion.ImportReport{}, err
	}
	defer f.Close()

	snap, err := codec.DecodeRules(f)
	if err != nil {
		return conversion.ImportReport{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return svc.Import(ctx, snap.Rules, conversion.ImportOptions{Source: path, Replace: replace})
}
