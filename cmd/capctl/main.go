package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/user"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/capgate/internal/capability"
	"github.com/xela07ax/capgate/internal/domain"
	"github.com/xela07ax/capgate/internal/engine"
	"github.com/xela07ax/capgate/internal/infra"
	"github.com/xela07ax/capgate/internal/notify"
	"github.com/xela07ax/capgate/internal/repository/postgres"
)

const usage = `capctl — управление рубильниками интеграций.

Usage:
  capctl status                          Фазы интеграций и снепшот capability
  capctl disable <integration> [-reason] Ручной kill-switch
  capctl enable <integration>            Снять панику (в том числе ручную)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "status":
		runStatus(ctx)
	case "disable":
		fs := flag.NewFlagSet("disable", flag.ExitOnError)
		reason := fs.String("reason", "", "причина отключения (попадет в аудит)")
		fs.Parse(os.Args[2:])
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: capctl disable <integration> [-reason ...]")
			os.Exit(2)
		}
		runDisable(ctx, fs.Arg(0), *reason)
	case "enable":
		fs := flag.NewFlagSet("enable", flag.ExitOnError)
		fs.Parse(os.Args[2:])
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: capctl enable <integration>")
			os.Exit(2)
		}
		runEnable(ctx, fs.Arg(0))
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

// buildController собирает тот же контрол-плейн, что и демон, но без фоновых циклов:
// CLI делает одну операцию и выходит.
func buildController(ctx context.Context) (*engine.Controller, *capability.Resolver, func()) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	// CLI шумит в консоль только результатом, логи — в error-уровень
	logger, err := infra.NewLogger(infra.LoggerConfig{Level: "error", Format: "console"})
	if err != nil {
		fatal("failed to init logger: %v", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Database.URL, 2, 1)
	if err != nil {
		fatal("failed to connect to postgres: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	overrideRepo := postgres.NewOverrideRepo(pool)
	notifier := notify.New(rdb, logger)

	resolver := capability.NewResolver(
		capability.DefaultRegistry(),
		overrideRepo,
		notifier,
		capability.NewMetrics(nil),
		logger,
		capability.ResolverOptions{
			CacheTTL:     cfg.Resolver.CacheTTL,
			StoreTimeout: cfg.Resolver.StoreTimeout,
			EnvStaleTTL:  cfg.Resolver.EnvStaleTTL,
		},
	)

	controller := engine.NewController(
		engine.NewFailureMonitor(time.Minute),
		resolver, overrideRepo, notifier,
		engine.NewMetrics(nil), logger,
	)
	for name, ic := range cfg.Panic.Integrations {
		path, err := domain.ParseCapabilityPath(ic.Capability)
		if err != nil {
			fatal("invalid capability in panic config for %s: %v", name, err)
		}
		controller.Register(name, engine.IntegrationSettings{
			Capability:        path,
			FailureThreshold:  ic.FailureThreshold,
			Window:            ic.Window,
			RecoverySuccesses: ic.RecoverySuccesses,
			ProbeInterval:     ic.ProbeInterval,
			ProbeTimeout:      ic.ProbeTimeout,
		}, nil)
	}
	if err := controller.Init(ctx); err != nil {
		fatal("failed to read panic state: %v", err)
	}

	cleanup := func() {
		pool.Close()
		rdb.Close()
		logger.Sync()
	}
	return controller, resolver, cleanup
}

type snapshotKey struct {
	cat, name string
}

// snapshotOrder выстраивает ключи снепшота по алфавиту категорий и имен.
func snapshotOrder(snap map[string]map[string]domain.Decision) []snapshotKey {
	var keys []snapshotKey
	for cat, names := range snap {
		for name := range names {
			keys = append(keys, snapshotKey{cat: cat, name: name})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].cat != keys[j].cat {
			return keys[i].cat < keys[j].cat
		}
		return keys[i].name < keys[j].name
	})
	return keys
}

func runStatus(ctx context.Context) {
	controller, resolver, cleanup := buildController(ctx)
	defer cleanup()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INTEGRATION\tPHASE\tTRIGGERED BY\tSINCE\tREASON")
	for _, st := range controller.Status() {
		since := "-"
		if st.Since > 0 {
			since = st.Since.Round(time.Second).String()
		}
		by := string(st.TriggeredBy)
		if by == "" {
			by = "-"
		}
		reason := st.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", st.Integration, st.Phase, by, since, reason)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "CAPABILITY\tENABLED\tSOURCE")
	// Порядок строк стабилен между запусками: вывод удобно диффать
	snap := resolver.Snapshot(ctx, nil)
	for _, key := range snapshotOrder(snap) {
		d := snap[key.cat][key.name]
		fmt.Fprintf(w, "%s.%s\t%v\t%s\n", key.cat, key.name, d.Enabled, d.Source)
	}
	w.Flush()
}

func runDisable(ctx context.Context, integration, reason string) {
	controller, _, cleanup := buildController(ctx)
	defer cleanup()

	if err := controller.ForceDisable(ctx, integration, reason, operator()); err != nil {
		if errors.Is(err, domain.ErrUnknownIntegration) {
			fatal("unknown integration %q, known: see `capctl status`", integration)
		}
		fatal("disable failed: %v", err)
	}
	fmt.Printf("integration %s disabled\n", integration)
}

func runEnable(ctx context.Context, integration string) {
	controller, _, cleanup := buildController(ctx)
	defer cleanup()

	if err := controller.ForceEnable(ctx, integration, operator()); err != nil {
		if errors.Is(err, domain.ErrUnknownIntegration) {
			fatal("unknown integration %q, known: see `capctl status`", integration)
		}
		fatal("enable failed: %v", err)
	}
	fmt.Printf("integration %s enabled\n", integration)
}

// operator — кто дергает рубильник (для поля set_by в аудите).
func operator() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
