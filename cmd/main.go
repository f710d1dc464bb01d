package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"source_recovery/internal/app"
	"source_recovery/internal/config"
	"source_recovery/internal/logger"
)

const usage = `usage: source_recovery <command> [flags]

commands:
  select   rank records whose source material can be recovered
  recover  fetch missing source material and write <name>_recovered.csv
  sample   draw a stratified research sample and mark it in the store
  verify   report completeness and cross-check a CSV against the store

run "source_recovery <command> -h" for flags`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Printf("❌ %s: %v", os.Args[1], err)
		os.Exit(1)
	}
}

func selectFlags(fs *flag.FlagSet, o *app.SelectOptions) {
	fs.StringVar(&o.CSV, "csv", "", "dataset CSV; default is every record in the store")
	fs.BoolVar(&o.Conservative, "conservative", false, "keep only high-probability candidates")
	fs.BoolVar(&o.VideosOnly, "videos-only", false, "only video sources")
	fs.BoolVar(&o.SkipVideo, "skip-video", false, "skip transcript sources")
	fs.BoolVar(&o.SkipArticle, "skip-article", false, "skip article sources")
	fs.BoolVar(&o.ForceRetry, "force-retry", false, "include records already attempted")
	fs.IntVar(&o.Limit, "limit", 0, "process at most n candidates (0 = all)")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func run(cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")

	var (
		sel     app.SelectOptions
		rec     app.RecoverOptions
		smp     app.SampleOptions
		ver     app.VerifyOptions
		domains string
		seed    int64
	)
	switch cmd {
	case "select":
		selectFlags(fs, &sel)
	case "recover":
		selectFlags(fs, &rec.SelectOptions)
		fs.BoolVar(&rec.DryRun, "dry-run", false, "fetch and report without writing")
		fs.BoolVar(&rec.SlowMode, "slow-mode", false, "use the slower provider delays")
		fs.BoolVar(&rec.AbortProvider, "abort-provider", false, "stop using a provider after it rate limits a record")
	case "sample":
		fs.IntVar(&smp.Size, "size", 0, "sample size (default from config)")
		fs.StringVar(&smp.Batch, "batch", "", "selection batch name (default from config)")
		fs.StringVar(&domains, "domains", "", "comma-separated domains to draw from")
		fs.BoolVar(&smp.Equal, "equal", false, "equal share per domain instead of proportional")
		fs.Int64Var(&seed, "seed", 0, "random seed for a reproducible draw")
		fs.BoolVar(&smp.ClearExisting, "clear-existing", false, "clear every existing selection first")
		fs.IntVar(&smp.MinLength, "min-length", 0, "minimum source material length (default from config)")
		fs.BoolVar(&smp.DryRun, "dry-run", false, "print the plan without committing")
	case "verify":
		fs.StringVar(&ver.CSV, "csv", "", "dataset CSV to cross-check")
		fs.BoolVar(&ver.ShowDetails, "show-details", false, "per-domain breakdown and id lists")
	case "-h", "--help", "help":
		fmt.Println(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			smp.Seed = &seed
		}
	})
	smp.Domains = splitList(domains)

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	lg, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			lg.Warn("close store", "error", err)
		}
	}()

	switch cmd {
	case "select":
		_, err = a.Select(ctx, sel)
	case "recover":
		_, err = a.Recover(ctx, rec)
	case "sample":
		_, err = a.Sample(ctx, smp)
	case "verify":
		_, err = a.Verify(ctx, ver)
	}
	return err
}
