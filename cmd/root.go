// Package cmd implements the one-shot command line crawler.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/layered-crawler/internal/app"
	"github.com/JakeFAU/layered-crawler/internal/config"
	"github.com/JakeFAU/layered-crawler/internal/crawler"
	"github.com/JakeFAU/layered-crawler/internal/logging"
	"github.com/JakeFAU/layered-crawler/internal/report"
)

const usage = "Invalid input format. Please follow this format:\nwebcrawler url [depth [downloads [extractors [perHost]]]]"

// downloaderFactory builds the downloader for one invocation and a func that
// releases it.
type downloaderFactory func(context.Context, config.Config, *zap.Logger) (crawler.Downloader, func() error, error)

type crawlArgs struct {
	seed           string
	depth          int
	fetchWorkers   int
	extractWorkers int
	perHost        int
}

// parseArgs fills the positional arguments over the configured defaults.
func parseArgs(args []string, cfg config.Config) (crawlArgs, error) {
	if len(args) < 1 || len(args) > 5 {
		return crawlArgs{}, fmt.Errorf("expected 1 to 5 arguments, got %d", len(args))
	}
	if args[0] == "" {
		return crawlArgs{}, errors.New("url is required")
	}
	out := crawlArgs{
		seed:           args[0],
		depth:          cfg.Engine.DefaultDepth,
		fetchWorkers:   cfg.Engine.FetchWorkers,
		extractWorkers: cfg.Engine.ExtractWorkers,
		perHost:        cfg.Engine.PerHost,
	}
	targets := []*int{&out.depth, &out.fetchWorkers, &out.extractWorkers, &out.perHost}
	for i, raw := range args[1:] {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return crawlArgs{}, fmt.Errorf("argument %d: %w", i+2, err)
		}
		*targets[i] = n
	}
	return out, nil
}

func newRootCmd(out io.Writer, newDownloader downloaderFactory) *cobra.Command {
	var (
		cfgFile  string
		excludes []string
		format   string
	)
	cmd := &cobra.Command{
		Use:   "webcrawler url [depth [downloads [extractors [perHost]]]]",
		Short: "Crawl a site breadth-first, one layer at a time.",
		Long: `webcrawler fetches url, then every page it links to, layer by layer,
up to depth layers. downloads and extractors size the fetch and extract
worker pools; perHost caps concurrent fetches against a single host.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			parsed, err := parseArgs(args, cfg)
			if err != nil {
				fmt.Fprintln(out, usage)
				return nil
			}
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			w, err := report.NewWriter(f, out)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			if len(excludes) == 0 {
				excludes = cfg.Engine.Excludes
			}
			return runCrawl(cmd.Context(), out, w, newDownloader, cfg, parsed, excludes, logger)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (defaults and CRAWLER_* env vars apply without one)")
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "skip identifiers containing this substring (repeatable)")
	cmd.Flags().StringVar(&format, "format", string(report.FormatText), "result format: "+formatNames())
	return cmd
}

func runCrawl(
	ctx context.Context,
	out io.Writer,
	w report.Writer,
	newDownloader downloaderFactory,
	cfg config.Config,
	args crawlArgs,
	excludes []string,
	logger *zap.Logger,
) error {
	downloader, release, err := newDownloader(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(out, "I/O failure: %v\n", err)
		return nil
	}
	defer func() {
		if err := release(); err != nil {
			logger.Warn("release downloader", zap.Error(err))
		}
	}()

	opts := cfg.EngineOptions()
	opts.FetchWorkers = args.fetchWorkers
	opts.ExtractWorkers = args.extractWorkers
	opts.PerHost = args.perHost
	engine, err := crawler.NewEngine(downloader, opts, logger)
	if err != nil {
		fmt.Fprintf(out, "I/O failure: %v\n", err)
		return nil
	}
	defer engine.Shutdown()

	result, crawlErr := engine.Crawl(ctx, args.seed, args.depth, excludes)
	if err := w.Write(report.New(args.seed, args.depth, excludes, result, crawlErr)); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if crawlErr != nil {
		return fmt.Errorf("crawl %s: %w", args.seed, crawlErr)
	}
	return nil
}

func formatNames() string {
	names := make([]string, len(report.Formats))
	for i, f := range report.Formats {
		names[i] = string(f)
	}
	return strings.Join(names, "|")
}

// Execute runs the command line crawler until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, app.NewDownloader).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
