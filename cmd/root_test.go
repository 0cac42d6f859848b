package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/layered-crawler/internal/config"
	"github.com/JakeFAU/layered-crawler/internal/crawler"
	fetchmemory "github.com/JakeFAU/layered-crawler/internal/fetcher/memory"
	"github.com/JakeFAU/layered-crawler/internal/report"
)

func graphFactory(g *fetchmemory.Graph) downloaderFactory {
	return func(context.Context, config.Config, *zap.Logger) (crawler.Downloader, func() error, error) {
		return g, func() error { return nil }, nil
	}
}

func testGraph() *fetchmemory.Graph {
	return fetchmemory.NewGraph().
		AddPage("https://a.test/", "https://a.test/one", "https://a.test/admin").
		AddPage("https://a.test/one", "https://a.test/two").
		AddPage("https://a.test/admin").
		FailFetch("https://a.test/two", errors.New("status 500"))
}

func run(t *testing.T, factory downloaderFactory, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out, factory)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseArgs(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	got, err := parseArgs([]string{"https://a.test/"}, cfg)
	require.NoError(t, err)
	require.Equal(t, crawlArgs{seed: "https://a.test/", depth: 2, fetchWorkers: 8, extractWorkers: 4, perHost: 2}, got)

	got, err = parseArgs([]string{"https://a.test/", "3", "5", "6", "1"}, cfg)
	require.NoError(t, err)
	require.Equal(t, crawlArgs{seed: "https://a.test/", depth: 3, fetchWorkers: 5, extractWorkers: 6, perHost: 1}, got)

	_, err = parseArgs(nil, cfg)
	require.Error(t, err)
	_, err = parseArgs([]string{"u", "1", "2", "3", "4", "5"}, cfg)
	require.Error(t, err)
	_, err = parseArgs([]string{"u", "deep"}, cfg)
	require.ErrorContains(t, err, "argument 2")
}

func TestBadArgumentsPrintUsage(t *testing.T) {
	t.Parallel()

	for _, args := range [][]string{
		{},
		{"https://a.test/", "two"},
		{"https://a.test/", "1", "2", "3", "4", "5"},
	} {
		g := testGraph()
		out, err := run(t, graphFactory(g), args...)
		require.NoError(t, err)
		require.Contains(t, out, "webcrawler url [depth [downloads [extractors [perHost]]]]")
		require.Zero(t, g.TotalFetches())
	}
}

func TestCrawlPrintsResult(t *testing.T) {
	t.Parallel()

	g := testGraph()
	out, err := run(t, graphFactory(g), "https://a.test/", "3", "2", "2", "1")
	require.NoError(t, err)
	require.Contains(t, out, "Downloaded (3):")
	require.Contains(t, out, "  https://a.test/one\n")
	require.Contains(t, out, "Errors (1):")
	require.Contains(t, out, "https://a.test/two")
	require.LessOrEqual(t, g.PeakConcurrency("a.test"), 1)
}

func TestExcludeFlag(t *testing.T) {
	t.Parallel()

	g := testGraph()
	out, err := run(t, graphFactory(g), "--exclude", "/admin", "https://a.test/", "2")
	require.NoError(t, err)
	require.Contains(t, out, "Downloaded (2):")
	require.Zero(t, g.Fetches("https://a.test/admin"))
}

func TestIOFailures(t *testing.T) {
	t.Parallel()

	failing := func(context.Context, config.Config, *zap.Logger) (crawler.Downloader, func() error, error) {
		return nil, nil, errors.New("browser unavailable")
	}
	out, err := run(t, failing, "https://a.test/")
	require.NoError(t, err)
	require.Equal(t, "I/O failure: browser unavailable\n", out)

	out, err = run(t, graphFactory(testGraph()), "https://a.test/", "1", "0")
	require.NoError(t, err)
	require.Contains(t, out, "I/O failure:")
	require.Contains(t, out, "engine.fetch_workers must be > 0")
}

func TestFormatFlag(t *testing.T) {
	t.Parallel()

	out, err := run(t, graphFactory(testGraph()), "--format", "json", "https://a.test/", "3")
	require.NoError(t, err)
	var got report.Report
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "https://a.test/", got.Seed)
	require.Equal(t, 3, got.Depth)
	require.Len(t, got.Downloaded, 3)
	require.Equal(t, []report.Failure{{ID: "https://a.test/two", Reason: "fetch https://a.test/two: status 500"}}, got.Failures)

	out, err = run(t, graphFactory(testGraph()), "--format", "markdown", "https://a.test/", "1")
	require.NoError(t, err)
	require.Contains(t, out, "# Crawl Report")

	out, err = run(t, graphFactory(testGraph()), "--format", "yaml", "https://a.test/", "1")
	require.NoError(t, err)
	require.Contains(t, out, "url: https://a.test/")

	g := testGraph()
	_, err = run(t, graphFactory(g), "--format", "xml", "https://a.test/")
	require.ErrorContains(t, err, "unknown report format")
	require.Zero(t, g.TotalFetches())
}
