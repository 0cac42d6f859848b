package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/layered-crawler/internal/crawler"
)

func sampleReport() *Report {
	result := crawler.Result{
		Downloaded: []string{"https://a.test/", "https://a.test/one"},
		Errors: map[string]error{
			"https://a.test/two":  errors.New("status 500"),
			"https://a.test/pipe": errors.New("bad | input"),
		},
	}
	return New("https://a.test/", 2, []string{"/admin"}, result, nil)
}

func TestNewOrdersOutcomes(t *testing.T) {
	t.Parallel()

	r := sampleReport()
	require.Equal(t, []string{"https://a.test/", "https://a.test/one"}, r.Downloaded)
	require.Equal(t, []Failure{
		{ID: "https://a.test/pipe", Reason: "bad | input"},
		{ID: "https://a.test/two", Reason: "status 500"},
	}, r.Failures)
	require.Empty(t, r.Error)

	empty := New("https://a.test/", 0, nil, crawler.Result{}, errors.New("crawl canceled"))
	require.NotNil(t, empty.Downloaded)
	require.NotNil(t, empty.Failures)
	require.Equal(t, "crawl canceled", empty.Error)
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	cases := map[string]Format{
		"":         FormatText,
		"TEXT":     FormatText,
		"json":     FormatJSON,
		"yml":      FormatYAML,
		" yaml ":   FormatYAML,
		"md":       FormatMarkdown,
		"Markdown": FormatMarkdown,
	}
	for in, want := range cases {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseFormat("xml")
	require.ErrorContains(t, err, `unknown report format "xml"`)

	_, err = NewWriter(Format("xml"), &bytes.Buffer{})
	require.Error(t, err)
	for _, f := range Formats {
		w, err := NewWriter(f, &bytes.Buffer{})
		require.NoError(t, err)
		require.NotNil(t, w)
	}
}

func TestTextWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, NewTextWriter(&buf).Write(sampleReport()))
	require.Equal(t, "Downloaded (2):\n"+
		"  https://a.test/\n"+
		"  https://a.test/one\n"+
		"Errors (2):\n"+
		"  https://a.test/pipe: bad | input\n"+
		"  https://a.test/two: status 500\n", buf.String())

	buf.Reset()
	r := New("https://a.test/", 1, nil, crawler.Result{}, errors.New("engine closed"))
	require.NoError(t, NewTextWriter(&buf).Write(r))
	require.Equal(t, "Downloaded (0):\nStopped early: engine closed\n", buf.String())
}

func TestJSONWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, NewJSONWriter(&buf).Write(sampleReport()))
	require.Contains(t, buf.String(), "\n  \"url\": \"https://a.test/\"")

	var got Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, *sampleReport(), got)

	buf.Reset()
	require.NoError(t, NewJSONWriter(&buf).Write(New("https://a.test/", 0, nil, crawler.Result{}, nil)))
	require.Contains(t, buf.String(), `"downloaded": []`)
	require.Contains(t, buf.String(), `"errors": []`)
	require.NotContains(t, buf.String(), "excludes")
}

func TestYAMLWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, NewYAMLWriter(&buf).Write(sampleReport()))
	require.Contains(t, buf.String(), "url: https://a.test/\n")
	require.Contains(t, buf.String(), "depth: 2\n")

	var got Report
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, *sampleReport(), got)
}

func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, NewMarkdownWriter(&buf).Write(sampleReport()))
	out := buf.String()
	require.Contains(t, out, "# Crawl Report")
	require.Contains(t, out, "`https://a.test/`")
	require.Contains(t, out, "`/admin`")
	require.Contains(t, out, "## Downloaded")
	require.Contains(t, out, "https://a.test/one")
	require.Contains(t, out, "## Errors")
	require.Contains(t, out, "status 500")
	require.Contains(t, out, "bad")
	require.Contains(t, out, "Complete")

	buf.Reset()
	r := New("https://a.test/", 1, nil, crawler.Result{}, errors.New("crawl canceled"))
	require.NoError(t, NewMarkdownWriter(&buf).Write(r))
	out = buf.String()
	require.Contains(t, out, "Nothing was downloaded.")
	require.Contains(t, out, "No errors.")
	require.Contains(t, out, "Stopped early: crawl canceled")
	require.Contains(t, out, "none")
}
