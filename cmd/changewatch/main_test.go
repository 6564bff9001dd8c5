package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changewatch/internal/usecase/monitor"
)

const defaultTestInterval = 3 * time.Minute

// execute runs the root command with args and returns everything written
// to stdout and stderr.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		for _, c := range rootCmd.Commands() {
			resetFlags(c)
		}
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "changewatch dev")
	assert.Contains(t, out, "commit: none")
}

func TestValidate_ValidFile(t *testing.T) {
	t.Setenv("MONITOR_DEFAULT_INTERVAL", "")
	path := writeFile(t, `
defaults:
  interval: 10m
monitors:
  - name: Release notes
    url: https://go.dev/doc/devel/release
    extractor: article
  - url: https://status.example.com/history.atom
    extractor: feed
  - url: https://example.com/pricing
    extractor: "selector:#plans"
    enabled: false
`)

	out, err := execute(t, "validate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Monitors file is valid!")
	assert.Contains(t, out, "Default interval: 5m0s")
	assert.Contains(t, out, "3 (2 enabled, 1 disabled)")
}

func TestValidate_InvalidEntries(t *testing.T) {
	path := writeFile(t, `
monitors:
  - url: ftp://example.com/file
  - url: https://example.com
    extractor: bogus
`)

	_, err := execute(t, "validate", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitors[0]")
	assert.Contains(t, err.Error(), "monitors[1]")
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := execute(t, "validate", "-c", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid monitors file")
}

func TestValidate_RequiresConfigFlag(t *testing.T) {
	_, err := execute(t, "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "config" not set`)
}

func TestCheck_PrintsHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<html><body><nav>menu</nav><p>Version 1.2.0 released</p></body></html>`)
	}))
	defer srv.Close()

	out, err := execute(t, "check", srv.URL, "--allow-private", "-e", "text", "--show")
	require.NoError(t, err)
	assert.Contains(t, out, srv.URL)
	assert.Contains(t, out, "status:    200")
	assert.Contains(t, out, monitor.HashContent("Version 1.2.0 released"))
	assert.Contains(t, out, "Version 1.2.0 released")
	assert.NotContains(t, out, "menu")
}

func TestCheck_ReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	out, err := execute(t, "check", srv.URL, "not a url", "--allow-private")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 2 checks failed")
	assert.Contains(t, out, "error:")
}

func TestCheck_PrivateAddressDeniedByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	_, err := execute(t, "check", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 checks failed")
}

func TestCheck_RejectsUnknownExtractor(t *testing.T) {
	_, err := execute(t, "check", "https://example.com", "-e", "xpath")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown extractor")
}

func TestLoadResources(t *testing.T) {
	path := writeFile(t, `
monitors:
  - url: https://example.com/a
  - url: https://example.com/b
    interval: 2m
`)
	resources, err := loadResources(path, defaultTestInterval)
	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, defaultTestInterval, resources[0].CheckInterval)

	empty := writeFile(t, "monitors: []\n")
	_, err = loadResources(empty, defaultTestInterval)
	assert.EqualError(t, err, "no monitors configured")
}
