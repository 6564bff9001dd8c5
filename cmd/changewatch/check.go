package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"changewatch/internal/domain/entity"
	"changewatch/internal/infra/fetcher"
	"changewatch/internal/observability/logging"
	"changewatch/internal/usecase/fetch"
	"changewatch/internal/usecase/monitor"
)

// checkCmd fetches resources once and prints their content hashes.
var checkCmd = &cobra.Command{
	Use:   "check URL...",
	Short: "Fetch resources once and print their content hashes",
	Long: `Fetch each URL once, apply the extractor and print the SHA-256 of the
extracted content. Nothing is scheduled and no notifications are sent.

Use it to try an extractor before adding a resource to the monitors file:
running check twice and comparing hashes shows whether the extracted content
is stable between requests.

Example:
  changewatch check https://go.dev/doc/devel/release --extractor article
  changewatch check https://example.com/ "https://example.com/pricing" -e "selector:#plans"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringP("extractor", "e", entity.ExtractorRaw, `extractor: raw, text, article, feed or "selector:<css>"`)
	checkCmd.Flags().Duration("timeout", 30*time.Second, "per-request timeout")
	checkCmd.Flags().Int("concurrency", 4, "maximum parallel fetches")
	checkCmd.Flags().Bool("allow-private", false, "allow fetching private and loopback addresses")
	checkCmd.Flags().Bool("show", false, "print the extracted content after each hash")
}

// checkOutcome is the result of one URL.
type checkOutcome struct {
	locator string
	result  *fetch.Result
	err     error
}

func runCheck(cmd *cobra.Command, args []string) error {
	extractor, _ := cmd.Flags().GetString("extractor")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	allowPrivate, _ := cmd.Flags().GetBool("allow-private")
	show, _ := cmd.Flags().GetBool("show")

	if err := entity.ValidateExtractor(extractor); err != nil {
		return err
	}

	cfg := fetcher.DefaultConfig()
	cfg.Timeout = timeout
	cfg.DenyPrivateIPs = !allowPrivate
	cfg.UserAgent = "changewatch/" + version
	logger := logging.New(cmd.ErrOrStderr(), "text", slog.LevelWarn)
	f, err := fetcher.NewHTTPFetcher(cfg, logger)
	if err != nil {
		return err
	}

	outcomes := fetchAll(cmd.Context(), f, args, extractor, concurrency)

	out := cmd.OutOrStdout()
	failed := 0
	for _, o := range outcomes {
		if o.err != nil {
			failed++
			fmt.Fprintf(out, "%s\n  error: %v\n", o.locator, o.err)
			continue
		}
		printResult(out, o.result, show)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(outcomes))
	}
	return nil
}

// fetchAll fetches every locator with at most concurrency requests in
// flight. Outcomes keep the order of locators.
func fetchAll(ctx context.Context, f fetch.ContentFetcher, locators []string, extractor string, concurrency int) []checkOutcome {
	outcomes := make([]checkOutcome, len(locators))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, concurrency))
	for i, locator := range locators {
		g.Go(func() error {
			outcomes[i] = checkOutcome{locator: locator}
			if err := entity.ValidateLocator(locator); err != nil {
				outcomes[i].err = err
				return nil
			}
			res, err := f.Fetch(gctx, fetch.Request{Locator: locator, Extractor: extractor})
			if err != nil {
				outcomes[i].err = err
				return nil
			}
			outcomes[i].result = res
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func printResult(w io.Writer, res *fetch.Result, show bool) {
	fmt.Fprintf(w, "%s\n", res.Locator)
	if res.FinalURL != "" && res.FinalURL != res.Locator {
		fmt.Fprintf(w, "  final url: %s\n", res.FinalURL)
	}
	fmt.Fprintf(w, "  status:    %d\n", res.StatusCode)
	fmt.Fprintf(w, "  hash:      %s\n", monitor.HashContent(res.Content))
	fmt.Fprintf(w, "  body:      %d bytes, %d extracted\n", res.BodySize, len(res.Content))
	fmt.Fprintf(w, "  duration:  %s\n", res.Duration.Round(time.Millisecond))
	if show {
		fmt.Fprintf(w, "---\n%s\n---\n", res.Content)
	}
}
