// Package config assembles the daemon configuration: component settings from
// environment variables and the monitored resources from a YAML file.
package config

import (
	"time"

	"changewatch/internal/infra/cache"
	"changewatch/internal/infra/fetcher"
	"changewatch/internal/infra/notifier"
	"changewatch/internal/infra/workerpool"
	"changewatch/internal/observability/tracing"
	pkgconfig "changewatch/internal/pkg/config"
	"changewatch/internal/resilience/circuitbreaker"
	"changewatch/internal/resilience/ratelimit"
	"changewatch/internal/usecase/monitor"
	"changewatch/internal/usecase/notify"
)

// DefaultMonitorsFile is read when MONITORS_FILE is unset.
const DefaultMonitorsFile = "monitors.yaml"

// ServerConfig holds the operational listener ports.
type ServerConfig struct {
	HealthPort  int
	MetricsPort int
}

// AppConfig is everything the daemon needs besides the resource list.
type AppConfig struct {
	// Pool runs resource checks. NotifyPool runs webhook sends, so slow
	// webhooks never hold check workers.
	Pool       workerpool.Config
	NotifyPool workerpool.Config
	Breaker circuitbreaker.Config
	Limiter ratelimit.Config
	Cache   cache.Config
	Monitor monitor.Config
	Fetch   fetcher.Config
	Server  ServerConfig
	Tracing tracing.Config
	Slack   notifier.SlackConfig
	Discord notifier.DiscordConfig
	Notify  notify.Config

	// DefaultInterval applies to monitors that do not set their own.
	DefaultInterval time.Duration
	MonitorsFile    string
}

// Load reads the environment. It never fails: invalid values fall back to
// their defaults and are returned as warnings. metrics may be nil.
func Load(metrics *pkgconfig.ConfigMetrics) (*AppConfig, []string) {
	l := pkgconfig.NewLoader(metrics)
	positive := pkgconfig.ValidatePositiveDuration

	pool := workerpool.DefaultConfig()
	pool.MaxWorkers = l.Int("POOL_MAX_WORKERS", pool.MaxWorkers, pkgconfig.IntRange(1, 1024))
	pool.TaskTimeout = l.Duration("POOL_TASK_TIMEOUT", pool.TaskTimeout, positive)
	pool.MaxRetries = l.Int("POOL_MAX_RETRIES", pool.MaxRetries, pkgconfig.IntRange(0, 10))
	pool.QueueSize = l.Int("POOL_QUEUE_SIZE", pool.QueueSize, pkgconfig.IntRange(0, 1_000_000))

	breaker := circuitbreaker.DefaultConfig("")
	breaker.FailureThreshold = uint32(l.Int("BREAKER_FAILURE_THRESHOLD", int(breaker.FailureThreshold), pkgconfig.IntRange(1, 100)))
	breaker.ResetTimeout = l.Duration("BREAKER_RESET_TIMEOUT", breaker.ResetTimeout, pkgconfig.DurationRange(time.Second, time.Hour))

	limiter := ratelimit.DefaultConfig()
	limiter.MinRate = l.Float("LIMITER_MIN_RATE", limiter.MinRate, pkgconfig.FloatRange(0.001, 1000))
	limiter.MaxRate = l.Float("LIMITER_MAX_RATE", limiter.MaxRate, pkgconfig.FloatRange(limiter.MinRate, 1000))
	limiter.InitialRate = l.Float("LIMITER_INITIAL_RATE", limiter.InitialRate, pkgconfig.FloatRange(limiter.MinRate, limiter.MaxRate))

	hashes := cache.DefaultConfig()
	hashes.MaxSize = l.Int("CACHE_MAX_SIZE", hashes.MaxSize, pkgconfig.IntRange(1, 10_000_000))
	hashes.DefaultTTL = l.Duration("CACHE_DEFAULT_TTL", hashes.DefaultTTL, pkgconfig.DurationRange(0, 365*24*time.Hour))

	mon := monitor.DefaultConfig()
	mon.HistorySize = l.Int("MONITOR_HISTORY_SIZE", mon.HistorySize, pkgconfig.IntRange(1, 1_000_000))
	mon.CheckTimeout = l.Duration("MONITOR_CHECK_TIMEOUT", mon.CheckTimeout, positive)

	fetch := fetcher.DefaultConfig()
	fetch.Timeout = l.Duration("FETCH_TIMEOUT", fetch.Timeout, positive)
	fetch.MaxBodySize = int64(l.Int("FETCH_MAX_BODY_SIZE", int(fetch.MaxBodySize), pkgconfig.IntRange(1024, 100*1024*1024)))
	fetch.DenyPrivateIPs = l.Bool("FETCH_DENY_PRIVATE_IPS", fetch.DenyPrivateIPs)
	fetch.UserAgent = l.String("FETCH_USER_AGENT", fetch.UserAgent, nil)

	server := ServerConfig{
		HealthPort:  l.Int("HEALTH_PORT", 9091, pkgconfig.ValidatePort),
		MetricsPort: l.Int("METRICS_PORT", 9090, pkgconfig.ValidatePort),
	}

	trace := tracing.Config{
		ServiceName: "changewatch",
		SampleRatio: l.Float("TRACE_SAMPLE_RATIO", 1.0, pkgconfig.FloatRange(0, 1)),
		LogSpans:    l.Bool("TRACE_LOG_SPANS", false),
	}

	slack := notifier.SlackConfig{
		Enabled:    l.Bool("SLACK_ENABLED", false),
		WebhookURL: l.String("SLACK_WEBHOOK_URL", "", pkgconfig.ValidateWebhookURL),
		Timeout:    l.Duration("SLACK_TIMEOUT", 10*time.Second, positive),
	}
	if slack.WebhookURL == "" {
		slack.Enabled = false
	}
	discord := notifier.DiscordConfig{
		Enabled:    l.Bool("DISCORD_ENABLED", false),
		WebhookURL: l.String("DISCORD_WEBHOOK_URL", "", pkgconfig.ValidateWebhookURL),
		Timeout:    l.Duration("DISCORD_TIMEOUT", 10*time.Second, positive),
	}
	if discord.WebhookURL == "" {
		discord.Enabled = false
	}

	nc := notify.DefaultConfig()
	nc.MaxConcurrent = l.Int("NOTIFY_MAX_CONCURRENT", nc.MaxConcurrent, pkgconfig.IntRange(1, 1000))
	nc.NotifyBaseline = l.Bool("NOTIFY_BASELINE", nc.NotifyBaseline)
	nc.NotifyErrors = l.Bool("NOTIFY_ERRORS", nc.NotifyErrors)

	notifyPool := workerpool.DefaultConfig()
	notifyPool.MaxWorkers = l.Int("NOTIFY_POOL_WORKERS", 2, pkgconfig.IntRange(1, 64))
	notifyPool.TaskTimeout = nc.Timeout
	notifyPool.MaxRetries = 0
	notifyPool.QueueSize = nc.MaxConcurrent

	cfg := &AppConfig{
		Pool:            pool,
		NotifyPool:      notifyPool,
		Breaker:         breaker,
		Limiter:         limiter,
		Cache:           hashes,
		Monitor:         mon,
		Fetch:           fetch,
		Server:          server,
		Tracing:         trace,
		Slack:           slack,
		Discord:         discord,
		Notify:          nc,
		DefaultInterval: l.Duration("MONITOR_DEFAULT_INTERVAL", 5*time.Minute, pkgconfig.DurationRange(time.Second, 7*24*time.Hour)),
		MonitorsFile:    pkgconfig.LoadEnvString("MONITORS_FILE", DefaultMonitorsFile),
	}
	return cfg, l.Finish()
}
