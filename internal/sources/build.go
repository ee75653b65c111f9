package sources

import (
	"github.com/kleio/mentions-monitor/internal/config"
	"github.com/sirupsen/logrus"
)

// FromConfig builds every source enabled in the configuration
func FromConfig(cfg *config.Config) []Source {
	opts := ClientOptions{
		RequestsPerSecond: cfg.SourceRateLimit,
		Burst:             1,
		Timeout:           cfg.FetchTimeout,
	}

	var srcs []Source
	if cfg.EnableHackerNews {
		srcs = append(srcs, NewHackerNewsSource(cfg.HackerNewsInterval, opts))
	}
	if cfg.EnableHackerNewsStream {
		// The stream reads one request per item, so it gets its own higher limit
		srcs = append(srcs, NewHackerNewsStreamSource(cfg.HackerNewsStreamInterval, ClientOptions{Timeout: cfg.FetchTimeout}))
	}
	if cfg.EnableReddit {
		redditOpts := opts
		redditOpts.UserAgent = cfg.RedditUserAgent
		srcs = append(srcs, NewRedditSource(cfg.RedditClientID, cfg.RedditClientSecret, cfg.RedditInterval, redditOpts))
	}
	if cfg.EnableStackOverflow {
		srcs = append(srcs, NewStackOverflowSource(cfg.StackOverflowAPIKey, cfg.StackOverflowInterval, opts))
	}
	if cfg.EnableTwitter {
		srcs = append(srcs, NewTwitterSource(cfg.TwitterBearerToken, cfg.TwitterInterval, opts))
	}
	if cfg.EnableYouTube {
		srcs = append(srcs, NewYouTubeSource(cfg.YouTubeAPIKey, cfg.YouTubeInterval, opts))
	}

	if len(srcs) == 0 {
		logrus.Warn("No platform sources enabled")
	}
	return srcs
}

// NewRegistryFromConfig registers every enabled source
func NewRegistryFromConfig(cfg *config.Config) *Registry {
	return NewRegistry(FromConfig(cfg)...)
}
