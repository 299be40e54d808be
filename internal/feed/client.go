// Package feed queries syndication feeds for a topic and turns their entries into candidates.
package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/JakeFAU/topic-digest/internal/digest"
	"github.com/JakeFAU/topic-digest/internal/metrics"
)

// Feed sources.
const (
	SourceSearch = "search"
	SourceTag    = "tag"
)

const topicPlaceholder = "{topic}"

// ErrNoFeedURL means the topic cannot be turned into a feed URL.
var ErrNoFeedURL = errors.New("no feed url for topic")

// Config selects the feed and the headers sent with the query.
type Config struct {
	Source            string
	SearchURLTemplate string
	TagURLTemplate    string
	UserAgent         string
}

// Client implements digest.FeedSource.
type Client struct {
	cfg     Config
	fetcher digest.Fetcher
	logger  *zap.Logger
}

// New builds a Client that fetches through fetcher.
func New(cfg Config, fetcher digest.Fetcher, logger *zap.Logger) (*Client, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("feed client requires a fetcher")
	}
	switch cfg.Source {
	case SourceSearch:
		if !strings.Contains(cfg.SearchURLTemplate, topicPlaceholder) {
			return nil, fmt.Errorf("search url template must contain %s", topicPlaceholder)
		}
	case SourceTag:
		if !strings.Contains(cfg.TagURLTemplate, topicPlaceholder) {
			return nil, fmt.Errorf("tag url template must contain %s", topicPlaceholder)
		}
	default:
		return nil, fmt.Errorf("unknown feed source %q", cfg.Source)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, fetcher: fetcher, logger: logger}, nil
}

// FeedURL builds the query URL for topic.
func (c *Client) FeedURL(topic string) (string, error) {
	switch c.cfg.Source {
	case SourceTag:
		tag := NormalizeTag(topic)
		if tag == "" {
			return "", ErrNoFeedURL
		}
		return strings.ReplaceAll(c.cfg.TagURLTemplate, topicPlaceholder, url.PathEscape(tag)), nil
	default:
		return strings.ReplaceAll(c.cfg.SearchURLTemplate, topicPlaceholder, url.QueryEscape(topic)), nil
	}
}

// NormalizeTag lower-cases topic and joins its words with hyphens.
func NormalizeTag(topic string) string {
	return strings.ToLower(strings.Join(strings.Fields(topic), "-"))
}

// FetchCandidates returns up to maxCount entries in feed order.
// Every failure is logged and yields an empty slice.
func (c *Client) FetchCandidates(ctx context.Context, topic string, maxCount int) []digest.Candidate {
	if maxCount <= 0 {
		return []digest.Candidate{}
	}
	logger := c.logger.With(zap.String("topic", topic), zap.String("source", c.cfg.Source))

	feedURL, err := c.FeedURL(topic)
	if err != nil {
		logger.Info("feed query skipped", zap.Error(err))
		metrics.ObserveFeedFetch(c.cfg.Source, "skipped")
		return []digest.Candidate{}
	}

	candidates, status, err := c.fetch(ctx, feedURL, maxCount)
	metrics.ObserveFeedFetch(c.cfg.Source, status)
	if err != nil {
		logger.Warn("feed fetch failed", zap.String("url", feedURL), zap.String("status", status), zap.Error(err))
		return []digest.Candidate{}
	}
	logger.Debug("feed fetched", zap.String("url", feedURL), zap.Int("candidates", len(candidates)))
	return candidates
}

func (c *Client) fetch(ctx context.Context, feedURL string, maxCount int) ([]digest.Candidate, string, error) {
	headers := http.Header{}
	if c.cfg.UserAgent != "" {
		headers.Set("User-Agent", c.cfg.UserAgent)
	}
	headers.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := c.fetcher.Fetch(ctx, digest.FetchRequest{URL: feedURL, Headers: headers})
	if err != nil {
		return nil, "fetch_error", fmt.Errorf("fetch feed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "bad_status", fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, "parse_error", fmt.Errorf("parse feed: %w", err)
	}
	return candidatesFrom(parsed.Items, maxCount), "ok", nil
}

func candidatesFrom(items []*gofeed.Item, maxCount int) []digest.Candidate {
	candidates := make([]digest.Candidate, 0, min(len(items), maxCount))
	for _, item := range items {
		if len(candidates) == maxCount {
			break
		}
		if item == nil {
			continue
		}
		link := strings.TrimSpace(item.Link)
		if link == "" && len(item.Links) > 0 {
			link = strings.TrimSpace(item.Links[0])
		}
		if link == "" {
			continue
		}
		candidates = append(candidates, digest.Candidate{
			Title: strings.TrimSpace(item.Title),
			Link:  link,
		})
	}
	return candidates
}
