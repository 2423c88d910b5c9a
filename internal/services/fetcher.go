package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/utils"
)

// FetchedComment mirrors one scraped comment before ingest.
type FetchedComment struct {
	ID           string `json:"id"`
	ParentID     string `json:"parent_id,omitempty"`
	Text         string `json:"text"`
	AuthorHandle string `json:"author_handle,omitempty"`
	LikeCount    int    `json:"like_count"`
	ReplyCount   int    `json:"reply_count"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// FetchResult is the scraper sidecar's payload for one thread.
type FetchResult struct {
	URL         string           `json:"url"`
	Author      string           `json:"author"`
	PostText    string           `json:"post_text"`
	PostTextRaw string           `json:"post_text_raw"`
	LikeCount   int              `json:"like_count"`
	ViewCount   int              `json:"view_count"`
	ReplyCount  int              `json:"reply_count"`
	RepostCount int              `json:"repost_count"`
	ShareCount  int              `json:"share_count"`
	Images      []string         `json:"images,omitempty"`
	Comments    []FetchedComment `json:"comments"`
	RawHTML     string           `json:"raw_html,omitempty"`
	CapturedAt  time.Time        `json:"captured_at"`
}

// ThreadFetcher retrieves one thread (post plus comment tree) from the
// scraper sidecar.
type ThreadFetcher interface {
	Fetch(ctx context.Context, postURL string) (*FetchResult, error)
}

// NormalizeThreadURL canonicalizes a thread URL before it becomes the
// post's identity: the .com mirror collapses onto threads.net, and
// query/fragment junk is dropped.
func NormalizeThreadURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" && !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = "https"
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	if host == "threads.com" {
		host = "threads.net"
	}
	if host != "threads.net" {
		return "", fmt.Errorf("unsupported host %q", u.Host)
	}
	u.Host = "www.threads.net"
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	if u.Path == "" {
		return "", fmt.Errorf("url has no thread path")
	}
	return u.String(), nil
}

type httpThreadFetcher struct {
	client *jsonClient
}

// NewHTTPThreadFetcher builds the sidecar client from FETCHER_BASE_URL,
// FETCHER_TIMEOUT_SECONDS and FETCHER_MAX_RETRIES.
func NewHTTPThreadFetcher(baseLog *logger.Logger) (ThreadFetcher, error) {
	log := baseLog.With("service", "ThreadFetcher")
	baseURL := strings.TrimRight(utils.GetEnv("FETCHER_BASE_URL", "http://localhost:8090", log), "/")
	timeoutSec := utils.GetEnvAsInt("FETCHER_TIMEOUT_SECONDS", 120, log)
	maxRetries := utils.GetEnvAsInt("FETCHER_MAX_RETRIES", 3, log)
	return &httpThreadFetcher{
		client: &jsonClient{
			name:       "fetcher",
			baseURL:    baseURL,
			httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
			maxRetries: maxRetries,
			log:        log,
		},
	}, nil
}

func (c *httpThreadFetcher) Fetch(ctx context.Context, postURL string) (*FetchResult, error) {
	normalized, err := NormalizeThreadURL(postURL)
	if err != nil {
		return nil, err
	}
	var out FetchResult
	if err := c.client.do(ctx, "/scrape", map[string]string{"url": normalized}, &out); err != nil {
		return nil, err
	}
	if out.URL == "" {
		out.URL = normalized
	}
	if out.CapturedAt.IsZero() {
		out.CapturedAt = time.Now().UTC()
	}
	return &out, nil
}
