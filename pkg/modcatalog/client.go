// Package modcatalog implements the external mod catalog client (spec
// §4.2): resolving (projectId, fileId) pairs against an upstream catalog
// and streaming the resulting file downloads, under a shared rate limit,
// retry, and circuit-breaker policy.
package modcatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/packforge/distro/pkg/apperr"
	"github.com/packforge/distro/pkg/util/resiliency"
)

// Pair identifies one file on the upstream catalog.
type Pair struct {
	ProjectID string
	FileID    string
}

// ResolveStatus classifies a single resolveBatch result (spec §4.2).
type ResolveStatus string

const (
	ResolveOK               ResolveStatus = "ok"
	ResolveMissing          ResolveStatus = "missing"
	ResolveTransientFailure ResolveStatus = "transient-failure"
)

// ResolveResult is one element of a resolveBatch response.
type ResolveResult struct {
	Pair        Pair
	Status      ResolveStatus
	ProjectInfo ProjectInfo
	FileInfo    FileInfo
	DownloadURL string
	Err         error
}

type ProjectInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type FileInfo struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ByteLength  int64  `json:"byteLength"`
	DownloadURL string `json:"downloadUrl"`
}

// Client talks to the upstream mod catalog over HTTP, enforcing a global
// token-bucket rate limit on top of the teacher's retry/breaker client.
type Client struct {
	baseURL     string
	apiKey      string
	metadata    *resiliency.EnhancedClient
	downloads   *resiliency.EnhancedClient
	limiter     *rate.Limiter
	rawDownload *http.Client
}

// Config controls the client's rate limit and timeouts. Zero values take
// the spec §4.2 defaults.
type Config struct {
	RequestsPerSecond float64       // default 8
	MetadataTimeout   time.Duration // default 30s
	DownloadTimeout   time.Duration // default 2m
	MaxRetries        int           // default 4
}

func (c Config) withDefaults() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 8
	}
	if c.MetadataTimeout <= 0 {
		c.MetadataTimeout = 30 * time.Second
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 2 * time.Minute
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 4
	}
	return c
}

func NewClient(baseURL, apiKey string, cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		metadata: resiliency.NewEnhancedClientWithConfig("modcatalog-metadata",
			cfg.MetadataTimeout, cfg.MaxRetries, 5, 10*time.Second),
		downloads: resiliency.NewEnhancedClientWithConfig("modcatalog-download",
			cfg.DownloadTimeout, cfg.MaxRetries, 5, 10*time.Second),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)),
	}
}

func (c *Client) authenticatedRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// ResolveBatch resolves each pair independently, feeding a 429 response
// back into the limiter by waiting its Retry-After before the next call
// (spec §4.2 "429 feeds back into the rate limiter").
func (c *Client) ResolveBatch(ctx context.Context, pairs []Pair) ([]ResolveResult, error) {
	results := make([]ResolveResult, len(pairs))
	for i, pair := range pairs {
		results[i] = c.resolveOne(ctx, pair)
	}
	return results, nil
}

func (c *Client) resolveOne(ctx context.Context, pair Pair) ResolveResult {
	if err := c.limiter.Wait(ctx); err != nil {
		return ResolveResult{Pair: pair, Status: ResolveTransientFailure, Err: err}
	}

	url := fmt.Sprintf("%s/v1/projects/%s/files/%s", c.baseURL, pair.ProjectID, pair.FileID)
	req, err := c.authenticatedRequest(ctx, http.MethodGet, url)
	if err != nil {
		return ResolveResult{Pair: pair, Status: ResolveTransientFailure, Err: err}
	}

	resp, err := c.metadata.Do(req)
	if err != nil {
		return ResolveResult{Pair: pair, Status: ResolveTransientFailure, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ResolveResult{Pair: pair, Status: ResolveMissing}
	case resp.StatusCode == http.StatusTooManyRequests:
		c.applyRetryAfter(resp)
		return ResolveResult{Pair: pair, Status: ResolveTransientFailure, Err: fmt.Errorf("rate limited by upstream")}
	case resp.StatusCode >= 500:
		return ResolveResult{Pair: pair, Status: ResolveTransientFailure, Err: fmt.Errorf("upstream status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return ResolveResult{Pair: pair, Status: ResolveMissing, Err: fmt.Errorf("upstream status %d", resp.StatusCode)}
	}

	var body struct {
		Project ProjectInfo `json:"project"`
		File    FileInfo    `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ResolveResult{Pair: pair, Status: ResolveTransientFailure, Err: err}
	}

	return ResolveResult{
		Pair:        pair,
		Status:      ResolveOK,
		ProjectInfo: body.Project,
		FileInfo:    body.File,
		DownloadURL: body.File.DownloadURL,
	}
}

// applyRetryAfter lets a 429's Retry-After push back subsequent calls:
// it reserves enough future tokens that the limiter won't release
// another request before the upstream-requested window elapses (spec
// §4.2 "429 feeds back into the rate limiter").
func (c *Client) applyRetryAfter(resp *http.Response) {
	wait := time.Second
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := time.ParseDuration(v + "s"); err == nil {
			wait = secs
		}
	}
	tokens := int(c.limiter.Limit() * rate.Limit(wait.Seconds()))
	if tokens < 1 {
		tokens = 1
	}
	c.limiter.ReserveN(time.Now(), tokens)
}

// Download streams the blob at url without buffering it into memory.
// The caller is responsible for closing the returned reader.
func (c *Client) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "rate limiter wait failed", err)
	}

	req, err := c.authenticatedRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	resp, err := c.downloads.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "download failed", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, apperr.New(apperr.KindNotFound, "upstream file not found")
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, apperr.New(apperr.KindUpstreamUnavailable, fmt.Sprintf("download status %d", resp.StatusCode))
	}

	return resp.Body, nil
}
