// Package leetcode fetches recent accepted submissions from the LeetCode GraphQL API.
package leetcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/leetdaily/internal/solves"
)

// DefaultEndpoint is the public LeetCode GraphQL endpoint.
const DefaultEndpoint = "https://leetcode.com/graphql"

const recentAcQuery = `query recentAcSubmissions($username: String!, $limit: Int!) {
  recentAcSubmissionList(username: $username, limit: $limit) {
    id
    title
    titleSlug
    timestamp
  }
}`

// Config controls the GraphQL client.
type Config struct {
	Endpoint  string
	Limit     int
	Timeout   time.Duration
	UserAgent string
}

// Throttle gates each outbound call.
type Throttle interface {
	Wait(ctx context.Context, endpoint string) error
}

// Client implements solves.Source on top of a Colly collector.
type Client struct {
	cfg           Config
	throttle      Throttle
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client. throttle may be nil.
func New(cfg Config, throttle Throttle) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	// Clones share this client, so the timeout is fixed here.
	c.SetRequestTimeout(cfg.Timeout)
	return &Client{
		cfg:           cfg,
		throttle:      throttle,
		baseCollector: c,
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type recentAcResponse struct {
	Data struct {
		RecentAcSubmissionList []submissionNode `json:"recentAcSubmissionList"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type submissionNode struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	TitleSlug string       `json:"titleSlug"`
	Timestamp epochSeconds `json:"timestamp"`
}

// epochSeconds accepts both "1700000000" and 1700000000.
type epochSeconds int64

func (e *epochSeconds) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*e = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	*e = epochSeconds(v)
	return nil
}

// RecentAccepted returns up to Limit recent accepted submissions for username.
func (c *Client) RecentAccepted(ctx context.Context, username string) (solves.Batch, error) {
	if c.throttle != nil {
		if err := c.throttle.Wait(ctx, c.cfg.Endpoint); err != nil {
			return solves.Batch{}, err
		}
	}

	body, err := json.Marshal(graphQLRequest{
		Query: recentAcQuery,
		Variables: map[string]any{
			"username": username,
			"limit":    c.cfg.Limit,
		},
	})
	if err != nil {
		return solves.Batch{}, fmt.Errorf("encode graphql request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var (
		raw      []byte
		fetchErr error
	)
	collector := c.baseCollector.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	c.configureCollectorHooks(collector, &raw, &fetchErr)

	if err := runCollector(ctx, collector, c.cfg.Endpoint, body, &fetchErr); err != nil {
		return solves.Batch{}, err
	}

	subs, err := decode(raw)
	if err != nil {
		return solves.Batch{}, err
	}
	return solves.Batch{Submissions: subs, Raw: raw}, nil
}

func (c *Client) configureCollectorHooks(hooks collectorHooks, raw *[]byte, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Content-Type", "application/json")
		r.Headers.Set("Accept", "application/json")
		r.Headers.Set("Referer", "https://leetcode.com")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*raw = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, endpoint string, body []byte, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.PostRaw(endpoint, body)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("graphql request canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("graphql post failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("graphql response failed: %w", *fetchErr)
		}
		return nil
	}
}

func decode(raw []byte) ([]solves.Submission, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("empty graphql response")
	}
	var resp recentAcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
	}
	subs := make([]solves.Submission, 0, len(resp.Data.RecentAcSubmissionList))
	for _, n := range resp.Data.RecentAcSubmissionList {
		subs = append(subs, solves.Submission{
			ID:        n.ID,
			Title:     n.Title,
			TitleSlug: n.TitleSlug,
			Timestamp: int64(n.Timestamp),
		})
	}
	return subs, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
