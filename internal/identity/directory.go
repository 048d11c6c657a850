package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-live/internal/obslog"
)

// Profile is the subset of the user service record the game server cares about.
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Directory looks participants up in the external user service.
type Directory struct {
	baseURL string
	http    *fasthttp.Client
	token   string

	defaultTimeout time.Duration
	retryMax       int
}

type DirectoryOption func(*Directory)

func WithTimeout(d time.Duration) DirectoryOption {
	return func(c *Directory) { c.defaultTimeout = d }
}

func WithRetry(max int) DirectoryOption {
	return func(c *Directory) { c.retryMax = max }
}

// WithServiceToken sends a bearer token on every lookup.
func WithServiceToken(tok string) DirectoryOption {
	return func(c *Directory) { c.token = strings.TrimSpace(tok) }
}

func NewDirectory(baseURL string, opts ...DirectoryOption) *Directory {
	d := &Directory{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, MaxConnsPerHost: 32},
		defaultTimeout: 5 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Lookup fetches a profile. Unknown and inactive users are errors.
func (d *Directory) Lookup(ctx context.Context, id string) (*Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrUnknownUser
	}
	var p Profile
	status, err := d.getJSON(ctx, "/users/"+url.PathEscape(id), &p)
	if status == fasthttp.StatusNotFound {
		return nil, ErrUnknownUser
	}
	if err != nil {
		obslog.L().Warn("identity_lookup_error", zap.String("participant", id), zap.Error(err))
		return nil, err
	}
	if !p.Active {
		return nil, ErrInactiveUser
	}
	return &p, nil
}

func (d *Directory) getJSON(ctx context.Context, path string, out any) (int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(d.baseURL + path)
	req.Header.Set("Accept", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	attempts := d.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := d.http.DoDeadline(req, resp, d.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else {
			status := resp.StatusCode()
			switch {
			case status >= 200 && status < 300:
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return status, fmt.Errorf("decode response: %w", err)
				}
				return status, nil
			case !shouldRetryStatus(status):
				return status, fmt.Errorf("directory error: status=%d body=%s", status, truncate(string(resp.Body()), 256))
			}
			lastErr = fmt.Errorf("directory error: status=%d", status)
		}
		if attempt == attempts {
			break
		}
		if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return 0, lastErr
}

func (d *Directory) computeDeadline(ctx context.Context) time.Time {
	own := time.Now().Add(d.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
