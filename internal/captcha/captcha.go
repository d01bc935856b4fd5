// Package captcha solves image captchas through a 2captcha-compatible
// HTTP API: submit the image, then poll until the farm answers.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrUnsolvable means the farm gave up on the image. Re-submitting the
// same image is pointless; the caller should reload the captcha.
var ErrUnsolvable = errors.New("captcha: unsolvable")

// Solver answers image captchas. The portals embed images as base64.
type Solver interface {
	Solve(ctx context.Context, imageB64 string) (string, error)
}

// Config configures the solver client.
type Config struct {
	// BaseURL of the solver API. Default: http://rucaptcha.com.
	BaseURL string
	// Key is the account API key.
	Key string
	// PollInterval between result polls. Default: 5s.
	PollInterval time.Duration
	// MaxPolls bounds the result loop. Default: 10.
	MaxPolls int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://rucaptcha.com"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client talks to the solver API.
type Client struct {
	cfg  Config
	http *resty.Client
}

// New creates a solver client.
func New(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(30 * time.Second),
	}
}

// Submit uploads a base64 image and returns the task id. The portals
// use 5-digit numeric captchas.
func (c *Client) Submit(ctx context.Context, imageB64 string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"key":     c.cfg.Key,
			"method":  "base64",
			"body":    imageB64,
			"numeric": "1",
			"min_len": "5",
			"max_len": "5",
		}).
		Post("/in.php")
	if err != nil {
		return "", fmt.Errorf("captcha: submit: %w", err)
	}

	body := strings.TrimSpace(resp.String())
	if !strings.HasPrefix(body, "OK|") {
		return "", fmt.Errorf("captcha: submit rejected: %s", body)
	}
	return strings.TrimPrefix(body, "OK|"), nil
}

// Answer polls for the solution of a submitted task.
func (c *Client) Answer(ctx context.Context, taskID string) (string, error) {
	for i := 0; i < c.cfg.MaxPolls; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"key":    c.cfg.Key,
				"action": "get",
				"id":     taskID,
			}).
			Get("/res.php")
		if err != nil {
			return "", fmt.Errorf("captcha: poll: %w", err)
		}

		body := strings.TrimSpace(resp.String())
		switch {
		case strings.HasPrefix(body, "OK|"):
			return strings.TrimPrefix(body, "OK|"), nil
		case body == "CAPCHA_NOT_READY":
			continue
		case body == "ERROR_CAPTCHA_UNSOLVABLE":
			return "", ErrUnsolvable
		default:
			return "", fmt.Errorf("captcha: poll rejected: %s", body)
		}
	}
	return "", fmt.Errorf("captcha: no answer after %d polls", c.cfg.MaxPolls)
}

// Solve submits the image and waits for the answer.
func (c *Client) Solve(ctx context.Context, imageB64 string) (string, error) {
	id, err := c.Submit(ctx, imageB64)
	if err != nil {
		return "", err
	}
	c.cfg.Logger.Debug("captcha submitted", "task_id", id)
	return c.Answer(ctx, id)
}
