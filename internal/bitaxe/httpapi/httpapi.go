// Package httpapi is the client for the Bitaxe-family HTTP API (AxeOS).
// One GET of /api/system/info returns everything the device knows about
// itself; /api/system/restart reboots it.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"miner-sentinel/internal/retrypolicy"
)

const (
	systemInfoPath = "/api/system/info"
	restartPath    = "/api/system/restart"

	maxBodyBytes = 1 << 20
)

var ErrUnreachable = errors.New("httpapi: device unreachable")

type Client struct {
	hc    *http.Client
	retry retrypolicy.Policy
	log   *zap.Logger
}

func New(log *zap.Logger, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// Embedded web servers on these boards are fragile with keep-alive;
	// force one connection per request.
	tr := &http.Transport{
		DialContext:       (&net.Dialer{Timeout: timeout, KeepAlive: -1}).DialContext,
		DisableKeepAlives: true,
		ForceAttemptHTTP2: false,
	}
	return &Client{
		hc:    &http.Client{Timeout: timeout, Transport: tr},
		retry: retrypolicy.Default(),
		log:   log.Named("httpapi"),
	}
}

// FetchSystemInfo GETs /api/system/info and decodes the reply into a
// normalized SystemInfo. Transport and non-2xx failures are retried with
// backoff; a body that parses as JSON but misses fields is not an error.
func (c *Client) FetchSystemInfo(ctx context.Context, addr string) (SystemInfo, error) {
	var raw map[string]any
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		body, err := c.get(ctx, "http://"+addr+systemInfoPath)
		if err != nil {
			c.log.Debug("system info fetch failed", zap.String("addr", addr), zap.Error(err))
			return err
		}
		var m map[string]any
		if err := json.Unmarshal(body, &m); err != nil {
			return fmt.Errorf("decode system info: %w", err)
		}
		raw = m
		return nil
	})
	if err != nil {
		return SystemInfo{}, fmt.Errorf("%w: %s: %v", ErrUnreachable, addr, err)
	}
	return ExtractSystemInfo(raw), nil
}

// Restart POSTs /api/system/restart. Any 2xx reply counts as accepted; the
// board usually drops the connection while rebooting, so an EOF after the
// status line is fine.
func (c *Client) Restart(ctx context.Context, addr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+restartPath, nil)
	if err != nil {
		return err
	}
	req.Close = true
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, addr, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("httpapi: restart rejected: %s", resp.Status)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retrypolicy.NewPermanent(err)
	}
	req.Close = true
	req.Header.Set("Accept", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return body, nil
}
