// Package ckpool polls a ckpool/ckproxy server's per-user stats endpoint.
// The API reports windowed hashrates as human-formatted strings ("466G",
// "1.29T") which we keep verbatim and also normalize to GH/s.
package ckpool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"miner-sentinel/internal/retrypolicy"
	"miner-sentinel/internal/storage/repo"
	"miner-sentinel/internal/units"
)

const maxBodyBytes = 1 << 20

type userStats struct {
	Hashrate1m  string  `json:"hashrate1m"`
	Hashrate5m  string  `json:"hashrate5m"`
	Hashrate1hr string  `json:"hashrate1hr"`
	Hashrate1d  string  `json:"hashrate1d"`
	Hashrate7d  string  `json:"hashrate7d"`
	LastShare   int64   `json:"lastshare"`
	Workers     int     `json:"workers"`
	Shares      int64   `json:"shares"`
	BestShare   float64 `json:"bestshare"`
	BestEver    float64 `json:"bestever"`
	Authorised  int64   `json:"authorised"`
}

type Client struct {
	baseURL string
	hc      *http.Client
	retry   retrypolicy.Policy
	log     *zap.Logger
}

func New(log *zap.Logger, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
		retry:   retrypolicy.Default(),
		log:     log.Named("ckpool"),
	}
}

func (c *Client) Name() string { return "ckpool" }

// FetchStats GETs <base>/users/<address> and maps the reply to a PoolSample.
func (c *Client) FetchStats(ctx context.Context, address string) (repo.PoolSample, error) {
	url := fmt.Sprintf("%s/users/%s", c.baseURL, address)

	var stats userStats
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retrypolicy.NewPermanent(err)
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			c.log.Debug("pool stats fetch failed", zap.String("url", url), zap.Error(err))
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %s", resp.Status)
		}
		return json.Unmarshal(body, &stats)
	})
	if err != nil {
		return repo.PoolSample{}, fmt.Errorf("ckpool: fetch %s: %w", address, err)
	}

	return repo.PoolSample{
		Address:       address,
		RecordedAt:    time.Now().UTC(),
		Hashrate1m:    orZero(stats.Hashrate1m),
		Hashrate5m:    orZero(stats.Hashrate5m),
		Hashrate1hr:   orZero(stats.Hashrate1hr),
		Hashrate1d:    orZero(stats.Hashrate1d),
		Hashrate7d:    orZero(stats.Hashrate7d),
		LastShare:     stats.LastShare,
		Workers:       stats.Workers,
		Shares:        stats.Shares,
		BestShare:     stats.BestShare,
		BestEver:      stats.BestEver,
		Authorised:    stats.Authorised,
		Hashrate1mGHS: units.ParseHashrateGHS(stats.Hashrate1m),
		Hashrate1dGHS: units.ParseHashrateGHS(stats.Hashrate1d),
	}, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
