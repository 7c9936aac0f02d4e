// Package publicpool polls a public-pool server (benjamin-wilson/public-pool).
// Unlike ckpool, the API reports hashrate as raw numeric H/s; the user's
// total is the sum over its workers. One PoolSample schema serves both
// backends, so the single rate is fanned out to every window column.
package publicpool

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

type clientStats struct {
	WorkersCount   int     `json:"workersCount"`
	BestDifficulty float64 `json:"bestDifficulty"`
	Workers        []struct {
		HashRate float64 `json:"hashRate"`
	} `json:"workers"`
}

type poolWide struct {
	TotalMiners int `json:"totalMiners"`
}

type Client struct {
	apiURL string
	hc     *http.Client
	retry  retrypolicy.Policy
	log    *zap.Logger
}

func New(log *zap.Logger, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	api := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(api, "/api") {
		api += "/api"
	}
	return &Client{
		apiURL: api,
		hc:     &http.Client{Timeout: timeout},
		retry:  retrypolicy.Default(),
		log:    log.Named("publicpool"),
	}
}

func (c *Client) Name() string { return "publicpool" }

// FetchStats GETs /api/client/<address> (and best-effort /api/pool) and maps
// the replies to a PoolSample.
func (c *Client) FetchStats(ctx context.Context, address string) (repo.PoolSample, error) {
	var stats clientStats
	if err := c.getJSON(ctx, c.apiURL+"/client/"+address, &stats); err != nil {
		return repo.PoolSample{}, fmt.Errorf("publicpool: fetch %s: %w", address, err)
	}

	// pool-wide stats enrich the sample but their absence is not a failure
	var wide poolWide
	if err := c.getJSON(ctx, c.apiURL+"/pool", &wide); err != nil {
		c.log.Debug("pool-wide stats unavailable", zap.Error(err))
	}

	var totalHS float64
	for _, w := range stats.Workers {
		totalHS += w.HashRate
	}
	formatted := units.FormatHashrate(totalHS)
	ghs := units.HashesToGHS(totalHS)

	return repo.PoolSample{
		Address:    address,
		RecordedAt: time.Now().UTC(),
		// public-pool exposes one instantaneous rate, no windowed views
		Hashrate1m:    formatted,
		Hashrate5m:    formatted,
		Hashrate1hr:   formatted,
		Hashrate1d:    formatted,
		Hashrate7d:    formatted,
		Workers:       stats.WorkersCount,
		BestShare:     stats.BestDifficulty,
		BestEver:      stats.BestDifficulty,
		Authorised:    int64(wide.TotalMiners),
		Hashrate1mGHS: ghs,
		Hashrate1dGHS: ghs,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, url string, into any) error {
	return c.retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retrypolicy.NewPermanent(err)
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			c.log.Debug("fetch failed", zap.String("url", url), zap.Error(err))
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
		return json.Unmarshal(body, into)
	})
}
