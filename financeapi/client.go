// Package financeapi is the rate-limited client for the external finance disclosure API.
package financeapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	endpointCommittees    = "committees"
	endpointTotals        = "totals"
	endpointContributions = "schedule_a"
)

// Client is safe for concurrent use; all calls share one limiter, so the minimum delay holds
// across goroutines of the same process.
type Client struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	pageSize  int
	http      *http.Client
	limiter   *rate.Limiter
	logger    *logrus.Logger
}

var _ API = (*Client)(nil)

func NewClient(s config.FinanceSettings, logger *logrus.Logger) (*Client, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, errors.New("finance api key is empty")
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Client{
		baseURL:   strings.TrimRight(s.APIBaseURL, "/"),
		apiKey:    s.APIKey,
		apiKeyHdr: s.APIKeyHeader,
		pageSize:  s.PageSize,
		http:      &http.Client{Timeout: s.RequestTimeout},
		limiter:   newLimiter(s.MinRequestDelay),
		logger:    logger,
	}, nil
}

func newLimiter(minDelay time.Duration) *rate.Limiter {
	if minDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(minDelay), 1)
}

func (c *Client) FetchCommitteesForCandidate(ctx context.Context, externalCandidateId string) ([]Committee, error) {
	id := strings.TrimSpace(externalCandidateId)
	if id == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("per_page", "100")
	body, err := c.get(ctx, endpointCommittees, "/candidate/"+url.PathEscape(id)+"/committees/", params)
	if err != nil || body == nil {
		return nil, err
	}
	committees, perr := parseCommittees(body)
	if perr != nil {
		c.malformed(endpointCommittees, id, perr)
		return nil, nil
	}
	c.ok(endpointCommittees)
	return committees, nil
}

func (c *Client) FetchCommitteeTotals(ctx context.Context, externalCommitteeId string, cycle int) (*CommitteeTotals, error) {
	id := strings.TrimSpace(externalCommitteeId)
	if id == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("cycle", strconv.Itoa(cycle))
	body, err := c.get(ctx, endpointTotals, "/committee/"+url.PathEscape(id)+"/totals/", params)
	if err != nil || body == nil {
		return nil, err
	}
	totals, perr := parseTotals(body)
	if perr != nil {
		c.malformed(endpointTotals, id, perr)
		return nil, nil
	}
	c.ok(endpointTotals)
	return totals, nil
}

func (c *Client) FetchItemizedContributionsPage(ctx context.Context, externalCommitteeId string, cycle int, cursor Cursor) (*ContributionPage, error) {
	id := strings.TrimSpace(externalCommitteeId)
	if id == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("committee_id", id)
	params.Set("two_year_transaction_period", strconv.Itoa(cycle))
	params.Set("per_page", strconv.Itoa(c.pageSize))
	for k, vs := range decodeCursor(cursor) {
		for _, v := range vs {
			params.Set(k, v)
		}
	}
	body, err := c.get(ctx, endpointContributions, "/schedules/schedule_a/", params)
	if err != nil || body == nil {
		return nil, err
	}
	page, perr := parseContributionPage(body)
	if perr != nil {
		c.malformed(endpointContributions, id, perr)
		return nil, nil
	}
	c.ok(endpointContributions)
	return page, nil
}

// get returns (nil, nil) for non-2xx responses. Transport failures and context
// cancellation are returned as errors.
func (c *Client) get(ctx context.Context, endpoint string, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u := c.baseURL + path
	if len(params) > 0 {
		u = u + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncAPIRequest(endpoint, metrics.OutcomeTransport)
		return nil, fmt.Errorf("finance api %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.IncAPIRequest(endpoint, metrics.OutcomeTransport)
		return nil, fmt.Errorf("finance api %s: read body: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.IncAPIRequest(endpoint, metrics.OutcomeUnavailable)
		c.logger.WithFields(logrus.Fields{
			"field":    "financeapi",
			"endpoint": endpoint,
			"status":   resp.StatusCode,
			"body":     truncate(strings.TrimSpace(string(body)), 300),
		}).Warn("finance api returned non-success status")
		return nil, nil
	}
	return body, nil
}

func (c *Client) ok(endpoint string) {
	metrics.IncAPIRequest(endpoint, metrics.OutcomeOK)
}

func (c *Client) malformed(endpoint string, id string, err error) {
	metrics.IncAPIRequest(endpoint, metrics.OutcomeMalformed)
	c.logger.WithFields(logrus.Fields{
		"field":       "financeapi",
		"endpoint":    endpoint,
		"external_id": id,
	}).Warnf("malformed finance api payload: %v", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
