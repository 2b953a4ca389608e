// Package tushare implements provider.Provider against the Tushare Pro HTTP API.
package tushare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/stocksync/internal/dataset"
	"github.com/JakeFAU/stocksync/internal/provider"
	"github.com/JakeFAU/stocksync/internal/stock"
)

// DefaultEndpoint is the public Tushare Pro API.
const DefaultEndpoint = "http://api.tushare.pro"

// Config controls the API client.
type Config struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
	// PageSize is the limit sent with every request; pages are followed
	// until the API reports no more rows.
	PageSize int
}

// Throttle delays calls to one API.
type Throttle interface {
	Wait(ctx context.Context, api string) error
}

// Client is a Tushare Pro client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	throttle   Throttle
	logger     *zap.Logger
}

var _ provider.Provider = (*Client)(nil)

// New creates a Client. A nil throttle disables client-side rate limiting.
func New(cfg Config, throttle Throttle, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("%w: provider.token is required", stock.ErrConfiguration)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 5000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		throttle:   throttle,
		logger:     logger.Named("tushare"),
	}, nil
}

type request struct {
	APIName string         `json:"api_name"`
	Token   string         `json:"token"`
	Params  map[string]any `json:"params"`
	Fields  string         `json:"fields,omitempty"`
}

type response struct {
	RequestID string `json:"request_id"`
	Code      int    `json:"code"`
	Msg       string `json:"msg"`
	Data      *struct {
		Fields  []string `json:"fields"`
		Items   [][]any  `json:"items"`
		HasMore *bool    `json:"has_more"`
	} `json:"data"`
}

// Fetch returns every row of schema's dataset for code within window.
func (c *Client) Fetch(ctx context.Context, schema *dataset.Schema, code string, window stock.SyncWindow) (dataset.RowSet, error) {
	params := map[string]any{
		"ts_code":    code,
		"start_date": stock.FormatDate(window.Start),
		"end_date":   stock.FormatDate(window.End),
	}
	return c.query(ctx, schema.APIName, params, schema.APIFields())
}

// ListEntities returns the listed securities of venue.
func (c *Client) ListEntities(ctx context.Context, venue string) (dataset.RowSet, error) {
	params := map[string]any{
		"exchange":    venue,
		"list_status": "L",
	}
	return c.query(ctx, "stock_basic", params, []string{dataset.CodeColumn, dataset.NameColumn})
}

func (c *Client) query(ctx context.Context, api string, params map[string]any, fields []string) (dataset.RowSet, error) {
	var out dataset.RowSet
	for offset := 0; ; {
		page := make(map[string]any, len(params)+2)
		for k, v := range params {
			page[k] = v
		}
		page["limit"] = c.cfg.PageSize
		page["offset"] = offset

		rows, more, err := c.call(ctx, request{
			APIName: api,
			Token:   c.cfg.Token,
			Params:  page,
			Fields:  strings.Join(fields, ","),
		})
		if err != nil {
			return dataset.RowSet{}, err
		}
		out.Append(rows)
		if !more || rows.Len() == 0 {
			break
		}
		offset += rows.Len()
	}
	if out.Fields == nil {
		out.Fields = fields
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, req request) (dataset.RowSet, bool, error) {
	if c.throttle != nil {
		if err := c.throttle.Wait(ctx, req.APIName); err != nil {
			return dataset.RowSet{}, false, err
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return dataset.RowSet{}, false, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return dataset.RowSet{}, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return dataset.RowSet{}, false, fmt.Errorf("%w: %s: %w", stock.ErrTransientFetch, req.APIName, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return dataset.RowSet{}, false, fmt.Errorf("%w: %s returned status %d: %s",
			stock.ErrTransientFetch, req.APIName, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var payload response
	if err := dec.Decode(&payload); err != nil {
		return dataset.RowSet{}, false, fmt.Errorf("%w: decode %s response: %w", stock.ErrTransientFetch, req.APIName, err)
	}
	if payload.Code != 0 {
		return dataset.RowSet{}, false, fmt.Errorf("%w: %s error %d: %s",
			stock.ErrTransientFetch, req.APIName, payload.Code, payload.Msg)
	}
	if payload.Data == nil {
		return dataset.RowSet{}, false, nil
	}

	rows := dataset.RowSet{Fields: payload.Data.Fields, Items: payload.Data.Items}
	more := rows.Len() >= c.cfg.PageSize
	if payload.Data.HasMore != nil {
		more = *payload.Data.HasMore
	}
	c.logger.Debug("page fetched",
		zap.String("api", req.APIName),
		zap.Any("offset", req.Params["offset"]),
		zap.Int("rows", rows.Len()),
		zap.Bool("has_more", more),
	)
	return rows, more, nil
}
