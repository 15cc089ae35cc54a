package tsdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/atlasbms/atlas/internal/domain"
)

// Config tunes the gateway. Zero values fall back to the defaults below.
type Config struct {
	BaseURL    string
	MetricsDB  string // telemetry database
	CommandsDB string // UI command database
	AuditDB    string // command audit database
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	Debug      bool
}

// DefaultConfig returns the standard gateway settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://127.0.0.1:8181",
		MetricsDB:  "Locations",
		CommandsDB: "UIControlCommands",
		AuditDB:    "ControlCommands",
		Timeout:    30 * time.Second,
		Retries:    3,
		RetryDelay: time.Second,
	}
}

// QueryResult is the outcome of one SQL read.
type QueryResult struct {
	Success bool
	Status  int
	Rows    []map[string]any
	Err     error
}

// WriteResult is the outcome of one line-protocol write.
type WriteResult struct {
	Success bool
	Status  int
	Err     error
}

// Client is the HTTP gateway to the time-series store. Safe for concurrent
// callers; retries are serialised per call, parallel requests are fine.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient builds a gateway with a pooled HTTP transport.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.MetricsDB == "" {
		cfg.MetricsDB = def.MetricsDB
	}
	if cfg.CommandsDB == "" {
		cfg.CommandsDB = def.CommandsDB
	}
	if cfg.AuditDB == "" {
		cfg.AuditDB = def.AuditDB
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = def.Retries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.Named("tsdb"),
	}
}

// Ping checks the store is reachable. Used by the health checker.
func (c *Client) Ping(ctx context.Context) error {
	res := c.QuerySQL(ctx, c.cfg.MetricsDB, "SELECT 1")
	if !res.Success {
		return res.Err
	}
	return nil
}

// QueryLatestMetrics reads the last 5 minutes of telemetry for one
// equipment and coalesces the rows field-by-field: rows arrive newest
// first, and the first non-null value wins for each field.
func (c *Client) QueryLatestMetrics(ctx context.Context, equipmentID string) (domain.Snapshot, error) {
	q := fmt.Sprintf(
		`SELECT * FROM "metrics" WHERE "equipmentId"='%s' AND time > now() - INTERVAL '5 minutes' ORDER BY time DESC LIMIT 10`,
		sqlEscape(equipmentID))
	res := c.QuerySQL(ctx, c.cfg.MetricsDB, q)
	if !res.Success {
		return nil, res.Err
	}
	if len(res.Rows) == 0 {
		return nil, fmt.Errorf("equipment %s: %w", equipmentID, domain.ErrNoMetrics)
	}

	snap := make(domain.Snapshot)
	for _, row := range res.Rows {
		for field, value := range row {
			if value == nil {
				continue
			}
			if _, seen := snap[field]; !seen {
				snap[field] = value
			}
		}
	}
	return snap, nil
}

// QueryUICommands reads the user-command window (15 minutes) for one
// equipment type at one location.
func (c *Client) QueryUICommands(ctx context.Context, locationID string, typ domain.EquipmentType) ([]domain.UICommand, error) {
	q := fmt.Sprintf(
		`SELECT * FROM "ui_commands" WHERE "location_id"='%s' AND "equipment_type"='%s' AND time > now() - INTERVAL '15 minutes' ORDER BY time DESC LIMIT 200`,
		sqlEscape(locationID), sqlEscape(string(typ)))
	res := c.QuerySQL(ctx, c.cfg.CommandsDB, q)
	if !res.Success {
		return nil, res.Err
	}

	cmds := make([]domain.UICommand, 0, len(res.Rows))
	for _, row := range res.Rows {
		cmd := domain.UICommand{}
		if id, ok := row["equipment_id"].(string); ok {
			cmd.EquipmentID = id
		}
		if f, ok := row["command_type"].(string); ok {
			cmd.Field = f
		}
		cmd.Value = row["value"]
		if tstr, ok := row["time"].(string); ok {
			if at, err := time.Parse(time.RFC3339Nano, tstr); err == nil {
				cmd.At = at
			}
		}
		if cmd.EquipmentID == "" || cmd.Field == "" {
			continue
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// QueryLatestCommand reads the persisted last-known commands for one
// equipment from the audit database, coalesced per command type.
func (c *Client) QueryLatestCommand(ctx context.Context, equipmentID string) (map[string]any, error) {
	q := fmt.Sprintf(
		`SELECT * FROM "commands" WHERE "equipment_id"='%s' AND time > now() - INTERVAL '24 hours' ORDER BY time DESC LIMIT 100`,
		sqlEscape(equipmentID))
	res := c.QuerySQL(ctx, c.cfg.AuditDB, q)
	if !res.Success {
		return nil, res.Err
	}

	latest := make(map[string]any)
	for _, row := range res.Rows {
		ct, ok := row["command_type"].(string)
		if !ok || ct == "" {
			continue
		}
		if _, seen := latest[ct]; seen {
			continue
		}
		if v, ok := row["value"]; ok && v != nil {
			latest[ct] = v
		}
	}
	return latest, nil
}

// WriteCommand encodes one command as line protocol and writes it to the
// audit database. Numerics go out as floats, booleans as the literal
// strings true/false, enumerations double-quoted.
func (c *Client) WriteCommand(ctx context.Context, cmd domain.Command) error {
	line := CommandLine(cmd)
	res := c.WriteLP(ctx, c.cfg.AuditDB, line)
	if !res.Success {
		return res.Err
	}
	return nil
}

// CommandLine renders the line-protocol record for a command.
func CommandLine(cmd domain.Command) string {
	tags := map[string]string{
		"equipment_id":   cmd.EquipmentID,
		"location_id":    cmd.LocationID,
		"command_type":   cmd.Type,
		"equipment_type": string(cmd.EquipmentType),
		"source":         "server_logic",
		"status":         "completed",
	}
	fields := map[string]any{"value": encodeCommandValue(cmd.Value)}
	return FormatLine("update_"+cmd.Type, tags, fields, cmd.Timestamp)
}

func encodeCommandValue(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return Raw("true")
		}
		return Raw("false")
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return fmt.Sprint(v)
	}
}

// ─── Transport ──────────────────────────────────────────────────────────────

// QuerySQL runs one SQL query with retries.
func (c *Client) QuerySQL(ctx context.Context, db, query string) QueryResult {
	var out QueryResult
	op := func() error {
		status, body, err := c.post(ctx, "/api/v3/query_sql", "application/json",
			mustJSON(map[string]string{"db": db, "q": query, "format": "json"}))
		out.Status = status
		if err != nil {
			out.Err = err
			return retryClass(status, err)
		}
		var rows []map[string]any
		if err := json.Unmarshal(body, &rows); err != nil {
			out.Err = fmt.Errorf("decode query response: %w: %w", domain.ErrTSDBPermanent, err)
			return backoff.Permanent(out.Err)
		}
		out.Success = true
		out.Rows = rows
		out.Err = nil
		return nil
	}
	c.retry(ctx, "query", op)
	return out
}

// WriteLP writes raw line-protocol with retries. Precision is nanoseconds.
func (c *Client) WriteLP(ctx context.Context, db, lines string) WriteResult {
	var out WriteResult
	path := "/api/v3/write_lp?" + url.Values{
		"db":        {db},
		"precision": {"nanosecond"},
	}.Encode()
	op := func() error {
		status, _, err := c.post(ctx, path, "text/plain", []byte(lines))
		out.Status = status
		if err != nil {
			out.Err = err
			return retryClass(status, err)
		}
		out.Success = true
		out.Err = nil
		return nil
	}
	c.retry(ctx, "write", op)
	return out
}

func (c *Client) retry(ctx context.Context, kind string, op func() error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(c.cfg.RetryDelay),
			),
			uint64(c.cfg.Retries-1),
		), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op()
		if err != nil && c.cfg.Debug {
			c.logger.Debug("tsdb attempt failed",
				zap.String("op", kind), zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}, policy)
	if err != nil {
		c.logger.Warn("tsdb request exhausted retries",
			zap.String("op", kind), zap.Int("attempts", attempt), zap.Error(err))
	}
}

func (c *Client) post(ctx context.Context, path, contentType string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return 0, nil, fmt.Errorf("%w: %w", domain.ErrTSDBTimeout, err)
		}
		return 0, nil, fmt.Errorf("%w: %w", domain.ErrTSDBUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, data, httpError(resp.StatusCode, data)
	}
	return resp.StatusCode, data, nil
}

// retryClass maps an error to the backoff retry decision: 4xx is
// permanent, everything else (timeouts, 5xx, connection refused) retries.
func retryClass(status int, err error) error {
	if status >= 400 && status < 500 {
		return backoff.Permanent(err)
	}
	return err
}

func httpError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if status >= 400 && status < 500 {
		return fmt.Errorf("%w: status %d: %s", domain.ErrTSDBPermanent, status, msg)
	}
	return fmt.Errorf("%w: status %d: %s", domain.ErrTSDBUnavailable, status, msg)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func sqlEscape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
