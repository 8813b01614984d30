package nlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

// Config for the OpenAI-compatible tagger.
type Config struct {
	APIKey      string
	BaseURL     string        // default https://api.openai.com/v1
	Model       string        // e.g. "gpt-4o-mini"
	Temperature float32       // 0..2
	Timeout     time.Duration // per request
}

// Client implements FieldTagger over chat/completions.
type Client struct {
	cfg      Config
	http     *resty.Client
	schema   map[string]any
	compiled *jsonschema.Schema
	endpoint string
	logger   *slog.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Temperature    float32        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format"`
	Messages       []chatMessage  `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	schema := BuildInvoiceJSONSchema()
	compiled, err := CompileSchema(schema)
	if err != nil {
		return nil, err
	}

	hc := resty.New()
	hc.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	hc.SetHeader("Content-Type", "application/json")
	hc.SetTimeout(cfg.Timeout)

	return &Client{
		cfg:      cfg,
		http:     hc,
		schema:   schema,
		compiled: compiled,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		logger:   logger,
	}, nil
}

func (c *Client) TagFields(ctx context.Context, req TagRequest) (InvoiceFields, []byte, error) {
	rid := uuid.NewString()
	start := time.Now()

	c.logger.Debug("nlp.tag.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"text_len", len(req.Text),
		"file", req.FilenameHint,
	)

	body := chatRequest{
		Model:          c.cfg.Model,
		Temperature:    c.cfg.Temperature,
		ResponseFormat: map[string]any{"type": "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: BuildSystemPrompt(req)},
			{Role: "user", Content: BuildUserPrompt(req) + "\n\nReturn ONLY JSON that matches the provided schema."},
			{Role: "system", Content: "JSON Schema:\n" + mustJSON(c.schema)},
		},
	}

	var resp chatResponse
	httpResp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&resp).
		SetError(&resp).
		Post(c.endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return InvoiceFields{}, nil, ctx.Err()
		}
		c.logger.Warn("nlp.tag.http_error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return InvoiceFields{}, nil, common.Transient(fmt.Errorf("tagger request: %v", err))
	}

	if code := httpResp.StatusCode(); code < 200 || code >= 300 {
		msg := string(httpResp.Body())
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		err := fmt.Errorf("tagger status %d: %s", code, truncate(msg, 512))
		c.logger.Warn("nlp.tag.bad_status", "req_id", rid, "status", code, "elapsed_ms", time.Since(start).Milliseconds())
		if code == http.StatusTooManyRequests || code >= 500 {
			return InvoiceFields{}, nil, common.Transient(err)
		}
		return InvoiceFields{}, nil, err
	}

	if len(resp.Choices) == 0 {
		c.logger.Error("nlp.tag.no_choices", "req_id", rid, "raw", truncate(string(httpResp.Body()), 1024))
		return InvoiceFields{}, httpResp.Body(), errors.New("no choices in tagger response")
	}
	content := []byte(stripFences(resp.Choices[0].Message.Content))

	out, cleaned, err := c.Decode(content)
	if err != nil {
		c.logger.Error("nlp.tag.schema_validation_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return InvoiceFields{}, content, err
	}

	c.logger.Info("nlp.tag.ok",
		"req_id", rid,
		"invoice_number", out.InvoiceNumber,
		"total", out.Total,
		"line_items", len(out.LineItems),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, cleaned, nil
}

// Decode sanitizes model output, validates it against the invoice schema
// and unmarshals it.
func (c *Client) Decode(content []byte) (InvoiceFields, []byte, error) {
	cleaned, _, err := NormalizeAndSanitizeJSON(content, c.logger)
	if err != nil {
		return InvoiceFields{}, content, err
	}
	if err := ValidateJSON(c.compiled, cleaned); err != nil {
		return InvoiceFields{}, cleaned, fmt.Errorf("schema validation failed: %w", err)
	}
	var out InvoiceFields
	if err := json.Unmarshal(cleaned, &out); err != nil {
		return InvoiceFields{}, cleaned, fmt.Errorf("unmarshal fields: %w", err)
	}
	return out, cleaned, nil
}

// stripFences removes a ```json fence some models wrap around output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
