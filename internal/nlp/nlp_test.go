package nlp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

func chatServer(t *testing.T, status int, content string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Len(t, req.Messages, 3)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"upstream busy"}}`))
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content}}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{APIKey: "test-key", BaseURL: baseURL + "/v1", Model: "test-model", Timeout: 2 * time.Second}, nil)
	require.NoError(t, err)
	return c
}

func TestTagFields(t *testing.T) {
	content := "```json\n" + `{
		"invoice_no": "INV-001",
		"invoice_date": "2024-03-01",
		"vendor": "Acme Corp",
		"currency_code": "usd",
		"total": 110,
		"tax": "10.00",
		"subtotal": null,
		"items": [{"description": "Widget", "quantity": "2", "unit_price": 50, "total": "100.00"}, "junk"],
		"notes": "thanks"
	}` + "\n```"
	srv := chatServer(t, http.StatusOK, content, nil)

	out, raw, err := newTestClient(t, srv.URL).TagFields(context.Background(), TagRequest{Text: "INVOICE INV-001", FilenameHint: "a.pdf"})
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Equal(t, "INV-001", out.InvoiceNumber)
	assert.Equal(t, "2024-03-01", out.IssueDate)
	assert.Equal(t, "Acme Corp", out.VendorName)
	assert.Equal(t, "USD", out.Currency)
	assert.Equal(t, "110.00", out.Total)
	assert.Equal(t, "10.00", out.Tax)
	assert.Empty(t, out.Subtotal)
	require.Len(t, out.LineItems, 1)
	assert.Equal(t, LineItemField{Description: "Widget", Quantity: 2, UnitPrice: "50.00", Amount: "100.00"}, out.LineItems[0])
}

func TestTagFieldsErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		content   string
		transient bool
	}{
		{name: "server error is transient", status: http.StatusBadGateway, transient: true},
		{name: "rate limit is transient", status: http.StatusTooManyRequests, transient: true},
		{name: "bad request is permanent", status: http.StatusBadRequest},
		{name: "schema violation is permanent", status: http.StatusOK, content: `{"issue_date": "March 1st"}`},
		{name: "not json", status: http.StatusOK, content: `sorry, I cannot help`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, tt.status, tt.content, nil)
			_, _, err := newTestClient(t, srv.URL).TagFields(context.Background(), TagRequest{Text: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, common.IsTransient(err))
		})
	}
}

func TestTagFieldsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, _, err := newTestClient(t, url).TagFields(context.Background(), TagRequest{Text: "x"})
	require.ErrorIs(t, err, common.ErrTransientExtraction)
}

func TestNormalizeAndSanitizeJSON(t *testing.T) {
	raw := []byte(`{"grand_total":"1,234.50","currency":" eur ","vendor_name":"  ","extra":1,"line_items":"oops"}`)
	out, dropped, err := NormalizeAndSanitizeJSON(raw, nil)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	assert.Equal(t, map[string]any{"total": "1234.50", "currency": "EUR"}, m)
	assert.Contains(t, dropped, "grand_total->total")
	assert.Contains(t, dropped, "extra(unknown)")
	assert.Contains(t, dropped, "vendor_name(empty)")
	assert.Contains(t, dropped, "line_items(type)")

	_, _, err = NormalizeAndSanitizeJSON([]byte("not json"), nil)
	require.Error(t, err)
}

func TestSchemaAcceptsSanitizedOutput(t *testing.T) {
	compiled, err := CompileSchema(BuildInvoiceJSONSchema())
	require.NoError(t, err)
	require.NoError(t, ValidateJSON(compiled, []byte(`{"invoice_number":"A-1","total":"-5.00","line_items":[{"amount":"1.00"}]}`)))
	require.Error(t, ValidateJSON(compiled, []byte(`{"currency":"usd"}`)))
	require.Error(t, ValidateJSON(compiled, []byte(`{"line_items":[{"description":"x"}]}`)))
}

func TestPrompts(t *testing.T) {
	sys := BuildSystemPrompt(TagRequest{DayFirst: true})
	assert.Contains(t, sys, "day-first")
	assert.Contains(t, sys, "default to USD")

	long := make([]byte, maxPromptText+100)
	for i := range long {
		long[i] = 'a'
	}
	user := BuildUserPrompt(TagRequest{Text: string(long), FilenameHint: "f.pdf"})
	assert.Contains(t, user, "Filename: f.pdf")
	assert.Less(t, len(user), maxPromptText+100)
}
