package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"

	"royale-miner/internal/royale"
)

const (
	// Colors for Discord embeds
	colorRed   = 15158332 // 0xE74C3C
	colorGreen = 5763719  // 0x57F287
	colorGrey  = 9807270  // 0x95A5A6, a run that found nothing new

	defaultWebhookTimeout = 10 * time.Second

	// Max attempts when Discord rate limits us
	maxRetries = 3
)

// WebhookPayload represents a Discord webhook message
type WebhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Embed represents a Discord embed
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedField represents a field in a Discord embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter represents the footer of a Discord embed
type EmbedFooter struct {
	Text string `json:"text"`
}

// RunSummary is what a completed miner run reports
type RunSummary struct {
	RunID      string
	Tag        string
	Fetched    int
	NewEntries int
	TotalRows  int
	Created    bool
	Duration   time.Duration
	FinishedAt time.Time
}

// NewRunCompletedPayload creates a payload summarising a saved run
func NewRunCompletedPayload(s RunSummary) WebhookPayload {
	color := colorGreen
	if s.NewEntries == 0 {
		color = colorGrey
	}

	title := "📥 Battle Log Mined"
	if s.Created {
		title = "🆕 Dataset Created"
	}

	embed := Embed{
		Title:       title,
		Description: "Player " + s.Tag,
		Color:       color,
		Fields: []EmbedField{
			{Name: "PvP Battles", Value: formatNumber(s.Fetched), Inline: true},
			{Name: "New Entries", Value: formatNumber(s.NewEntries), Inline: true},
			{Name: "Total Rows", Value: formatNumber(s.TotalRows), Inline: true},
		},
		Footer: &EmbedFooter{Text: fmt.Sprintf("Run %s in %s", shortID(s.RunID), formatDuration(s.Duration))},
	}
	if !s.FinishedAt.IsZero() {
		embed.Timestamp = s.FinishedAt.UTC().Format(time.RFC3339)
	}

	return WebhookPayload{Embeds: []Embed{embed}}
}

// NewRunFailedPayload creates a payload for a run that wrote nothing.
// Key problems mention @here since every later run fails the same way.
func NewRunFailedPayload(tag string, runErr error) WebhookPayload {
	payload := WebhookPayload{
		Embeds: []Embed{
			{
				Title:       "❌ Mining Run Failed",
				Description: "Player " + tag,
				Color:       colorRed,
				Fields: []EmbedField{
					{Name: "Error", Value: truncate(runErr.Error(), 1000)},
				},
				Footer: &EmbedFooter{Text: "Dataset left unchanged"},
			},
		},
	}

	if errors.Is(runErr, royale.ErrAPIKeyExpired) || errors.Is(runErr, royale.ErrAPIKeyForbidden) || errors.Is(runErr, royale.ErrMissingAPIKey) {
		payload.Content = "@here API key needs attention"
		payload.Embeds[0].Title = "🔑 API Key Rejected"
		payload.Embeds[0].Footer.Text = "Replace the key (developer.clashroyale.com) and rerun"
	}
	return payload
}

// WebhookClient sends notifications to Discord webhooks
type WebhookClient struct {
	webhookURL string
	httpClient *http.Client
}

// NewWebhookClient creates a new WebhookClient
func NewWebhookClient(webhookURL string) *WebhookClient {
	return &WebhookClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: defaultWebhookTimeout,
		},
	}
}

// SendRunSummary posts the summary of a completed run
func (c *WebhookClient) SendRunSummary(ctx context.Context, s RunSummary) error {
	return c.sendPayload(ctx, NewRunCompletedPayload(s))
}

// SendRunFailed posts a failure notice
func (c *WebhookClient) SendRunFailed(ctx context.Context, tag string, runErr error) error {
	return c.sendPayload(ctx, NewRunFailedPayload(tag, runErr))
}

// sendPayload sends a webhook payload with retry on rate limiting
func (c *WebhookClient) sendPayload(ctx context.Context, payload WebhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "POST", c.webhookURL, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		resp.Body.Close()

		// Discord returns 204 No Content
		if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
			return nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			waitDuration := time.Second
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.ParseFloat(retryAfter, 64); err == nil {
					waitDuration = time.Duration(seconds * float64(time.Second))
				}
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	return fmt.Errorf("webhook request failed after %d retries", maxRetries)
}

// formatNumber formats a number with commas (e.g., 47832 -> "47,832")
func formatNumber(n int) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	if n < 1000 {
		return strconv.Itoa(n)
	}

	s := strconv.Itoa(n)
	var result bytes.Buffer
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result.WriteByte(',')
		}
		result.WriteRune(c)
	}
	return result.String()
}

// formatDuration formats short run times, e.g. "850ms" or "2.4s"
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// truncate caps s at n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
