package royale

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const (
	// DefaultBaseURL is the public game API
	DefaultBaseURL = "https://api.clashroyale.com/v1"

	// DefaultKeyFile holds the bearer token when no key is passed explicitly
	DefaultKeyFile = "key.txt"

	defaultTimeout = 30 * time.Second

	// cheapest authenticated endpoint, used to check the key
	keyCheckPath = "/cards?limit=1"
)

// API key error types
var (
	ErrMissingAPIKey   = errors.New("api key missing")
	ErrAPIKeyExpired   = errors.New("api key expired (401)")
	ErrAPIKeyForbidden = errors.New("api key forbidden (403)")
)

// ClientError is the single error category surfaced by Client calls.
// Transport failures, non-2xx statuses and undecodable payloads all end up here.
type ClientError struct {
	Op         string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *ClientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// wrapHTTPError wraps an HTTP response status code as an appropriate error
func wrapHTTPError(statusCode int, message string) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", message, ErrAPIKeyExpired)
	case http.StatusForbidden:
		return fmt.Errorf("%s: %w", message, ErrAPIKeyForbidden)
	default:
		return errors.New(message)
	}
}

// Client talks to the game API on behalf of a single bearer token
type Client struct {
	apiKey     string
	keyFile    string
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithAPIKey sets the bearer token directly, skipping the key file
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithKeyFile sets the file the bearer token is read from
func WithKeyFile(path string) ClientOption {
	return func(c *Client) {
		c.keyFile = path
	}
}

// WithBaseURL sets a custom base URL (useful for testing)
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithTimeout sets a custom timeout for API requests
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new API client. The key is resolved here, so a missing
// or unreadable key fails construction rather than the first request.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		keyFile: DefaultKeyFile,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	if strings.TrimSpace(c.apiKey) == "" {
		key, err := LoadAPIKey(c.keyFile)
		if err != nil {
			return nil, err
		}
		c.apiKey = key
	}
	c.apiKey = strings.TrimSpace(c.apiKey)

	return c, nil
}

// LoadAPIKey reads a bearer token from a file, trimming trailing whitespace
func LoadAPIKey(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("no key file configured: %w", ErrMissingAPIKey)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read key file %s: %w: %w", path, ErrMissingAPIKey, err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("key file %s is empty: %w", path, ErrMissingAPIKey)
	}
	return key, nil
}

// NormalizeTag prefixes a player tag with '#' when it is missing
func NormalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}
	return tag
}

// playerPath builds an escaped /players/{tag}... path
func playerPath(tag string, suffix string) string {
	return "/players/" + url.PathEscape(NormalizeTag(tag)) + suffix
}

// doRequest makes an authenticated GET and decodes the JSON body into result
func (c *Client) doRequest(ctx context.Context, op, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &ClientError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ClientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var msg string
		switch resp.StatusCode {
		case http.StatusForbidden:
			msg = "API returned 403 Forbidden - check if your API key is valid for this IP"
		case http.StatusNotFound:
			msg = "API returned 404 Not Found - player may not exist"
		default:
			msg = fmt.Sprintf("API returned status %d", resp.StatusCode)
		}
		return &ClientError{Op: op, StatusCode: resp.StatusCode, Err: wrapHTTPError(resp.StatusCode, msg)}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return &ClientError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// GetBattleLog fetches the full recent battle log for a player
func (c *Client) GetBattleLog(ctx context.Context, tag string) ([]BattleLogEntry, error) {
	return c.battleLog(ctx, "battlelog", tag, func(string) bool { return true })
}

// GetPvPBattleLog fetches the recent battle log keeping only PvP battles.
// Other battle types are dropped before their payload is interpreted.
func (c *Client) GetPvPBattleLog(ctx context.Context, tag string) ([]BattleLogEntry, error) {
	return c.battleLog(ctx, "pvp battlelog", tag, func(t string) bool { return t == BattleTypePvP })
}

func (c *Client) battleLog(ctx context.Context, op, tag string, keep func(string) bool) ([]BattleLogEntry, error) {
	var raw []battleResponse
	if err := c.doRequest(ctx, op, playerPath(tag, "/battlelog"), &raw); err != nil {
		return nil, err
	}

	entries := make([]BattleLogEntry, 0, len(raw))
	for _, b := range raw {
		if !keep(b.Type) {
			continue
		}
		entry, err := b.toEntry()
		if err != nil {
			return nil, &ClientError{Op: op, StatusCode: http.StatusOK, Err: err}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ValidateKey makes a test request with the client's key.
// Returns:
//   - (true, nil) if the key is accepted
//   - (false, nil) if the key is rejected (401/403, including a key bound to another IP)
//   - (false, error) if the request failed some other way (key validity unknown)
func (c *Client) ValidateKey(ctx context.Context) (bool, error) {
	var sample cardsResponse
	err := c.doRequest(ctx, "key check", keyCheckPath, &sample)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrAPIKeyExpired), errors.Is(err, ErrAPIKeyForbidden):
		return false, nil
	default:
		return false, err
	}
}

// GetCards fetches the active card catalog as a map of card id to name
func (c *Client) GetCards(ctx context.Context) (map[int]string, error) {
	var cards cardsResponse
	if err := c.doRequest(ctx, "cards", "/cards", &cards); err != nil {
		return nil, err
	}

	catalog := make(map[int]string, len(cards.Items))
	for _, item := range cards.Items {
		catalog[item.ID] = item.Name
	}
	return catalog, nil
}

// GetPlayer fetches a player's profile
func (c *Client) GetPlayer(ctx context.Context, tag string) (*Player, error) {
	var player Player
	if err := c.doRequest(ctx, "player", playerPath(tag, ""), &player); err != nil {
		return nil, err
	}
	return &player, nil
}
