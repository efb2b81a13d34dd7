// Package tenor implements the reaction media search against the
// Tenor v2 API.
package tenor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shariffahes/ava-whatsbot/pkg/ava/bot"
)

const searchURL = "https://tenor.googleapis.com/v2/search"

// DefaultLimit caps the candidates returned per search.
const DefaultLimit = 8

// Config holds the Tenor credentials.
type Config struct {
	APIKey    string `yaml:"api_key"`
	ClientKey string `yaml:"client_key"`
	Limit     int    `yaml:"limit"`
}

// Client queries Tenor for reaction candidates. It implements
// bot.ReactionSearcher.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a Tenor client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.ClientKey == "" {
		cfg.ClientKey = "ava_whatsbot"
	}
	return &Client{
		cfg:        cfg,
		baseURL:    searchURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "tenor"),
	}
}

type searchResponse struct {
	Results []struct {
		ContentDescription string `json:"content_description"`
		Title              string `json:"title"`
		MediaFormats       map[string]struct {
			URL string `json:"url"`
		} `json:"media_formats"`
	} `json:"results"`
}

// Search returns up to the configured limit of candidates for a query.
// GIF searches resolve to looping mp4 clips, sticker searches to
// static webp.
func (c *Client) Search(ctx context.Context, query, kind string) ([]bot.ReactionCandidate, error) {
	format := "mp4"
	params := url.Values{
		"q":          {query},
		"key":        {c.cfg.APIKey},
		"client_key": {c.cfg.ClientKey},
		"limit":      {fmt.Sprint(c.cfg.Limit)},
		"random":     {"true"},
	}
	if kind == bot.ReactionSticker {
		format = "webp"
		params.Set("searchfilter", "sticker")
	}
	params.Set("media_filter", format)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tenor search: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading tenor response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tenor search: status %d", resp.StatusCode)
	}

	var decoded searchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decoding tenor response: %w", err)
	}

	candidates := make([]bot.ReactionCandidate, 0, len(decoded.Results))
	for _, result := range decoded.Results {
		mediaURL := result.MediaFormats[format].URL
		if mediaURL == "" {
			continue
		}
		description := result.ContentDescription
		if description == "" {
			description = result.Title
		}
		candidates = append(candidates, bot.ReactionCandidate{
			Description: description,
			MediaURL:    mediaURL,
			Index:       len(candidates),
		})
	}
	c.logger.Debug("tenor search complete", "query", query, "kind", kind, "candidates", len(candidates))
	return candidates, nil
}
