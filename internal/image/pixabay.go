package image

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	pixabayAPIURL  = "https://pixabay.com/api/"
	pixabayTimeout = 30 * time.Second
)

// PixabayClient implements Searcher for the Pixabay API
type PixabayClient struct {
	apiKey string
	client *resty.Client
}

// pixabayResponse represents the API response structure
type pixabayResponse struct {
	Total     int            `json:"total"`
	TotalHits int            `json:"totalHits"`
	Hits      []pixabayImage `json:"hits"`
}

// pixabayImage represents a single image in the response
type pixabayImage struct {
	ID              int    `json:"id"`
	PageURL         string `json:"pageURL"`
	Type            string `json:"type"`
	Tags            string `json:"tags"`
	PreviewURL      string `json:"previewURL"`
	WebformatURL    string `json:"webformatURL"`
	WebformatWidth  int    `json:"webformatWidth"`
	WebformatHeight int    `json:"webformatHeight"`
	LargeImageURL   string `json:"largeImageURL"`
	User            string `json:"user"`
}

// NewPixabayClient creates a new Pixabay API client
func NewPixabayClient(apiKey string) *PixabayClient {
	return &PixabayClient{
		apiKey: apiKey,
		client: resty.New().
			SetBaseURL(pixabayAPIURL).
			SetTimeout(pixabayTimeout),
	}
}

// newPixabayClientForURL is used by tests to point the client at a stub server.
func newPixabayClientForURL(apiKey, baseURL string) *PixabayClient {
	c := NewPixabayClient(apiKey)
	c.client.SetBaseURL(baseURL)
	return c
}

// Search performs an image search on Pixabay
func (p *PixabayClient) Search(ctx context.Context, opts *SearchOptions) ([]SearchResult, error) {
	var pixResp pixabayResponse

	req := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":        p.apiKey,
			"q":          opts.Query,
			"lang":       opts.Language,
			"image_type": opts.ImageType,
			"safesearch": fmt.Sprintf("%t", opts.SafeSearch),
			"per_page":   fmt.Sprintf("%d", opts.PerPage),
			"page":       fmt.Sprintf("%d", opts.Page),
		}).
		SetResult(&pixResp)
	if opts.Orientation != "" && opts.Orientation != "all" {
		req.SetQueryParam("orientation", opts.Orientation)
	}

	resp, err := req.Get("")
	if err != nil {
		return nil, fmt.Errorf("pixabay request failed: %w", err)
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		return nil, &RateLimitError{Provider: "pixabay", RetryAfter: 60}
	}
	if !resp.IsSuccess() {
		return nil, &SearchError{
			Provider: "pixabay",
			Code:     fmt.Sprintf("%d", resp.StatusCode()),
			Message:  resp.String(),
		}
	}

	results := make([]SearchResult, 0, len(pixResp.Hits))
	for _, hit := range pixResp.Hits {
		results = append(results, SearchResult{
			ID:           fmt.Sprintf("%d", hit.ID),
			URL:          hit.WebformatURL,
			ThumbnailURL: hit.PreviewURL,
			Width:        hit.WebformatWidth,
			Height:       hit.WebformatHeight,
			Description:  hit.Tags,
			Attribution:  fmt.Sprintf("Image by %s from Pixabay", hit.User),
			Source:       "pixabay",
		})
	}
	return results, nil
}

// Download downloads an image from the given URL
func (p *PixabayClient) Download(ctx context.Context, imageURL string) (io.ReadCloser, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(imageURL)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		resp.RawBody().Close()
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode())
	}
	return resp.RawBody(), nil
}

// GetAttribution returns the required attribution text for an image
func (p *PixabayClient) GetAttribution(result *SearchResult) string {
	return result.Attribution
}

// Name returns the name of the search provider
func (p *PixabayClient) Name() string {
	return "pixabay"
}
