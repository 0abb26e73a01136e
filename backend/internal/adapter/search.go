package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	pkgerrors "ora-bot/backend/pkg/errors"
	"ora-bot/backend/pkg/logger"
)

const defaultSearchBaseURL = "https://html.duckduckgo.com/html/"

// SearchResult represents a single web search result.
type SearchResult struct {
	Title string
	URL   string
}

// SearchClient performs web searches against the DuckDuckGo HTML endpoint;
// free and keyless.
type SearchClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewSearchClient creates a search client. An empty baseURL selects the
// public DuckDuckGo endpoint.
func NewSearchClient(baseURL string) *SearchClient {
	if baseURL == "" {
		baseURL = defaultSearchBaseURL
	}
	return &SearchClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger.Get(),
	}
}

// Search returns up to limit results for the query.
func (c *SearchClient) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, pkgerrors.NewSearchFailed(query, fmt.Errorf("query is empty"))
	}
	if limit <= 0 {
		limit = 5
	}

	searchURL := fmt.Sprintf("%s?q=%s", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, pkgerrors.NewSearchFailed(query, err)
	}
	// The HTML endpoint rejects requests without a browser-ish UA.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.NewSearchFailed(query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, pkgerrors.NewSearchFailed(query, fmt.Errorf("search returned status %d", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, pkgerrors.NewSearchFailed(query, err)
	}

	var results []SearchResult
	doc.Find("a.result__a").EachWithBreak(func(i int, s *goquery.Selection) bool {
		title := strings.TrimSpace(s.Text())
		href, _ := s.Attr("href")
		link := resolveRedirect(href)
		if title == "" || link == "" {
			return true
		}
		results = append(results, SearchResult{Title: title, URL: link})
		return len(results) < limit
	})

	c.logger.Debug("Web search completed",
		zap.String("query", query),
		zap.Int("results", len(results)),
	)
	return results, nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg=... redirect links.
func resolveRedirect(href string) string {
	if href == "" {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
