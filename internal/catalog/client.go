// Package catalog is an HTTP client for the manga catalog API and its
// content-delivery network, modeled after the original MangaDexPy client
// used by AddMangaChapters and DownloadChapter.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const userAgent = "mangadexzip-go/worker"

var (
	ErrMangaNotFound   = errors.New("catalog: manga not found")
	ErrChapterNotFound = errors.New("catalog: chapter not found")
	ErrNoChapters      = errors.New("catalog: no chapters returned")
	ErrAPI             = errors.New("catalog: api error")
)

// Client talks to the catalog's metadata API and the per-chapter CDN it hands out.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a Client with the connection-pooling transport used throughout
// the worker's outbound HTTP calls.
func New(baseURL string) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: transport},
	}
}

// Manga is catalog metadata for a title.
type Manga struct {
	ID string `json:"id"`
}

// Chapter is catalog metadata for a single chapter.
type Chapter struct {
	ID      string   `json:"id"`
	Volume  string   `json:"volume"`
	Chapter string   `json:"chapter"`
	Title   string   `json:"title"`
	Groups  []string `json:"groups"`
}

// ChapterFilter mirrors the query parameters sent when listing a manga's chapters.
type ChapterFilter struct {
	ContentRatings   []string
	TranslatedLang   string
	IncludeEmpty     bool
	IncludeFuture    bool
	IncludeExternal  bool
}

func DefaultChapterFilter(language string) ChapterFilter {
	return ChapterFilter{
		ContentRatings: []string{"safe", "suggestive", "erotica", "pornographic"},
		TranslatedLang: language,
	}
}

// GetManga fetches metadata for a manga id.
func (c *Client) GetManga(ctx context.Context, id string) (*Manga, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var m Manga
	if err := c.get(ctx, fmt.Sprintf("/manga/%s", id), &m); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, ErrMangaNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrAPI, err)
	}
	return &m, nil
}

// GetChapters lists a manga's chapters under the given filter.
func (c *Client) GetChapters(ctx context.Context, mangaID string, f ChapterFilter) ([]Chapter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	q := make(map[string]string)
	q["translatedLanguage"] = f.TranslatedLang
	q["contentRating"] = strings.Join(f.ContentRatings, ",")
	q["includeEmptyPages"] = boolParam(f.IncludeEmpty)
	q["includeFuturePublishAt"] = boolParam(f.IncludeFuture)
	q["includeExternalUrl"] = boolParam(f.IncludeExternal)

	var chapters []Chapter
	if err := c.getQuery(ctx, fmt.Sprintf("/manga/%s/chapters", mangaID), q, &chapters); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, ErrNoChapters
		}
		return nil, fmt.Errorf("%w: %v", ErrAPI, err)
	}
	if len(chapters) == 0 {
		return nil, ErrNoChapters
	}
	return chapters, nil
}

// GetChapter fetches metadata for a single chapter, used when DownloadChapter
// is given a bare chapter id rather than prefetched data.
func (c *Client) GetChapter(ctx context.Context, id string) (*Chapter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var ch Chapter
	if err := c.get(ctx, fmt.Sprintf("/chapter/%s", id), &ch); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, ErrChapterNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrAPI, err)
	}
	return &ch, nil
}

// Network is the page list and reporter handed out by the CDN-assignment endpoint.
type Network struct {
	client   *Client
	Pages    []string
	Redux    []string
	reportURL string
}

// GetNetwork requests a fresh CDN assignment for a chapter.
func (c *Client) GetNetwork(ctx context.Context, chapterID string) (*Network, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var resp struct {
		BaseURL string   `json:"baseUrl"`
		Pages   []string `json:"pages"`
		Redux   []string `json:"pagesRedux"`
	}
	if err := c.get(ctx, fmt.Sprintf("/chapter/%s/network", chapterID), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPI, err)
	}

	n := &Network{client: c, reportURL: resp.BaseURL + "/report"}
	for _, p := range resp.Pages {
		n.Pages = append(n.Pages, resp.BaseURL+p)
	}
	for _, p := range resp.Redux {
		n.Redux = append(n.Redux, resp.BaseURL+p)
	}
	return n, nil
}

// FetchPage downloads one page with the 5-second CDN timeout, returning the
// body bytes, whether the response indicated success, whether the CDN served
// it from cache, and the elapsed time.
func (c *Client) FetchPage(ctx context.Context, url string) (body []byte, success, cached bool, elapsed time.Duration, err error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, false, 0, err
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, false, 0, err
	}
	defer resp.Body.Close()

	buf, readErr := io.ReadAll(resp.Body)
	elapsed = time.Since(start)
	if readErr != nil {
		return nil, false, false, elapsed, readErr
	}

	success = resp.StatusCode < 400
	cached = resp.Header.Get("x-cache") == "HIT"
	return buf, success, cached, elapsed, nil
}

// Report tells the CDN how a page fetch went. Errors are swallowed by callers,
// matching the original client's best-effort reporting.
func (n *Network) Report(ctx context.Context, url string, success, cached bool, bytes int, elapsedMS int64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	payload, _ := json.Marshal(map[string]any{
		"url":      url,
		"success":  success,
		"cached":   cached,
		"bytes":    bytes,
		"duration": elapsedMS,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.reportURL, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := n.client.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: report status %d", ErrAPI, resp.StatusCode)
	}
	return nil
}

var errNotFound = errors.New("not found")

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.getQuery(ctx, path, nil, out)
}

func (c *Client) getQuery(ctx context.Context, path string, query map[string]string, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		vals := make(url.Values, len(query))
		for k, v := range query {
			vals.Set(k, v)
		}
		u += "?" + vals.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func boolParam(b bool) string {
	return strconv.FormatBool(b)
}
