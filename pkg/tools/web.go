// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/dispatch"
)

// fetchTimeout bounds outbound page fetches.
const fetchTimeout = 8 * time.Second

const (
	fetchUserAgent = "Mozilla/5.0"
	rawBodyCap     = 8000
	textBodyCap    = 6000
	snippetCap     = 200
	fetchBodyCap   = 4 << 20
)

// HTTPGetTool fetches a URL and reduces it to readable text. PDF
// responses go through text extraction; everything else is treated
// as HTML unless raw is requested.
type HTTPGetTool struct {
	client *http.Client
	logger *zap.Logger
}

func NewHTTPGetTool(opts Options) dispatch.Tool {
	opts.fill()
	return &HTTPGetTool{client: opts.Client, logger: opts.Logger}
}

func (t *HTTPGetTool) Name() string        { return dispatch.ActionHTTPGet }
func (t *HTTPGetTool) Description() string { return dispatch.Describe(dispatch.ActionHTTPGet) }
func (t *HTTPGetTool) Backend() string     { return dispatch.BackendLocal }

func (t *HTTPGetTool) SideEffects() []string { return []string{"network_io"} }

func (t *HTTPGetTool) InputSchema() *dispatch.JSONSchema {
	return dispatch.NewObjectSchema("fetch a URL and extract readable text", map[string]*dispatch.JSONSchema{
		"url": dispatch.NewStringSchema("URL to fetch"),
		"raw": dispatch.NewBooleanSchema("return the raw body without text extraction").WithDefault(false),
	}, []string{"url"})
}

func (t *HTTPGetTool) Execute(ctx context.Context, inputs map[string]interface{}) (*dispatch.Result, error) {
	target := strInput(inputs, "url", "")
	if target == "" {
		return dispatch.Failed(dispatch.NewError(dispatch.ActionHTTPGet, dispatch.KindInvalidInput, "no url provided")), nil
	}
	raw := boolInput(inputs, "raw", false)

	body, contentType, err := fetchURL(ctx, t.client, target)
	if err != nil {
		return dispatch.Failed(dispatch.NewError(dispatch.ActionHTTPGet, dispatch.KindToolError,
			fmt.Sprintf("request failed: %v", err))), nil
	}

	if !raw && isPDF(target, contentType) {
		text, perr := pdfText(body)
		if perr != nil {
			return dispatch.Failed(dispatch.NewError(dispatch.ActionHTTPGet, dispatch.KindParseError,
				fmt.Sprintf("pdf extraction failed: %v", perr))), nil
		}
		if text == "" {
			return dispatch.OK("(no text content)"), nil
		}
		return dispatch.OK(truncRunes(text, textBodyCap)), nil
	}

	page := string(body)
	if raw || strings.TrimSpace(page) == "" {
		return dispatch.OK(truncRunes(page, rawBodyCap)), nil
	}
	text := extractText(page)
	if text == "" {
		return dispatch.OK("(no text content)"), nil
	}
	return dispatch.OK(truncRunes(text, textBodyCap)), nil
}

func fetchURL(ctx context.Context, client *http.Client, target string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyCap))
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func isPDF(target, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "application/pdf") {
		return true
	}
	u, err := url.Parse(target)
	return err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}

// pdfText extracts plain text from an in-memory PDF, skipping pages
// that fail individually.
func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, terr := page.GetPlainText(nil)
		if terr != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}

// Subtrees that carry no readable content.
var skipTags = map[string]bool{
	"script": true, "style": true, "nav": true, "footer": true,
	"header": true, "aside": true, "iframe": true, "noscript": true,
}

// extractText strips markup, dropping navigation and script subtrees
// and collapsing blank lines.
func extractText(htmlSrc string) string {
	doc, err := html.Parse(strings.NewReader(htmlSrc))
	if err != nil {
		return ""
	}
	var lines []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				lines = append(lines, text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(lines, "\n")
}

const (
	braveSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"
	noResultsMessage    = "검색 결과를 가져오지 못했어. 다른 키워드로 시도해볼래?"
)

// WebSearchTool queries a search provider when an API key is
// configured and falls back to scraping the configured HTML search
// page otherwise.
type WebSearchTool struct {
	client    *http.Client
	apiKey    string
	endpoint  string
	searchURL string
	logger    *zap.Logger
}

func NewWebSearchTool(opts Options) dispatch.Tool {
	opts.fill()
	return &WebSearchTool{
		client:    opts.Client,
		apiKey:    config.GetString(config.EnvWebSearchAPIKey, ""),
		endpoint:  braveSearchEndpoint,
		searchURL: config.GetString(config.EnvSearchURL, config.DefaultSearchURL),
		logger:    opts.Logger,
	}
}

func (t *WebSearchTool) Name() string        { return dispatch.ActionWebSearch }
func (t *WebSearchTool) Description() string { return dispatch.Describe(dispatch.ActionWebSearch) }
func (t *WebSearchTool) Backend() string     { return dispatch.BackendLocal }

func (t *WebSearchTool) SideEffects() []string { return []string{"network_io"} }

func (t *WebSearchTool) InputSchema() *dispatch.JSONSchema {
	min, max := 1.0, 10.0
	return dispatch.NewObjectSchema("search the web", map[string]*dispatch.JSONSchema{
		"query":       dispatch.NewStringSchema("search query"),
		"max_results": dispatch.NewNumberSchema("result cap").WithDefault(5).WithRange(&min, &max),
	}, []string{"query"})
}

func (t *WebSearchTool) Execute(ctx context.Context, inputs map[string]interface{}) (*dispatch.Result, error) {
	query := strInput(inputs, "query", "")
	if query == "" {
		return dispatch.Failed(dispatch.NewError(dispatch.ActionWebSearch, dispatch.KindInvalidInput, "no query provided")), nil
	}
	maxResults := intInput(inputs, "max_results", 5)
	if maxResults < 1 {
		maxResults = 5
	}
	if maxResults > 10 {
		maxResults = 10
	}

	if t.apiKey != "" {
		out, err := t.providerSearch(ctx, query, maxResults)
		if err != nil {
			t.logger.Warn("provider search failed, trying scrape fallback", zap.Error(err))
		} else if out != "" {
			return dispatch.OK(out), nil
		}
	}
	out, err := t.scrapeSearch(ctx, query, maxResults)
	if err != nil {
		t.logger.Warn("scrape search failed", zap.Error(err))
	} else if out != "" {
		return dispatch.OK(out), nil
	}
	return dispatch.OK(noResultsMessage), nil
}

func (t *WebSearchTool) providerSearch(ctx context.Context, query string, maxResults int) (string, error) {
	endpoint := t.endpoint + "?q=" + url.QueryEscape(query) + "&count=" + strconv.Itoa(maxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)
	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search provider returned %s", resp.Status)
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}

	var results []string
	for i, r := range parsed.Web.Results {
		if i >= maxResults {
			break
		}
		results = append(results, fmt.Sprintf("%d. %s\n   %s\n   %s",
			i+1, r.Title, truncRunes(r.Description, snippetCap), r.URL))
	}
	return strings.Join(results, "\n\n"), nil
}

var (
	searchResultRe = regexp.MustCompile(`(?s)class="result__a"[^>]*href="([^"]*)"[^>]*>(.*?)</a>.*?class="result__snippet"[^>]*>(.*?)</(?:td|div)`)
	htmlTagRe      = regexp.MustCompile(`<[^>]+>`)
)

// scrapeSearch pulls results straight off the configured HTML search
// page. DuckDuckGo's html endpoint wraps redirects in a uddg= param.
func (t *WebSearchTool) scrapeSearch(ctx context.Context, query string, maxResults int) (string, error) {
	target := strings.ReplaceAll(t.searchURL, "{query}", url.QueryEscape(query))
	body, _, err := fetchURL(ctx, t.client, target)
	if err != nil {
		return "", err
	}

	var results []string
	for _, m := range searchResultRe.FindAllStringSubmatch(string(body), -1) {
		href := m[1]
		title := strings.TrimSpace(htmlTagRe.ReplaceAllString(m[2], ""))
		snippet := strings.TrimSpace(htmlTagRe.ReplaceAllString(m[3], ""))
		if strings.Contains(href, "uddg=") {
			parts := strings.Split(href, "uddg=")
			enc := strings.Split(parts[len(parts)-1], "&")[0]
			if dec, derr := url.QueryUnescape(enc); derr == nil {
				href = dec
			}
		}
		results = append(results, fmt.Sprintf("%d. %s\n   %s\n   %s", len(results)+1, title, snippet, href))
		if len(results) >= maxResults {
			break
		}
	}
	return strings.Join(results, "\n\n"), nil
}
