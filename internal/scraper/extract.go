package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"scanasha/internal/llm"
	"scanasha/internal/logging"
)

var (
	ErrDocumentationURLRequired = errors.New("Documentation URL is required")
	ErrInvalidURL               = errors.New("documentation URL must be an absolute http(s) URL")
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

const intelSystemPrompt = `You are an expert in analyzing DeFi protocol documentation.
Extract the following information from the provided documentation:
1. Contract name
2. Description of what the contract does
3. Codebase location (if available)
4. Smart contract address (if available)

Format the response as a JSON object with these exact keys:
{
  "name": "string",
  "description": "string",
  "codebase": "string",
  "address": "string"
}

If any information is not available, use null for that field.`

// DocumentIntel is what the model could extract. Unknown fields are nil.
type DocumentIntel struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Codebase    *string `json:"codebase"`
	Address     *string `json:"address"`
}

// PageFetcher is satisfied by *Fetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Extractor asks an LLM to pull contract intel out of documentation.
type Extractor struct {
	client  llm.Client
	fetcher PageFetcher
}

// NewExtractor creates an extractor. fetcher may be nil, in which case the
// model only sees the URL.
func NewExtractor(client llm.Client, fetcher PageFetcher) *Extractor {
	return &Extractor{client: client, fetcher: fetcher}
}

// ValidateURL accepts absolute http and https URLs.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return ErrDocumentationURLRequired
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidURL
	}
	return nil
}

// Analyze fetches documentationURL and extracts intel from it. A failed
// fetch degrades to a URL-only prompt.
func (e *Extractor) Analyze(ctx context.Context, documentationURL string) (DocumentIntel, error) {
	if err := ValidateURL(documentationURL); err != nil {
		return DocumentIntel{}, err
	}

	timer := logging.StartTimer(logging.CategoryScraper, "Analyze "+documentationURL)
	defer timer.Stop()

	user := fmt.Sprintf("Please analyze this documentation: %s", documentationURL)
	if e.fetcher != nil {
		page, err := e.fetcher.Fetch(ctx, documentationURL)
		if err != nil {
			logging.ScraperWarn("fetch %s failed, prompting with URL only: %v", documentationURL, err)
		} else if page.Text != "" {
			var sb strings.Builder
			sb.WriteString(user)
			if page.Title != "" {
				fmt.Fprintf(&sb, "\n\nPage title: %s", page.Title)
			}
			sb.WriteString("\n\nPage content:\n")
			sb.WriteString(page.Text)
			user = sb.String()
		}
	}

	out, err := e.client.CompleteJSON(ctx, intelSystemPrompt, user)
	if err != nil {
		return DocumentIntel{}, fmt.Errorf("extract intel: %w", err)
	}
	return ParseIntel(out)
}

// ParseIntel decodes the model answer and normalizes empty and "null" strings
// to nil. An address that is not 0x plus 40 hex digits is dropped.
func ParseIntel(content string) (DocumentIntel, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		content = "{}"
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return DocumentIntel{}, fmt.Errorf("parse intel: %w", err)
	}

	intel := DocumentIntel{
		Name:        stringField(raw["name"]),
		Description: stringField(raw["description"]),
		Codebase:    stringField(raw["codebase"]),
		Address:     stringField(raw["address"]),
	}
	if intel.Address != nil && !addressPattern.MatchString(*intel.Address) {
		logging.ScraperDebug("dropping malformed address %q", *intel.Address)
		intel.Address = nil
	}
	return intel, nil
}

func stringField(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") {
		return nil
	}
	return &s
}
