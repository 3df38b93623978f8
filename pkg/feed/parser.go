package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/feedview/feedview/pkg/domain"
)

// feedAccept prefers feed content types but tolerates servers that mislabel
const feedAccept = "application/rss+xml,application/atom+xml,application/xml;q=0.9,text/xml;q=0.8,text/html;q=0.7,*/*;q=0.5"

// some feed hosts serve bot-looking clients differently; a plausible and
// slightly varied Accept-Language keeps them honest
var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9",
	"en-US,en;q=0.9,es;q=0.8",
	"en-US,en;q=0.9,de;q=0.8",
}

// Parser fetches and parses RSS/Atom feeds
type Parser struct {
	client    *http.Client
	userAgent string
	now       func() time.Time
}

// NewParser creates a new feed parser with a bounded request timeout
func NewParser(timeout time.Duration, userAgent string) *Parser {
	return &Parser{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: userAgent,
		now:       time.Now,
	}
}

// Fetch retrieves a feed document from the given URL and parses it into a
// normalized item list plus feed-level metadata. Failures are reported as
// *FetchError (network/timeout/bad status) or *ParseError (malformed feed,
// or a parse that completes without metadata).
func (p *Parser) Fetch(ctx context.Context, url string) (*domain.ParsedFeed, error) {
	body, err := p.fetch(ctx, url)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer body.Close()

	parser := gofeed.NewParser()
	parsed, err := parser.Parse(body)
	if err != nil {
		return nil, &ParseError{URL: url, Err: err}
	}

	// a document that parses but carries no feed-level metadata is still a
	// failure, same as a parser that never emitted meta
	if parsed.Title == "" && parsed.Description == "" && parsed.Link == "" && len(parsed.Items) == 0 {
		return nil, &ParseError{URL: url, Err: errors.New("no meta")}
	}

	result := &domain.ParsedFeed{
		Title:       parsed.Title,
		Description: parsed.Description,
		Link:        parsed.Link,
		Items:       make([]domain.ParsedItem, 0, len(parsed.Items)),
	}

	now := p.now().UnixMilli()
	for _, item := range parsed.Items {
		parsedItem := domain.ParsedItem{
			Title:   item.Title,
			Link:    item.Link,
			Content: item.Content,
		}

		// feeds commonly carry the body in description only
		if parsedItem.Content == "" {
			parsedItem.Content = item.Description
		}

		// set GUID with link fallback
		switch {
		case item.GUID != "":
			parsedItem.GUID = item.GUID
		case item.Link != "":
			parsedItem.GUID = item.Link
		default:
			parsedItem.GUID = fmt.Sprintf("%s-%s", parsed.Title, item.Title)
		}

		// created_at tracks the publish date, updated_at the last change;
		// either falls back to the other, both fall back to fetch time
		published, updated := item.PublishedParsed, item.UpdatedParsed
		if published == nil {
			published = updated
		}
		if updated == nil {
			updated = published
		}
		if published != nil {
			parsedItem.Created = published.UnixMilli()
			parsedItem.Updated = updated.UnixMilli()
		} else {
			parsedItem.Created = now
			parsedItem.Updated = now
		}

		result.Items = append(result.Items, parsedItem)
	}

	return result, nil
}

// fetch retrieves content from a URL
func (p *Parser) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", feedAccept)
	req.Header.Set("Accept-Language", acceptLanguages[rand.Intn(len(acceptLanguages))]) //nolint:gosec // header variation only
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch URL: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return resp.Body, nil
}
