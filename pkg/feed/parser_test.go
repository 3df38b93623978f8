package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rssSample = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
	<title>Test Feed</title>
	<description>Feed for testing</description>
	<link>https://example.com</link>
	<item>
		<title>First Post</title>
		<link>https://example.com/1</link>
		<guid>guid-1</guid>
		<description>Summary one</description>
		<pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
	</item>
	<item>
		<title>Second Post</title>
		<link>https://example.com/2</link>
		<description><![CDATA[<p>Body two</p>]]></description>
	</item>
	<item>
		<title>No Link Post</title>
		<description>Summary three</description>
	</item>
</channel>
</rss>`

func feedServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.WriteHeader(status)
		w.Write([]byte(body)) //nolint:errcheck // test server
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParser_Fetch(t *testing.T) {
	srv := feedServer(t, rssSample, http.StatusOK)

	p := NewParser(5*time.Second, "feedview-test/1.0")
	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	parsed, err := p.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "Test Feed", parsed.Title)
	assert.Equal(t, "Feed for testing", parsed.Description)
	assert.Equal(t, "https://example.com", parsed.Link)
	require.Len(t, parsed.Items, 3)

	t.Run("explicit guid and dates", func(t *testing.T) {
		item := parsed.Items[0]
		assert.Equal(t, "guid-1", item.GUID)
		assert.Equal(t, "Summary one", item.Content)
		want := time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC).UnixMilli()
		assert.Equal(t, want, item.Created)
		assert.Equal(t, want, item.Updated, "missing updated falls back to published")
	})

	t.Run("link fallback guid and fetch-time dates", func(t *testing.T) {
		item := parsed.Items[1]
		assert.Equal(t, "https://example.com/2", item.GUID)
		assert.Equal(t, "<p>Body two</p>", item.Content)
		assert.Equal(t, fixed.UnixMilli(), item.Created, "undated item stamped with fetch time")
		assert.Equal(t, fixed.UnixMilli(), item.Updated)
	})

	t.Run("synthetic guid from titles", func(t *testing.T) {
		item := parsed.Items[2]
		assert.Equal(t, "Test Feed-No Link Post", item.GUID)
	})
}

func TestParser_FetchBadStatus(t *testing.T) {
	srv := feedServer(t, "not found", http.StatusNotFound)

	p := NewParser(5*time.Second, "feedview-test/1.0")
	_, err := p.Fetch(context.Background(), srv.URL)

	require.Error(t, err)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, srv.URL, fetchErr.URL)
	assert.Contains(t, err.Error(), "404")
}

func TestParser_FetchUnreachable(t *testing.T) {
	p := NewParser(time.Second, "feedview-test/1.0")
	_, err := p.Fetch(context.Background(), "http://127.0.0.1:1/rss")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
}

func TestParser_ParseErrorOnGarbage(t *testing.T) {
	srv := feedServer(t, "this is not xml at all {", http.StatusOK)

	p := NewParser(5*time.Second, "feedview-test/1.0")
	_, err := p.Fetch(context.Background(), srv.URL)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, srv.URL, parseErr.URL)
}

func TestParser_ParseErrorOnEmptyFeed(t *testing.T) {
	empty := `<?xml version="1.0"?><rss version="2.0"><channel></channel></rss>`
	srv := feedServer(t, empty, http.StatusOK)

	p := NewParser(5*time.Second, "feedview-test/1.0")
	_, err := p.Fetch(context.Background(), srv.URL)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, err.Error(), "no meta")
}

func TestParser_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	p := NewParser(10*time.Second, "feedview-test/1.0")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Fetch(ctx, srv.URL)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
}

func TestParser_SendsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(rssSample)) //nolint:errcheck // test server
	}))
	defer srv.Close()

	p := NewParser(5*time.Second, "feedview-test/1.0")
	_, err := p.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "feedview-test/1.0", gotUA)
}
