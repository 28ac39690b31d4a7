package syncer

import (
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeHTML(t *testing.T) {
	raw := `<div onclick="steal()"><p style="color:red">Hello <b>world</b></p>` +
		`<script>evil()</script><style>p{}</style><iframe src="x"></iframe>` +
		`<form><input name="q"></form><a href="javascript:void(0)">link</a></div>`

	html, text := sanitizeHTML(raw)
	for _, banned := range []string{"script", "style", "iframe", "form", "input", "onclick", "javascript:"} {
		assert.NotContains(t, html, banned)
	}
	assert.Contains(t, html, "<b>world</b>")
	assert.True(t, strings.HasPrefix(text, "Hello world"), text)
	assert.NotContains(t, text, "evil")
}

func TestSanitizeHTML_Empty(t *testing.T) {
	html, text := sanitizeHTML("   ")
	assert.Empty(t, html)
	assert.Empty(t, text)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short text", excerpt("short text", 300))

	long := strings.Repeat("word ", 100)
	got := excerpt(long, 300)
	assert.True(t, strings.HasSuffix(got, "word..."), got)
	assert.LessOrEqual(t, len([]rune(got)), 303)
}

func TestStableGUID(t *testing.T) {
	assert.Equal(t, "g-1", stableGUID(&gofeed.Item{GUID: " g-1 ", Link: "https://x.example/a"}, ""))
	assert.Equal(t, "https://x.example/a", stableGUID(&gofeed.Item{Link: "https://x.example/a"}, ""))
	assert.Equal(t, "https://x.example/b", stableGUID(&gofeed.Item{Links: []string{"", "https://x.example/b"}}, ""))

	hashed := stableGUID(&gofeed.Item{Title: "Same"}, "body")
	assert.True(t, strings.HasPrefix(hashed, "hash:"))
	assert.Equal(t, hashed, stableGUID(&gofeed.Item{Title: "Same"}, "body"), "content hash is deterministic")
	assert.NotEqual(t, hashed, stableGUID(&gofeed.Item{Title: "Other"}, "body"))
}

func TestPublishedAt(t *testing.T) {
	pub := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	upd := pub.Add(time.Hour)

	got := publishedAt(&gofeed.Item{PublishedParsed: &pub, UpdatedParsed: &upd})
	require.NotNil(t, got)
	assert.True(t, got.Equal(pub))
	assert.Equal(t, time.UTC, got.Location())

	got = publishedAt(&gofeed.Item{UpdatedParsed: &upd})
	require.NotNil(t, got)
	assert.True(t, got.Equal(upd))

	got = publishedAt(&gofeed.Item{DublinCoreExt: &ext.DublinCoreExtension{Date: []string{"2024-06-01T00:00:00Z"}}})
	require.NotNil(t, got)
	assert.Equal(t, 2024, got.Year())

	assert.Nil(t, publishedAt(&gofeed.Item{}))
}

func TestItemImage(t *testing.T) {
	tests := []struct {
		name string
		item *gofeed.Item
		html string
		want string
	}{
		{
			name: "image enclosure",
			item: &gofeed.Item{Enclosures: []*gofeed.Enclosure{
				{URL: "https://x.example/a.mp3", Type: "audio/mpeg"},
				{URL: "https://x.example/a.jpg", Type: "image/jpeg"},
			}},
			want: "https://x.example/a.jpg",
		},
		{
			name: "untyped enclosure with image extension",
			item: &gofeed.Item{Enclosures: []*gofeed.Enclosure{{URL: "https://x.example/p.webp"}}},
			want: "https://x.example/p.webp",
		},
		{
			name: "media content",
			item: &gofeed.Item{Extensions: ext.Extensions{"media": {"content": []ext.Extension{
				{Name: "content", Attrs: map[string]string{"url": "https://x.example/m", "medium": "image"}},
			}}}},
			want: "https://x.example/m",
		},
		{
			name: "item image",
			item: &gofeed.Item{Image: &gofeed.Image{URL: "https://x.example/i.png"}},
			want: "https://x.example/i.png",
		},
		{
			name: "embedded img",
			item: &gofeed.Item{},
			html: `<p>x</p><img src="data:image/png;base64,AAA"><img src="https://x.example/e.gif">`,
			want: "https://x.example/e.gif",
		},
		{
			name: "nothing",
			item: &gofeed.Item{Enclosures: []*gofeed.Enclosure{{URL: "not a url", Type: "image/png"}}},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, itemImage(tt.item, tt.html))
		})
	}
}

func TestExtractArticle_RequiresTitleAndLink(t *testing.T) {
	_, err := extractArticle(1, &gofeed.Item{Title: "ok", Link: "https://x.example/a"})
	assert.Error(t, err, "two-rune title is too short")

	_, err = extractArticle(1, &gofeed.Item{Title: "A real title", Link: "mailto:someone"})
	assert.Error(t, err)

	a, err := extractArticle(1, &gofeed.Item{
		Title:       "  A   real title ",
		Link:        "https://x.example/a",
		Description: "<p>Body</p>",
		Author:      &gofeed.Person{Name: "Jo"},
	})
	require.NoError(t, err)
	assert.Equal(t, "A real title", a.Title)
	assert.Equal(t, "https://x.example/a", a.GUID)
	assert.Equal(t, "Body", a.Excerpt)
	assert.Equal(t, "Jo", a.Author)
}

func TestCheckContent(t *testing.T) {
	v := NewValidator(nil, "")

	report := v.CheckContent([]byte("<rss/>"), "application/rss+xml")
	assert.False(t, report.Valid)
	assert.ErrorIs(t, report.Err, ErrFeedTooSmall)

	report = v.CheckContent([]byte(rssFixture), "application/rss+xml")
	assert.True(t, report.Valid)
	assert.Equal(t, "rss", report.FeedType)

	atom := `<?xml version="1.0" encoding="utf-8"?><feed xmlns="http://www.w3.org/2005/Atom"><title>A</title>` +
		`<entry><title>Entry one</title><id>urn:1</id></entry></feed>`
	report = v.CheckContent([]byte(atom), "application/atom+xml")
	assert.True(t, report.Valid)
	assert.Equal(t, "atom", report.FeedType)

	plain := strings.Repeat("plain text that is not a feed ", 10)
	report = v.CheckContent([]byte(plain), "text/plain")
	assert.ErrorIs(t, report.Err, ErrNotAFeed)
}
