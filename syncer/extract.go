package syncer

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/poiesic/feedsync/core"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".avif": true, ".svg": true, ".bmp": true,
}

// extractArticle normalizes one feed item. It fails when the item has no
// usable title or link; the caller skips such items.
func extractArticle(feedID core.ID, item *gofeed.Item) (*core.Article, error) {
	if item == nil {
		return nil, fmt.Errorf("%w: nil item", core.ErrInvalidArticle)
	}

	rawContent := item.Content
	if strings.TrimSpace(rawContent) == "" {
		rawContent = item.Description
	}
	content, text := sanitizeHTML(rawContent)

	article := &core.Article{
		FeedId:          feedID,
		GUID:            stableGUID(item, text),
		Title:           collapseSpace(item.Title),
		URL:             itemLink(item),
		Content:         content,
		Excerpt:         excerpt(text, ExcerptLength),
		ImageURL:        itemImage(item, rawContent),
		Author:          itemAuthor(item),
		PublishedAt:     publishedAt(item),
		EmbeddingStatus: core.EmbeddingPending,
	}
	if err := core.ValidateArticle(article); err != nil {
		return nil, err
	}
	return article, nil
}

// stableGUID picks guid, then link, then a content hash. gofeed maps the
// Atom id and JSON Feed id onto GUID.
func stableGUID(item *gofeed.Item, text string) string {
	if guid := strings.TrimSpace(item.GUID); guid != "" {
		return guid
	}
	if link := itemLink(item); link != "" {
		return link
	}
	return fmt.Sprintf("hash:%016x", uint64(core.IDFromContent(item.Title+"\n"+text)))
}

func itemLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	for _, link := range item.Links {
		if link = strings.TrimSpace(link); link != "" {
			return link
		}
	}
	return ""
}

func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	if item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
		return item.DublinCoreExt.Creator[0]
	}
	return ""
}

// publishedAt takes the first populated date field.
func publishedAt(item *gofeed.Item) *time.Time {
	candidates := []*time.Time{item.PublishedParsed, item.UpdatedParsed}
	for _, t := range candidates {
		if t != nil && !t.IsZero() {
			utc := t.UTC()
			return &utc
		}
	}
	if item.DublinCoreExt != nil {
		for _, raw := range item.DublinCoreExt.Date {
			if t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw)); err == nil {
				utc := t.UTC()
				return &utc
			}
		}
	}
	return nil
}

// itemImage returns the first valid image URL among enclosures, media
// extensions, the item image and embedded <img> tags.
func itemImage(item *gofeed.Item, rawContent string) string {
	for _, enc := range item.Enclosures {
		if enc == nil {
			continue
		}
		if strings.HasPrefix(enc.Type, "image/") && validURL(enc.URL) {
			return enc.URL
		}
		if enc.Type == "" && validImageURL(enc.URL) {
			return enc.URL
		}
	}
	if media, ok := item.Extensions["media"]; ok {
		for _, name := range []string{"content", "thumbnail"} {
			for _, ext := range media[name] {
				u := ext.Attrs["url"]
				medium := ext.Attrs["medium"]
				typ, _, _ := mime.ParseMediaType(ext.Attrs["type"])
				if (medium == "image" || strings.HasPrefix(typ, "image/") || name == "thumbnail") && validURL(u) {
					return u
				}
				if validImageURL(u) {
					return u
				}
			}
		}
	}
	if item.Image != nil && validURL(item.Image.URL) {
		return item.Image.URL
	}
	return firstImage(rawContent)
}

func validURL(raw string) bool {
	return raw != "" && core.ValidateURL(raw) == nil
}

// validImageURL accepts absolute http(s) URLs whose path has an image extension.
func validImageURL(raw string) bool {
	if !validURL(raw) {
		return false
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return imageExtensions[strings.ToLower(path.Ext(u.Path))]
}
