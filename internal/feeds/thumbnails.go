package feeds

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

var (
	imgTagRe     = regexp.MustCompile(`(?i)<img[^>]+src=['"]([^'"]+)['"]`)
	ogImageRe    = regexp.MustCompile(`(?i)<meta[^>]+property=['"]og:image['"][^>]+content=['"]([^'"]+)['"]`)
	ogImageAltRe = regexp.MustCompile(`(?i)<meta[^>]+content=['"]([^'"]+)['"][^>]+property=['"]og:image['"]`)
)

// findThumbnail resolves a thumbnail for the entry. Search order: media
// extensions, enclosures, typed links, inline images in content and summary,
// Bluesky post expansion, and finally the link's OpenGraph image. Network
// lookups go through the shared pool; any failure just yields no thumbnail.
func (e *Engine) findThumbnail(ctx context.Context, entry Entry) string {
	if entry.Thumbnail != "" {
		return entry.Thumbnail
	}
	item := entry.raw
	if item == nil {
		return ""
	}

	// media:thumbnail, then media:content.
	if media, ok := item.Extensions["media"]; ok {
		for _, key := range []string{"thumbnail", "content"} {
			for _, ext := range media[key] {
				if u := ext.Attrs["url"]; u != "" {
					return u
				}
			}
		}
	}

	// Enclosures with an image type.
	for _, enc := range item.Enclosures {
		if enc == nil {
			continue
		}
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}

	// Image element on the item itself (link rel=image in Atom).
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}

	// Inline <img> in content, then summary.
	for _, html := range append(append([]string{}, entry.Content...), entry.Summary) {
		if m := imgTagRe.FindStringSubmatch(html); m != nil {
			return absoluteURL(m[1], entry.Link)
		}
	}

	// Bluesky post links expand to their embedded images.
	if strings.Contains(entry.Link, "bsky.app/profile") {
		if images, err := e.blueskyImages(ctx, entry.Link); err == nil && len(images) > 0 {
			return images[0]
		} else if err != nil {
			e.logger.Debug("bluesky image lookup failed",
				slog.String("link", entry.Link),
				slog.String("error", err.Error()),
			)
		}
	}

	// OpenGraph image of the linked page.
	if entry.Link != "" {
		if og := e.openGraphImage(ctx, entry.Link); og != "" {
			return og
		}
	}

	return ""
}

// openGraphImage fetches the linked page and extracts the og:image meta tag.
func (e *Engine) openGraphImage(ctx context.Context, link string) string {
	body, err := e.fetcher.Get(ctx, link)
	if err != nil {
		e.logger.Debug("opengraph fetch failed",
			slog.String("link", link),
			slog.String("error", err.Error()),
		)
		return ""
	}

	html := string(body)
	m := ogImageRe.FindStringSubmatch(html)
	if m == nil {
		m = ogImageAltRe.FindStringSubmatch(html)
	}
	if m == nil {
		return ""
	}
	return absoluteURL(m[1], link)
}

// absoluteURL resolves protocol-relative and path-relative image URLs against
// the page they were found on.
func absoluteURL(img, page string) string {
	if img == "" {
		return ""
	}
	if strings.HasPrefix(img, "//") {
		return "https:" + img
	}
	if strings.HasPrefix(img, "http://") || strings.HasPrefix(img, "https://") {
		return img
	}

	base, err := url.Parse(page)
	if err != nil {
		return img
	}
	ref, err := url.Parse(img)
	if err != nil {
		return img
	}
	return base.ResolveReference(ref).String()
}
