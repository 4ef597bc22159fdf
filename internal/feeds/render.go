package feeds

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/spa1teN/tausendsassa/internal/chat"
	"github.com/spa1teN/tausendsassa/internal/models"
)

// publishedLayout is the guild-local display format for {published_custom}.
const publishedLayout = "02.01.2006 15:04"

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

// stripHTML removes markup from summaries before they land in an embed body.
func stripHTML(s string) string {
	return htmlTagRe.ReplaceAllString(s, "")
}

// defaultTemplate is used for feeds without a configured embed template.
func defaultTemplate() map[string]any {
	return map[string]any{
		"title":       "{title}",
		"description": "{summary}",
		"url":         "{link}",
		"image":       map[string]any{"url": "{thumbnail}"},
	}
}

// blueskyTemplate is the specialized rendering for Bluesky profile feeds.
func blueskyTemplate() map[string]any {
	return map[string]any{
		"title":       "{author} just posted on Bluesky",
		"description": "{summary}",
		"url":         "{link}",
		"image":       map[string]any{"url": "{thumbnail}"},
	}
}

// isBlueskyFeed reports whether the feed URL points at a Bluesky profile.
func isBlueskyFeed(url string) bool {
	return strings.Contains(url, "bsky.app/profile")
}

// placeholderData builds the lookup map the template formatter resolves
// against: every entry field plus the reserved link, thumbnail, and
// published_custom keys.
func placeholderData(entry Entry, loc *time.Location) map[string]string {
	published := entry.Published
	if published.IsZero() {
		published = time.Now().UTC()
	}

	return map[string]string{
		"guid":             entry.GUID,
		"title":            entry.Title,
		"summary":          stripHTML(entry.Summary),
		"description":      stripHTML(entry.Description),
		"link":             entry.Link,
		"author":           entry.Author,
		"content":          stripHTML(strings.Join(entry.Content, "\n")),
		"thumbnail":        entry.Thumbnail,
		"published_custom": published.In(loc).Format(publishedLayout),
	}
}

// RenderTemplate walks the template tree and formats every string leaf with a
// safe map lookup: unknown placeholders resolve to "" and never error.
// Numbers, booleans, and nested maps/lists keep their shape.
func RenderTemplate(tpl map[string]any, data map[string]string) map[string]any {
	rendered, _ := renderValue(tpl, data).(map[string]any)
	return rendered
}

func renderValue(v any, data map[string]string) any {
	switch t := v.(type) {
	case string:
		return placeholderRe.ReplaceAllStringFunc(t, func(m string) string {
			name := m[1 : len(m)-1]
			return data[name]
		})
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = renderValue(child, data)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, child := range t {
			out = append(out, renderValue(child, data))
		}
		return out
	default:
		return v
	}
}

// cleanTree drops empty string leaves, empty maps, and empty lists so a
// template with unresolved placeholders produces a minimal embed.
func cleanTree(v any) any {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			if cleaned := cleanTree(child); cleaned != nil {
				out[k] = cleaned
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, child := range t {
			if cleaned := cleanTree(child); cleaned != nil {
				out = append(out, cleaned)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return v
	}
}

// RenderEmbed renders the feed's embed template against one entry. The
// description falls back to the stripped summary and the image to the
// discovered thumbnail; the embed timestamp is the entry's published time.
func RenderEmbed(feed models.Feed, entry Entry, loc *time.Location) chat.Embed {
	tpl := feed.EmbedTemplate
	if isBlueskyFeed(feed.FeedURL) {
		tpl = blueskyTemplate()
	} else if len(tpl) == 0 {
		tpl = defaultTemplate()
	}

	data := placeholderData(entry, loc)
	tree := RenderTemplate(tpl, data)
	cleaned, _ := cleanTree(tree).(map[string]any)
	if cleaned == nil {
		cleaned = map[string]any{}
	}

	embed := embedFromTree(cleaned)

	if strings.TrimSpace(embed.Description) == "" {
		embed.Description = stripHTML(entry.Summary)
	} else {
		embed.Description = stripHTML(embed.Description)
	}
	if (embed.Image == nil || embed.Image.URL == "") && entry.Thumbnail != "" {
		embed.Image = &chat.EmbedMedia{URL: entry.Thumbnail}
	}
	if feed.Color != nil && embed.Color == 0 {
		embed.Color = *feed.Color
	}

	published := entry.Published
	if published.IsZero() {
		published = time.Now().UTC()
	}
	ts := published.UTC()
	embed.Timestamp = &ts

	return embed
}

// embedFromTree converts a rendered template tree into the embed structure by
// round-tripping through JSON: the template shape mirrors the wire shape.
func embedFromTree(tree map[string]any) chat.Embed {
	var embed chat.Embed
	raw, err := json.Marshal(tree)
	if err != nil {
		return embed
	}
	json.Unmarshal(raw, &embed)
	return embed
}
