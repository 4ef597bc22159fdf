package feeds

import (
	"testing"
	"time"

	"github.com/spa1teN/tausendsassa/internal/models"
)

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatal(err)
	}
	return loc
}

func TestRenderTemplate_UnknownPlaceholdersResolveEmpty(t *testing.T) {
	tpl := map[string]any{
		"title":       "{title}",
		"description": "{nonexistent} tail",
	}
	out := RenderTemplate(tpl, map[string]string{"title": "Hello"})

	if out["title"] != "Hello" {
		t.Errorf("title = %v", out["title"])
	}
	if out["description"] != " tail" {
		t.Errorf("description = %v, want unknown placeholder replaced by empty string", out["description"])
	}
}

func TestRenderTemplate_NestedTreeAndNonStrings(t *testing.T) {
	tpl := map[string]any{
		"title": "{title}",
		"color": float64(5814783),
		"image": map[string]any{"url": "{thumbnail}"},
		"fields": []any{
			map[string]any{"name": "Link", "value": "{link}", "inline": true},
		},
	}
	out := RenderTemplate(tpl, map[string]string{
		"title": "T", "thumbnail": "https://img", "link": "https://x",
	})

	if out["color"] != float64(5814783) {
		t.Errorf("numbers must pass through untouched, got %v", out["color"])
	}
	img := out["image"].(map[string]any)
	if img["url"] != "https://img" {
		t.Errorf("nested map leaf = %v", img["url"])
	}
	field := out["fields"].([]any)[0].(map[string]any)
	if field["value"] != "https://x" {
		t.Errorf("list leaf = %v", field["value"])
	}
	if field["inline"] != true {
		t.Errorf("booleans must pass through, got %v", field["inline"])
	}
}

func TestRenderEmbed_DescriptionAndImageFallbacks(t *testing.T) {
	feed := models.Feed{FeedURL: "https://example.com/rss"}
	entry := Entry{
		Title:     "Post",
		Summary:   "<p>Summary with <b>markup</b></p>",
		Link:      "https://example.com/post",
		Thumbnail: "https://example.com/thumb.png",
		Published: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}

	embed := RenderEmbed(feed, entry, berlin(t))

	if embed.Title != "Post" {
		t.Errorf("title = %q", embed.Title)
	}
	if embed.Description != "Summary with markup" {
		t.Errorf("description = %q, want HTML stripped", embed.Description)
	}
	if embed.Image == nil || embed.Image.URL != "https://example.com/thumb.png" {
		t.Errorf("image = %+v, want thumbnail fallback", embed.Image)
	}
	if embed.Timestamp == nil || !embed.Timestamp.Equal(entry.Published) {
		t.Errorf("timestamp = %v, want published time", embed.Timestamp)
	}
}

func TestRenderEmbed_PublishedCustomUsesGuildTimezone(t *testing.T) {
	feed := models.Feed{
		FeedURL: "https://example.com/rss",
		EmbedTemplate: map[string]any{
			"title":       "{title}",
			"description": "published {published_custom}",
		},
	}
	// 12:00 UTC in winter is 13:00 in Berlin.
	entry := Entry{
		Title:     "T",
		Published: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}

	embed := RenderEmbed(feed, entry, berlin(t))
	if embed.Description != "published 15.01.2026 13:00" {
		t.Errorf("description = %q", embed.Description)
	}
}

func TestRenderEmbed_BlueskyTemplate(t *testing.T) {
	feed := models.Feed{FeedURL: "https://bsky.app/profile/alice.bsky.social/rss"}
	entry := Entry{
		Author:  "alice",
		Summary: "post text",
		Link:    "https://bsky.app/profile/alice.bsky.social/post/abc",
	}

	embed := RenderEmbed(feed, entry, berlin(t))
	if embed.Title != "alice just posted on Bluesky" {
		t.Errorf("title = %q", embed.Title)
	}
	if embed.Description != "post text" {
		t.Errorf("description = %q", embed.Description)
	}
}

func TestCleanTree_DropsEmptyLeaves(t *testing.T) {
	tree := map[string]any{
		"title": "kept",
		"url":   "",
		"image": map[string]any{"url": ""},
		"field": []any{""},
	}
	cleaned := cleanTree(tree).(map[string]any)

	if _, ok := cleaned["url"]; ok {
		t.Error("empty string leaf should be dropped")
	}
	if _, ok := cleaned["image"]; ok {
		t.Error("map reduced to empty should be dropped")
	}
	if _, ok := cleaned["field"]; ok {
		t.Error("list reduced to empty should be dropped")
	}
	if cleaned["title"] != "kept" {
		t.Error("non-empty leaves must survive")
	}
}

func TestStripHTML(t *testing.T) {
	if got := stripHTML(`<a href="x">text</a> more`); got != "text more" {
		t.Errorf("stripHTML = %q", got)
	}
}
