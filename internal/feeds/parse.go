package feeds

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"
)

// Entry is the engine's view of one feed item.
type Entry struct {
	GUID        string
	Title       string
	Summary     string
	Description string
	Link        string
	Author      string
	Published   time.Time
	Content     []string
	Thumbnail   string

	// raw carries the parsed item for thumbnail extraction.
	raw *gofeed.Item
}

// parseFeed parses an RSS/Atom payload into entries in feed order. Unknown
// fields are ignored (best-effort parsing per the external contract).
func parseFeed(body []byte) ([]Entry, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing feed payload: %w", err)
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		entries = append(entries, entryFromItem(item))
	}
	return entries, nil
}

func entryFromItem(item *gofeed.Item) Entry {
	e := Entry{
		Title:       item.Title,
		Summary:     item.Description,
		Description: item.Description,
		Link:        item.Link,
		raw:         item,
	}

	// GUID precedence: id, then link.
	e.GUID = item.GUID
	if e.GUID == "" {
		e.GUID = item.Link
	}

	if item.Author != nil {
		e.Author = item.Author.Name
	}
	if e.Author == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
		e.Author = item.Authors[0].Name
	}

	if item.PublishedParsed != nil {
		e.Published = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		e.Published = item.UpdatedParsed.UTC()
	}

	if item.Content != "" {
		e.Content = []string{item.Content}
	}

	return e
}
