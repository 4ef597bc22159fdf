package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// appViewBase is the public Bluesky AppView API.
const appViewBase = "https://public.api.bsky.app/xrpc"

var blueskyPostRe = regexp.MustCompile(`https?://bsky\.app/profile/([^/]+)/post/([^/?#]+)`)

// blueskyImages dereferences a bsky.app post URL to the full-size image URLs
// embedded in the post: handle -> DID, then post thread -> embed images.
func (e *Engine) blueskyImages(ctx context.Context, postURL string) ([]string, error) {
	m := blueskyPostRe.FindStringSubmatch(postURL)
	if m == nil {
		return nil, fmt.Errorf("unrecognised Bluesky post URL %q", postURL)
	}
	handleOrDID, rkey := m[1], m[2]

	did := handleOrDID
	if !strings.HasPrefix(did, "did:") {
		resolved, err := e.resolveBlueskyHandle(ctx, handleOrDID)
		if err != nil {
			return nil, err
		}
		did = resolved
	}

	atURI := fmt.Sprintf("at://%s/app.bsky.feed.post/%s", did, rkey)
	threadURL := fmt.Sprintf("%s/app.bsky.feed.getPostThread?uri=%s&depth=0",
		appViewBase, url.QueryEscape(atURI))

	body, err := e.fetcher.Get(ctx, threadURL)
	if err != nil {
		return nil, fmt.Errorf("fetching post thread: %w", err)
	}

	var resp struct {
		Thread struct {
			Post struct {
				Embed struct {
					Type   string `json:"$type"`
					Images []struct {
						Fullsize string `json:"fullsize"`
						Thumb    string `json:"thumb"`
					} `json:"images"`
				} `json:"embed"`
			} `json:"post"`
		} `json:"thread"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding post thread: %w", err)
	}

	embed := resp.Thread.Post.Embed
	if embed.Type != "app.bsky.embed.images#view" {
		return nil, nil
	}

	var images []string
	for _, img := range embed.Images {
		if img.Fullsize != "" {
			images = append(images, img.Fullsize)
		} else if img.Thumb != "" {
			images = append(images, img.Thumb)
		}
	}
	return images, nil
}

// resolveBlueskyHandle turns a handle like alice.bsky.social into a DID.
func (e *Engine) resolveBlueskyHandle(ctx context.Context, handle string) (string, error) {
	resolveURL := fmt.Sprintf("%s/com.atproto.identity.resolveHandle?handle=%s",
		appViewBase, url.QueryEscape(handle))

	body, err := e.fetcher.Get(ctx, resolveURL)
	if err != nil {
		return "", fmt.Errorf("resolving handle %q: %w", handle, err)
	}

	var resp struct {
		DID string `json:"did"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decoding handle resolution: %w", err)
	}
	if resp.DID == "" {
		return "", fmt.Errorf("no DID for handle %q", handle)
	}
	return resp.DID, nil
}
