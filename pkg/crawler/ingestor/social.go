package ingestor

import (
	"context"
	"time"
)

// SocialClient is the minimal handle-scoped listing API a social ingestor
// wraps. Concrete platform SDKs (Instagram Graph API, Facebook Graph API,
// X API v2) each get their own adapter implementing this over their own
// HTTP client; the ingestor itself never does more than shape the result
// into RawPage.
type SocialClient interface {
	// ListPosts returns up to limit recent posts for handle.
	ListPosts(ctx context.Context, handle string, limit int) ([]SocialPost, error)
}

// SocialPost is one platform post as the platform client returns it.
type SocialPost struct {
	ID        string
	Permalink string
	Caption   string
	PostedAt  time.Time
}

// socialIngestor adapts a SocialClient to the Ingestor contract. Instagram,
// Facebook, and X all share this shape (API-driven, handle-scoped, no
// recursive link walk, no FetchSpecific-by-URL addressing), so one
// generic type parameterized by platform name avoids three near-identical
// files.
type socialIngestor struct {
	platform string
	client   SocialClient
}

// NewInstagramIngestor constructs the Instagram adapter.
func NewInstagramIngestor(client SocialClient) Ingestor {
	return &socialIngestor{platform: "instagram", client: client}
}

// NewFacebookIngestor constructs the Facebook adapter.
func NewFacebookIngestor(client SocialClient) Ingestor {
	return &socialIngestor{platform: "facebook", client: client}
}

// NewXIngestor constructs the X (formerly Twitter) adapter.
func NewXIngestor(client SocialClient) Ingestor {
	return &socialIngestor{platform: "x", client: client}
}

func (s *socialIngestor) Name() string { return s.platform }

func (s *socialIngestor) Discover(ctx context.Context, cfg DiscoverConfig) ([]RawPage, error) {
	handle := cfg.Options["handle"]
	if handle == "" {
		return nil, &Error{Kind: ErrorInvalidURL}
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 25
	}

	posts, err := s.client.ListPosts(ctx, handle, limit)
	if err != nil {
		return nil, &Error{Kind: ErrorHTTP, Cause: err}
	}

	pages := make([]RawPage, 0, len(posts))
	for _, p := range posts {
		pages = append(pages, RawPage{
			URL:         p.Permalink,
			Content:     p.Caption,
			ContentType: "text/plain",
			FetchedAt:   time.Now().UTC(),
			Metadata: map[string]string{
				"platform": s.platform,
				"handle":   handle,
				"post_id":  p.ID,
			},
		})
	}
	return pages, nil
}

// FetchSpecific is unsupported by every social platform this adapter
// targets: posts are addressed by handle-scoped listing, not by URL
// (§4.E "may return empty for platforms that cannot address individual
// items").
func (s *socialIngestor) FetchSpecific(_ context.Context, _ []string) ([]RawPage, error) {
	return nil, nil
}
