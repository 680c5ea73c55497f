package cache

import (
	"context"
	"sync"
)

// InmemPageStore is a test/local double for PageStore.
type InmemPageStore struct {
	mu    sync.Mutex
	pages map[string]CachedPage // keyed by site_url + "\x00" + url
}

// NewInmemPageStore constructs an empty InmemPageStore.
func NewInmemPageStore() *InmemPageStore {
	return &InmemPageStore{pages: make(map[string]CachedPage)}
}

func pageKey(siteURL, url string) string { return siteURL + "\x00" + url }

func (s *InmemPageStore) WritePage(_ context.Context, page CachedPage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pageKey(page.SiteURL, page.URL)
	prior, existed := s.pages[key]
	changed := !existed || prior.ContentHash != page.ContentHash
	s.pages[key] = page
	return changed, nil
}

func (s *InmemPageStore) GetPage(_ context.Context, siteURL, url string) (*CachedPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pages[pageKey(siteURL, url)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *InmemPageStore) ListPages(_ context.Context, siteURL string) ([]CachedPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pages []CachedPage
	for _, p := range s.pages {
		if p.SiteURL == siteURL {
			pages = append(pages, p)
		}
	}
	return pages, nil
}

// InmemSummaryStore is a test/local double for SummaryStore.
type InmemSummaryStore struct {
	mu     sync.Mutex
	byHash map[string]PageSummary
}

// NewInmemSummaryStore constructs an empty InmemSummaryStore.
func NewInmemSummaryStore() *InmemSummaryStore {
	return &InmemSummaryStore{byHash: make(map[string]PageSummary)}
}

func (s *InmemSummaryStore) GetSummary(_ context.Context, contentHash string) (*PageSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum, ok := s.byHash[contentHash]
	if !ok {
		return nil, nil
	}
	return &sum, nil
}

func (s *InmemSummaryStore) PutSummary(_ context.Context, summary PageSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byHash[summary.ContentHash] = summary
	return nil
}
