package machine

import (
	"context"
	"fmt"

	"github.com/fourthplaces/seesaw/pkg/crawler/ingestor"
	seesawbus "github.com/fourthplaces/seesaw/pkg/seesaw/bus"
	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

// DiscoveryCompletedPayload carries the discovered page URLs back alongside
// the resource id, so a caller blocked on bus.DispatchRequest can read the
// discovered set directly off the matched event rather than re-querying.
type DiscoveryCompletedPayload struct {
	ResourceID string
	PageURLs   []string
}

func (p DiscoveryCompletedPayload) aggregateKey() string { return p.ResourceID }

// DiscoveryFailedPayload carries the reason discovery failed.
type DiscoveryFailedPayload struct {
	ResourceID string
	Reason     string
}

func (p DiscoveryFailedPayload) aggregateKey() string { return p.ResourceID }

// PageExtractedPayload carries the page id an extraction command completed
// for.
type PageExtractedPayload struct {
	PageID string
}

func (p PageExtractedPayload) aggregateKey() string { return p.PageID }

// DiscoverEffect implements dispatch.Effect for CommandDiscoverResource: it
// runs the ingestor's site discovery and reports the outcome back onto the
// bus as a resource-lifecycle fact event, so the Coordinator can advance
// ResourceMachine to Completed or Failed. An ingestor error becomes
// EventDiscoveryFailed rather than a dispatcher-level CommandFailed, since
// only the domain event drives the resource machine's own failure
// transition (§4.C "on failure, no auto-retry").
type DiscoverEffect struct {
	Ingestor ingestor.Ingestor
}

func (e DiscoverEffect) Execute(ctx context.Context, cmd core.Command) ([]core.Event, error) {
	p, ok := cmd.Payload.(DiscoverResourcePayload)
	if !ok {
		return nil, fmt.Errorf("crawler/machine: discover effect: unexpected payload type %T", cmd.Payload)
	}

	pages, err := e.Ingestor.Discover(ctx, ingestor.DiscoverConfig{URL: p.SiteURL, MaxDepth: p.MaxDepth})
	if err != nil {
		return []core.Event{
			core.NewEvent(EventDiscoveryFailed, 1, DiscoveryFailedPayload{ResourceID: p.ResourceID, Reason: err.Error()}, cmd.CorrelationId),
		}, nil
	}

	urls := make([]string, 0, len(pages))
	for _, pg := range pages {
		urls = append(urls, pg.URL)
	}
	return []core.Event{
		core.NewEvent(EventDiscoveryCompleted, 1, DiscoveryCompletedPayload{ResourceID: p.ResourceID, PageURLs: urls}, cmd.CorrelationId),
	}, nil
}

// ExtractPageEffect implements dispatch.Effect for CommandExtractPage. The
// real extraction work (summarize/candidates/enrich) runs as its own
// journaled Temporal steps once a page is flagged; this effect's only job is
// the bookkeeping fact that extraction for this page has been handed off,
// advancing PageMachine to Extracted so a later re-ingest with unchanged
// content is recognized as already handled.
type ExtractPageEffect struct{}

func (ExtractPageEffect) Execute(_ context.Context, cmd core.Command) ([]core.Event, error) {
	p, ok := cmd.Payload.(ExtractPagePayload)
	if !ok {
		return nil, fmt.Errorf("crawler/machine: extract page effect: unexpected payload type %T", cmd.Payload)
	}
	return []core.Event{
		core.NewEvent(EventPageExtracted, 1, PageExtractedPayload{PageID: p.PageID}, cmd.CorrelationId),
	}, nil
}

// RoutedEventKinds lists every event Kind the Coordinator routes: the set
// Subscribe listens for on the bus.
var RoutedEventKinds = []string{
	EventResourceSubmitted, EventDiscoveryCompleted, EventDiscoveryFailed,
	EventPageFlagged, EventPageUnflagged, EventPageContentChanged,
	EventPageExtractionStarted, EventPageExtracted,
}

// Subscribe drives every event of RoutedEventKinds arriving on bus through
// coordinator.Route, one subscription per kind (capacity each) so a slow
// consumer of one kind cannot starve another's queue. onRouteError, if
// non-nil, is called for a routing error or a lagged subscription; Subscribe
// itself returns immediately and routing continues in background goroutines
// until ctx is done.
func Subscribe(ctx context.Context, bus seesawbus.Bus, coordinator *Coordinator, capacity int, onRouteError func(error)) {
	for _, kind := range RoutedEventKinds {
		sub := bus.Subscribe(kind, capacity)
		go routeLoop(ctx, sub, coordinator, onRouteError)
	}
}

func routeLoop(ctx context.Context, sub seesawbus.Subscription, coordinator *Coordinator, onRouteError func(error)) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			if env.Lagged {
				if onRouteError != nil {
					onRouteError(fmt.Errorf("crawler/machine: subscribe: subscriber lagged, events were dropped"))
				}
				continue
			}
			if err := coordinator.Route(ctx, env.Event); err != nil && onRouteError != nil {
				onRouteError(err)
			}
		}
	}
}
