package machine

import (
	"context"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

// PageStatus is the page-lifecycle state of §4.C.
type PageStatus string

const (
	PageNew        PageStatus = "new"
	PageFlagged    PageStatus = "flagged"
	PageUnflagged  PageStatus = "unflagged"
	PageExtracting PageStatus = "extracting"
	PageExtracted  PageStatus = "extracted"
)

// PageState is the persisted snapshot of one page's flag/extract/refresh arc.
type PageState struct {
	Status      PageStatus
	ContentHash string
	changed     bool
}

func (s PageState) Changed() bool { return s.changed }

// Event Kinds the page machine decides on.
const (
	EventPageFlagged           = "page.flagged.v1"
	EventPageUnflagged         = "page.unflagged.v1"
	EventPageContentChanged    = "page.content_changed.v1"
	EventPageExtractionStarted = "page.extraction_started.v1"
	EventPageExtracted         = "page.extracted.v1"
)

// PageContentChangedPayload carries the new content hash observed on
// re-ingest. §4.E "unchanged content never re-summarizes": the machine only
// transitions to Flagged (re-triggering extraction) when the hash differs
// from the stored one.
type PageContentChangedPayload struct {
	PageID      string
	ContentHash string
}

// CommandExtractPage is emitted when a page transitions into Extracting.
const CommandExtractPage = "extraction.extract_page.v1"

// ExtractPagePayload is the payload of CommandExtractPage.
type ExtractPagePayload struct {
	PageID string
}

// PageExtractionStartedPayload carries the page id so the emitted command
// can address the right page without Decide needing the aggregate key.
type PageExtractionStartedPayload struct {
	PageID string
}

// PageMachine implements machine.PersistentMachine[PageState].
type PageMachine struct{}

func (PageMachine) Kind() string { return "page_lifecycle" }

func (PageMachine) Initial() PageState {
	return PageState{Status: PageNew}
}

func (PageMachine) Decide(_ context.Context, state PageState, event core.Event) (PageState, *core.Command, error) {
	switch event.Kind {
	case EventPageFlagged:
		if state.Status == PageFlagged || state.Status == PageExtracting {
			return state, nil, nil
		}
		next := state
		next.Status = PageFlagged
		next.changed = true
		return next, nil, nil

	case EventPageUnflagged:
		if state.Status != PageFlagged && state.Status != PageNew {
			return state, nil, nil
		}
		next := state
		next.Status = PageUnflagged
		next.changed = true
		return next, nil, nil

	case EventPageContentChanged:
		p, ok := event.Payload.(PageContentChangedPayload)
		if !ok || p.ContentHash == state.ContentHash {
			return state, nil, nil
		}
		next := state
		next.ContentHash = p.ContentHash
		next.Status = PageFlagged
		next.changed = true
		return next, nil, nil

	case EventPageExtractionStarted:
		if state.Status != PageFlagged {
			return state, nil, nil
		}
		p, _ := event.Payload.(PageExtractionStartedPayload)
		next := state
		next.Status = PageExtracting
		next.changed = true
		cmd := core.NewCommand(CommandExtractPage, ExtractPagePayload{PageID: p.PageID}, event.CorrelationId)
		return next, &cmd, nil

	case EventPageExtracted:
		if state.Status != PageExtracting {
			return state, nil, nil
		}
		next := state
		next.Status = PageExtracted
		next.changed = true
		return next, nil, nil

	default:
		return state, nil, nil
	}
}
