// Package machine implements the resource-discovery and page-lifecycle
// machines of §4.C/§4.E, and the Coordinator that routes events to a lazily
// instantiated machine per aggregate id.
package machine

import (
	"context"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

// ResourceStatus is the resource-discovery state of §4.C.
type ResourceStatus string

const (
	ResourcePending     ResourceStatus = "pending"
	ResourceDiscovering ResourceStatus = "discovering"
	ResourceCompleted   ResourceStatus = "completed"
	ResourceFailed      ResourceStatus = "failed"
)

// ResourceState is the persisted snapshot of one resource's discovery arc.
type ResourceState struct {
	Status           ResourceStatus
	DiscoveryVersion int
	changed          bool
}

func (s ResourceState) Changed() bool { return s.changed }

// Event Kinds the resource machine decides on.
const (
	EventResourceSubmitted  = "resource.submitted.v1"
	EventDiscoveryCompleted = "resource.discovery_completed.v1"
	EventDiscoveryFailed    = "resource.discovery_failed.v1"
)

// ResourceSubmittedPayload carries the discovery parameters §4.C names.
type ResourceSubmittedPayload struct {
	ResourceID     string
	SiteURL        string
	MaxDepth       int
	SameDomainOnly bool
}

// CommandDiscoverResource is the command the resource machine emits when a
// resource is first submitted.
const CommandDiscoverResource = "crawl.discover_resource.v1"

// DiscoverResourcePayload is the payload of CommandDiscoverResource.
type DiscoverResourcePayload struct {
	ResourceID     string
	SiteURL        string
	MaxDepth       int
	SameDomainOnly bool
}

// ResourceMachine implements machine.PersistentMachine[ResourceState]. On
// ResourceSubmitted it transitions Pending -> Discovering and emits
// DiscoverResource. On DiscoveryCompleted it transitions to Completed and
// advances DiscoveryVersion. On DiscoveryFailed it transitions to Failed and
// emits no command: §4.C "on failure, no auto-retry (a higher-level
// scheduler re-submits)".
type ResourceMachine struct{}

func (ResourceMachine) Kind() string { return "resource_discovery" }

func (ResourceMachine) Initial() ResourceState {
	return ResourceState{Status: ResourcePending}
}

func (ResourceMachine) Decide(_ context.Context, state ResourceState, event core.Event) (ResourceState, *core.Command, error) {
	switch event.Kind {
	case EventResourceSubmitted:
		p, ok := event.Payload.(ResourceSubmittedPayload)
		if !ok {
			return state, nil, nil
		}
		if state.Status != ResourcePending {
			return state, nil, nil
		}
		next := state
		next.Status = ResourceDiscovering
		next.changed = true
		cmd := core.NewCommand(CommandDiscoverResource, DiscoverResourcePayload{
			ResourceID:     p.ResourceID,
			SiteURL:        p.SiteURL,
			MaxDepth:       p.MaxDepth,
			SameDomainOnly: p.SameDomainOnly,
		}, event.CorrelationId)
		return next, &cmd, nil

	case EventDiscoveryCompleted:
		if state.Status != ResourceDiscovering {
			return state, nil, nil
		}
		next := state
		next.Status = ResourceCompleted
		next.DiscoveryVersion++
		next.changed = true
		return next, nil, nil

	case EventDiscoveryFailed:
		if state.Status != ResourceDiscovering {
			return state, nil, nil
		}
		next := state
		next.Status = ResourceFailed
		next.changed = true
		return next, nil, nil

	default:
		return state, nil, nil
	}
}
