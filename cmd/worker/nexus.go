package main

import (
	"context"
	"fmt"

	"github.com/nexus-rpc/sdk-go/nexus"

	"github.com/fourthplaces/seesaw/pkg/workflow"
)

// nexusPublisher implements the resource_link workflow's cross-resource
// callback (§4.D) over Nexus rather than an in-process Temporal signal: two
// resources' extraction pipelines may run in different namespaces (e.g. one
// per organization tenant), and Nexus's operation-token model is built for
// exactly that cross-namespace/cross-deployment handoff, unlike a signal
// channel which only reaches a workflow in the same namespace
// (SubscribeNewsletter/ConfirmNewsletter use a signal instead because both
// sides of that handshake always run in the same namespace).
type nexusPublisher struct {
	client *nexus.HTTPClient
}

// newNexusPublisher constructs a publisher against the Nexus endpoint
// fronting the target resource's namespace. baseURL/service identify the
// target namespace's Nexus endpoint the way Temporal's nexus.Endpoint
// configuration would route it.
func newNexusPublisher(baseURL, service string) (*nexusPublisher, error) {
	client, err := nexus.NewHTTPClient(nexus.HTTPClientOptions{
		BaseURL: baseURL,
		Service: service,
	})
	if err != nil {
		return nil, fmt.Errorf("nexus: new client: %w", err)
	}
	return &nexusPublisher{client: client}, nil
}

const resourceLinkOperation = "resource_link.publish"

// Publish starts the resource_link.publish operation on the target
// resource's namespace and waits for its synchronous result; Nexus
// operations that need to run long should instead be started and polled,
// but publishing a cross-reference is expected to complete quickly.
func (p *nexusPublisher) Publish(ctx context.Context, in workflow.ResourceLinkInput) error {
	result, err := nexus.ExecuteOperation(ctx, p.client, resourceLinkOperation, in, nexus.ExecuteOperationOptions{})
	if err != nil {
		return err
	}
	_ = result
	return nil
}
