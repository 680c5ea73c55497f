// Command admin-cli is the operator tool for starting and inspecting the
// durable workflows cmd/worker executes: crawl a site, re-run extraction
// over already-ingested pages, regenerate posts, and drive the newsletter
// double opt-in, all by talking to the same Temporal frontend cmd/worker
// serves.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/fourthplaces/seesaw/pkg/workflow"
)

func main() {
	var (
		temporalHost string
		taskQueue    string
		debug        bool
	)

	root := &cobra.Command{
		Use:   "admin-cli",
		Short: "Start and inspect seesaw extraction workflows",
	}
	root.PersistentFlags().StringVar(&temporalHost, "temporal-host", "localhost:7233", "Temporal frontend address")
	root.PersistentFlags().StringVar(&taskQueue, "task-queue", "seesaw-extraction", "task queue cmd/worker is serving")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	engineFor := func() (*workflow.Engine, error) {
		return workflow.New(workflow.Options{
			ClientOptions:          &client.Options{HostPort: temporalHost},
			DefaultTaskQueue:       taskQueue,
			DisableWorkerAutoStart: true,
		})
	}

	root.AddCommand(
		ingestWebsiteCmd(engineFor),
		extractPostsCmd(engineFor),
		regeneratePostsCmd(engineFor),
		subscribeNewsletterCmd(engineFor),
		confirmNewsletterCmd(engineFor),
		resourceLinkCmd(engineFor),
		websiteResearchCmd(engineFor),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type engineFunc func() (*workflow.Engine, error)

func ingestWebsiteCmd(newEngine engineFunc) *cobra.Command {
	var (
		resourceID     string
		siteURL        string
		maxDepth       int
		sameDomainOnly bool
		wait           bool
	)
	cmd := &cobra.Command{
		Use:   "ingest_website",
		Short: "Crawl a site and run the full extraction pipeline (crawl_website_full)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if resourceID == "" {
				return fmt.Errorf("--resource-id is required")
			}
			in := workflow.CrawlWebsiteFullInput{
				ResourceID:     resourceID,
				SiteURL:        siteURL,
				MaxDepth:       maxDepth,
				SameDomainOnly: sameDomainOnly,
			}
			var result workflow.CrawlWebsiteFullResult
			return startAndReport(cmd.Context(), newEngine, "crawl_website_full", "ingest-"+resourceID, in, wait, &result)
		},
	}
	cmd.Flags().StringVar(&resourceID, "resource-id", "", "resource to crawl (required)")
	cmd.Flags().StringVar(&siteURL, "site-url", "", "root URL to crawl")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 3, "max crawl depth")
	cmd.Flags().BoolVar(&sameDomainOnly, "same-domain-only", true, "restrict crawl to the site's own domain")
	cmd.Flags().BoolVar(&wait, "wait", true, "block until the workflow completes and print its result")
	return cmd
}

func extractPostsCmd(newEngine engineFunc) *cobra.Command {
	var (
		resourceID string
		pageIDs    []string
		wait       bool
	)
	cmd := &cobra.Command{
		Use:   "extract_posts",
		Short: "Re-run extraction over already-ingested pages (extract_org_posts)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if resourceID == "" {
				return fmt.Errorf("--resource-id is required")
			}
			in := workflow.ExtractOrgPostsInput{ResourceID: resourceID, PageIDs: pageIDs}
			var result workflow.CrawlWebsiteFullResult
			return startAndReport(cmd.Context(), newEngine, "extract_org_posts", "extract-"+resourceID, in, wait, &result)
		},
	}
	cmd.Flags().StringVar(&resourceID, "resource-id", "", "resource whose pages to extract from (required)")
	cmd.Flags().StringSliceVar(&pageIDs, "page-id", nil, "page IDs to extract (repeatable; default: all cached pages)")
	cmd.Flags().BoolVar(&wait, "wait", true, "block until the workflow completes and print its result")
	return cmd
}

func regeneratePostsCmd(newEngine engineFunc) *cobra.Command {
	var (
		resourceID string
		pageIDs    []string
		wait       bool
	)
	cmd := &cobra.Command{
		Use:   "regenerate_posts",
		Short: "Discard and re-derive every post for a resource (regenerate_posts)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if resourceID == "" {
				return fmt.Errorf("--resource-id is required")
			}
			in := workflow.ExtractOrgPostsInput{ResourceID: resourceID, PageIDs: pageIDs}
			var result workflow.CrawlWebsiteFullResult
			return startAndReport(cmd.Context(), newEngine, "regenerate_posts", "regenerate-"+resourceID+"-"+uuid.NewString(), in, wait, &result)
		},
	}
	cmd.Flags().StringVar(&resourceID, "resource-id", "", "resource whose posts to regenerate (required)")
	cmd.Flags().StringSliceVar(&pageIDs, "page-id", nil, "page IDs to regenerate from (repeatable; default: all cached pages)")
	cmd.Flags().BoolVar(&wait, "wait", true, "block until the workflow completes and print its result")
	return cmd
}

func subscribeNewsletterCmd(newEngine engineFunc) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "subscribe_newsletter",
		Short: "Start the double opt-in subscription flow for an email address",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			in := workflow.SubscribeNewsletterInput{Email: email}
			var result bool
			// This workflow suspends pending confirm_newsletter's signal; never
			// block the CLI on it.
			return startAndReport(cmd.Context(), newEngine, "subscribe_newsletter", "subscribe-"+email, in, false, &result)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "subscriber email (required)")
	return cmd
}

func confirmNewsletterCmd(newEngine engineFunc) *cobra.Command {
	var email, code string
	cmd := &cobra.Command{
		Use:   "confirm_newsletter",
		Short: "Confirm a pending newsletter subscription with its OTP code",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || code == "" {
				return fmt.Errorf("--email and --code are required")
			}
			in := workflow.ConfirmNewsletterInput{Email: email, Code: code}
			var result bool
			return startAndReport(cmd.Context(), newEngine, "confirm_newsletter", "confirm-"+email+"-"+uuid.NewString(), in, true, &result)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "subscriber email (required)")
	cmd.Flags().StringVar(&code, "code", "", "one-time code from subscribe_newsletter (required)")
	return cmd
}

func resourceLinkCmd(newEngine engineFunc) *cobra.Command {
	var from, to, relation string
	cmd := &cobra.Command{
		Use:   "resource_link",
		Short: "Publish a cross-resource relationship via the resource_link workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" || to == "" || relation == "" {
				return fmt.Errorf("--from, --to, and --relation are required")
			}
			in := workflow.ResourceLinkInput{FromResourceID: from, ToResourceID: to, Relation: relation}
			var result bool
			return startAndReport(cmd.Context(), newEngine, "resource_link", "link-"+from+"-"+to+"-"+uuid.NewString(), in, true, &result)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source resource ID (required)")
	cmd.Flags().StringVar(&to, "to", "", "target resource ID (required)")
	cmd.Flags().StringVar(&relation, "relation", "", "relation label (required)")
	return cmd
}

func websiteResearchCmd(newEngine engineFunc) *cobra.Command {
	var resourceID, query string
	cmd := &cobra.Command{
		Use:   "website_research",
		Short: "Run an ad hoc, bounded web-research pass for a resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			if resourceID == "" || query == "" {
				return fmt.Errorf("--resource-id and --query are required")
			}
			in := workflow.WebsiteResearchInput{ResourceID: resourceID, Query: query}
			var result workflow.WebsiteResearchResult
			return startAndReport(cmd.Context(), newEngine, "website_research", "research-"+resourceID+"-"+uuid.NewString(), in, true, &result)
		},
	}
	cmd.Flags().StringVar(&resourceID, "resource-id", "", "resource to research (required)")
	cmd.Flags().StringVar(&query, "query", "", "research query (required)")
	return cmd
}

// startAndReport starts workflowName with id and in, optionally waits for
// its result, and prints whatever it has to stdout as JSON.
func startAndReport(ctx context.Context, newEngine engineFunc, workflowName, id string, in any, wait bool, result any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = log.Context(ctx, log.WithFormat(log.FormatTerminal))

	engine, err := newEngine()
	if err != nil {
		return fmt.Errorf("admin-cli: connect: %w", err)
	}
	defer engine.Close()

	handle, err := engine.StartWorkflow(ctx, workflow.StartRequest{
		ID:       id,
		Workflow: workflowName,
		Input:    in,
	})
	if err != nil {
		return fmt.Errorf("admin-cli: start %s: %w", workflowName, err)
	}
	fmt.Printf("started %s workflow %s\n", workflowName, id)

	if !wait {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()
	if err := handle.Wait(waitCtx, result); err != nil {
		return fmt.Errorf("admin-cli: %s did not complete: %w", workflowName, err)
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("admin-cli: encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
