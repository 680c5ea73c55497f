package workflow

// RegisterWorkflows registers all seven named workflows on e under its
// default task queue. Callers that need per-workflow queues should call
// e.RegisterWorkflow directly instead.
func RegisterWorkflows(e *Engine) error {
	workflows := map[string]any{
		"crawl_website_full":   CrawlWebsiteFull,
		"extract_org_posts":    ExtractOrgPosts,
		"regenerate_posts":     RegeneratePosts,
		"subscribe_newsletter": SubscribeNewsletter,
		"confirm_newsletter":   ConfirmNewsletter,
		"resource_link":        ResourceLink,
		"website_research":     WebsiteResearch,
	}
	for name, fn := range workflows {
		if err := e.RegisterWorkflow(name, "", fn); err != nil {
			return err
		}
	}
	return nil
}
