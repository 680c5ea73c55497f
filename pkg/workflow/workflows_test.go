package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
)

type workflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(workflowTestSuite))
}

func activityOpts(name string) activity.RegisterOptions {
	return activity.RegisterOptions{Name: name}
}

func (s *workflowTestSuite) TestCrawlWebsiteFullRunsStepsInOrder() {
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivityWithOptions(func(in CrawlWebsiteFullInput) (map[string]any, error) {
		return map[string]any{"PageURLs": []string{"https://example.org/a", "https://example.org/b"}}, nil
	}, activityOpts(ActivityDiscoverResource))
	env.RegisterActivityWithOptions(func(in map[string]any) (map[string]any, error) {
		return map[string]any{"PageID": "page-" + in["url"].(string)}, nil
	}, activityOpts(ActivityIngestPage))
	env.RegisterActivityWithOptions(func(in map[string]any) (map[string]any, error) {
		return map[string]any{"SnapshotIDs": []string{"snap-1"}}, nil
	}, activityOpts(ActivitySummarizePages))
	env.RegisterActivityWithOptions(func(in map[string]any) (map[string]any, error) {
		return map[string]any{"CandidateIDs": []string{"cand-1"}}, nil
	}, activityOpts(ActivityExtractCandidates))
	env.RegisterActivityWithOptions(func(in map[string]any) (map[string]any, error) {
		return map[string]any{"EnrichedID": "cand-1"}, nil
	}, activityOpts(ActivityEnrichCandidate))
	env.RegisterActivityWithOptions(func(in map[string]any) (map[string]any, error) {
		return map[string]any{"EntityIDs": []string{"entity-1"}}, nil
	}, activityOpts(ActivityMergeCandidates))
	env.RegisterActivityWithOptions(func(in map[string]any) (map[string]any, error) {
		return map[string]any{"ProposalIDs": []string{"prop-1"}}, nil
	}, activityOpts(ActivitySyncProposals))
	env.RegisterActivityWithOptions(func(in map[string]any) (map[string]any, error) {
		return map[string]any{"Accepted": true}, nil
	}, activityOpts(ActivityRefineProposal))
	env.RegisterActivityWithOptions(func(in map[string]any) (map[string]any, error) {
		return map[string]any{"Attached": true}, nil
	}, activityOpts(ActivityAttachNotes))

	env.ExecuteWorkflow(CrawlWebsiteFull, CrawlWebsiteFullInput{
		ResourceID: "res-1",
		SiteURL:    "https://example.org",
		MaxDepth:   2,
	})

	s.True(env.IsWorkflowCompleted())
	s.NoError(env.GetWorkflowError())

	var result CrawlWebsiteFullResult
	require.NoError(s.T(), env.GetWorkflowResult(&result))
	s.Equal(2, result.PagesIngested)
	s.Equal([]string{"prop-1"}, result.ProposalIDs)
}

func (s *workflowTestSuite) TestCrawlWebsiteFullStopsAtFailingStep() {
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivityWithOptions(func(in CrawlWebsiteFullInput) (map[string]any, error) {
		return nil, errors.New("site unreachable")
	}, activityOpts(ActivityDiscoverResource))

	env.ExecuteWorkflow(CrawlWebsiteFull, CrawlWebsiteFullInput{ResourceID: "res-2", SiteURL: "https://down.example"})

	s.True(env.IsWorkflowCompleted())
	s.Error(env.GetWorkflowError(), "a failing discover step must fail the workflow rather than continue to ingestion")
}

func (s *workflowTestSuite) TestConfirmNewsletterReturnsFalseOnInvalidCode() {
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivityWithOptions(func(in ConfirmNewsletterInput) (map[string]any, error) {
		return map[string]any{"Valid": false}, nil
	}, activityOpts(ActivityVerifyOTP))

	env.ExecuteWorkflow(ConfirmNewsletter, ConfirmNewsletterInput{Email: "a@example.org", Code: "000000"})

	s.True(env.IsWorkflowCompleted())
	s.NoError(env.GetWorkflowError())
	var ok bool
	require.NoError(s.T(), env.GetWorkflowResult(&ok))
	s.False(ok)
}
