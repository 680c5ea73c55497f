package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// overrideFile is the YAML shape accepted by SEESAW_CONFIG_FILE. Only the
// SSRF block-lists and extraction tunables are file-overridable; credentials
// always come from the environment so they never land on disk.
type overrideFile struct {
	BlockedSchemes           []string `yaml:"blocked_schemes"`
	BlockedCIDRs             []string `yaml:"blocked_cidrs"`
	BlockedHosts             []string `yaml:"blocked_hosts"`
	MaxToolCallsPerCandidate *int     `yaml:"max_tool_calls_per_candidate"`
	MaxProposalRevisions     *int     `yaml:"max_proposal_revisions"`
	MaxPostsPerScope         *int     `yaml:"max_posts_per_scope"`
}

// applyOverrideFile reads a local YAML override file and merges it onto c.
// Zero-value/absent fields in the file leave c unchanged.
func (c *Config) applyOverrideFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading override file %s: %w", path, err)
	}
	var ov overrideFile
	if err := yaml.Unmarshal(raw, &ov); err != nil {
		return fmt.Errorf("config: parsing override file %s: %w", path, err)
	}
	if len(ov.BlockedSchemes) > 0 {
		c.BlockedSchemes = ov.BlockedSchemes
	}
	if len(ov.BlockedCIDRs) > 0 {
		c.BlockedCIDRs = ov.BlockedCIDRs
	}
	if len(ov.BlockedHosts) > 0 {
		c.BlockedHosts = ov.BlockedHosts
	}
	if ov.MaxToolCallsPerCandidate != nil {
		c.MaxToolCallsPerCandidate = *ov.MaxToolCallsPerCandidate
	}
	if ov.MaxProposalRevisions != nil {
		c.MaxProposalRevisions = *ov.MaxProposalRevisions
	}
	if ov.MaxPostsPerScope != nil {
		c.MaxPostsPerScope = *ov.MaxPostsPerScope
	}
	return nil
}
