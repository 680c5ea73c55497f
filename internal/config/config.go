// Package config loads the environment configuration recognized by the
// engine (spec §6 "Environment configuration") and validates the shapes that
// admins are most likely to get wrong (CIDR block-lists, bus capacities)
// with plain checks in Validate; no schema library is used.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Config holds every environment-recognized option from spec §6.
type Config struct {
	// LLM
	LLMAPIKey      Secret
	LLMDefaultModel string

	// Ingestor toggles
	FirecrawlEnabled bool
	TavilyAPIKey     Secret

	// EmbeddingAPIKey authenticates the Pass 4 merge embedder (§4.F.4).
	EmbeddingAPIKey Secret

	// Storage
	DatabaseURL Secret
	RedisURL    Secret

	// Concurrency
	WorkerPoolSize   int
	BusTopicCapacity int

	// Extraction tunables, process-wide defaults for pkg/extraction/*.
	MaxToolCallsPerCandidate int
	MaxProposalRevisions     int
	MaxPostsPerScope         int

	// RetirementAgeDays is Pass 5's DELETE-proposal floor (§4.F.5): an
	// existing post younger than this is never proposed for DELETE,
	// regardless of what the LLM diff suggests.
	RetirementAgeDays int

	// Embedding dimension: 1024 for Voyage-class, 1536 for OpenAI-class.
	EmbeddingDimension int

	// SSRF block-lists.
	BlockedSchemes []string
	BlockedCIDRs   []string
	BlockedHosts   []string
}

// Default returns a Config populated with the implementation-defined
// defaults recorded in SPEC_FULL.md §4 (open-question decisions).
func Default() Config {
	return Config{
		LLMDefaultModel:          "claude-sonnet",
		WorkerPoolSize:           8,
		BusTopicCapacity:         1024,
		MaxToolCallsPerCandidate: 8,
		MaxProposalRevisions:     3,
		MaxPostsPerScope:         500,
		RetirementAgeDays:        90,
		EmbeddingDimension:       1024,
		BlockedSchemes:           []string{"file", "ftp", "gopher", "dict"},
		BlockedCIDRs: []string{
			"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
			"169.254.0.0/16", "::1/128", "fc00::/7", "fe80::/10",
		},
		BlockedHosts: []string{"localhost", "metadata.google.internal"},
	}
}

// Load reads the environment, overlaying onto Default(), then validates the
// result. An override file (YAML) for the SSRF lists and tunables may be
// supplied via SEESAW_CONFIG_FILE; an error reading or parsing it is
// returned from Load. See applyOverrideFile.
func Load() (*Config, error) {
	cfg := Default()

	if v := os.Getenv("SEESAW_LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = NewSecret(v)
	}
	if v := os.Getenv("SEESAW_LLM_DEFAULT_MODEL"); v != "" {
		cfg.LLMDefaultModel = v
	}
	if v := os.Getenv("SEESAW_FIRECRAWL_ENABLED"); v != "" {
		cfg.FirecrawlEnabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("SEESAW_TAVILY_API_KEY"); v != "" {
		cfg.TavilyAPIKey = NewSecret(v)
	}
	if v := os.Getenv("SEESAW_EMBEDDING_API_KEY"); v != "" {
		cfg.EmbeddingAPIKey = NewSecret(v)
	}
	if v := os.Getenv("SEESAW_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = NewSecret(v)
	}
	if v := os.Getenv("SEESAW_REDIS_URL"); v != "" {
		cfg.RedisURL = NewSecret(v)
	}
	if v := os.Getenv("SEESAW_WORKER_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: SEESAW_WORKER_POOL_SIZE: %w", err)
		}
		cfg.WorkerPoolSize = n
	}
	if v := os.Getenv("SEESAW_BUS_TOPIC_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: SEESAW_BUS_TOPIC_CAPACITY: %w", err)
		}
		cfg.BusTopicCapacity = n
	}
	if v := os.Getenv("SEESAW_MAX_TOOL_CALLS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: SEESAW_MAX_TOOL_CALLS: %w", err)
		}
		cfg.MaxToolCallsPerCandidate = n
	}
	if v := os.Getenv("SEESAW_MAX_PROPOSAL_REVISIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: SEESAW_MAX_PROPOSAL_REVISIONS: %w", err)
		}
		cfg.MaxProposalRevisions = n
	}
	if v := os.Getenv("SEESAW_RETIREMENT_AGE_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: SEESAW_RETIREMENT_AGE_DAYS: %w", err)
		}
		cfg.RetirementAgeDays = n
	}
	if v := os.Getenv("SEESAW_EMBEDDING_DIMENSION"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: SEESAW_EMBEDDING_DIMENSION: %w", err)
		}
		cfg.EmbeddingDimension = n
	}
	if v := os.Getenv("SEESAW_BLOCKED_CIDRS"); v != "" {
		cfg.BlockedCIDRs = splitCSV(v)
	}
	if v := os.Getenv("SEESAW_BLOCKED_HOSTS"); v != "" {
		cfg.BlockedHosts = splitCSV(v)
	}
	if v := os.Getenv("SEESAW_BLOCKED_SCHEMES"); v != "" {
		cfg.BlockedSchemes = splitCSV(v)
	}

	if path := os.Getenv("SEESAW_CONFIG_FILE"); path != "" {
		if err := cfg.applyOverrideFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that the environment/YAML loaders cannot
// enforce structurally (CIDR syntax, positive pool sizes).
func (c *Config) Validate() error {
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("config: worker pool size must be positive, got %d", c.WorkerPoolSize)
	}
	if c.BusTopicCapacity <= 0 {
		return fmt.Errorf("config: bus topic capacity must be positive, got %d", c.BusTopicCapacity)
	}
	if c.EmbeddingDimension != 1024 && c.EmbeddingDimension != 1536 {
		return fmt.Errorf("config: embedding dimension must be 1024 (Voyage-class) or 1536 (OpenAI-class), got %d", c.EmbeddingDimension)
	}
	for _, cidr := range c.BlockedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("config: invalid blocked CIDR %q: %w", cidr, err)
		}
	}
	return nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
