package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models court.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Court struct {
		ChallengeWindowHours int   `yaml:"challenge_window_hours"`
		VotingPeriodHours    int   `yaml:"voting_period_hours"`
		DisputeStake         int64 `yaml:"dispute_stake"`
		MinReasonLength      int   `yaml:"min_reason_length"`
		MinInvestmentCents   int64 `yaml:"min_investment_cents"`
		Tier                 struct {
			DAOThresholdCents int64   `yaml:"dao_threshold_cents"`
			ExpertPanelSize   int     `yaml:"expert_panel_size"`
			ExpertQuorum      float64 `yaml:"expert_quorum"`
		} `yaml:"tier"`
		QuorumFailure string `yaml:"quorum_failure"`
	} `yaml:"court"`
	Settlement struct {
		Retries        int `yaml:"retries"`
		BackoffSeconds int `yaml:"backoff_seconds"`
	} `yaml:"settlement"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Sweep    struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"sweep"`
}

type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret,omitempty"`
}

// ChallengeWindow returns the configured challenge window duration.
func (c *Config) ChallengeWindow() time.Duration {
	return time.Duration(c.Court.ChallengeWindowHours) * time.Hour
}

// VotingPeriod returns the configured voting period duration.
func (c *Config) VotingPeriod() time.Duration {
	return time.Duration(c.Court.VotingPeriodHours) * time.Hour
}

// SweepInterval returns the background sweep cadence.
func (c *Config) SweepInterval() time.Duration {
	if c.Sweep.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Sweep.IntervalSeconds) * time.Second
}

// SettlementBackoff returns the initial retry backoff for settlement delivery.
func (c *Config) SettlementBackoff() time.Duration {
	if c.Settlement.BackoffSeconds <= 0 {
		return time.Second
	}
	return time.Duration(c.Settlement.BackoffSeconds) * time.Second
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with bpc project create", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "goal-market" {
		return fmt.Errorf("config.project.kind must be 'goal-market'")
	}
	if c.Court.ChallengeWindowHours <= 0 {
		return fmt.Errorf("config.court.challenge_window_hours must be positive")
	}
	if c.Court.VotingPeriodHours <= 0 {
		return fmt.Errorf("config.court.voting_period_hours must be positive")
	}
	if c.Court.DisputeStake <= 0 {
		return fmt.Errorf("config.court.dispute_stake must be positive")
	}
	if c.Court.MinReasonLength < 0 {
		return fmt.Errorf("config.court.min_reason_length must not be negative")
	}
	if c.Court.MinInvestmentCents <= 0 {
		return fmt.Errorf("config.court.min_investment_cents must be positive")
	}
	if c.Court.Tier.DAOThresholdCents <= 0 {
		return fmt.Errorf("config.court.tier.dao_threshold_cents must be positive")
	}
	if c.Court.Tier.ExpertPanelSize <= 0 {
		return fmt.Errorf("config.court.tier.expert_panel_size must be positive")
	}
	if c.Court.Tier.ExpertQuorum < 0 || c.Court.Tier.ExpertQuorum > 1 {
		return fmt.Errorf("config.court.tier.expert_quorum must be between 0 and 1")
	}
	switch c.Court.QuorumFailure {
	case "", "uphold":
	default:
		return fmt.Errorf("config.court.quorum_failure must be 'uphold'")
	}
	if c.Settlement.Retries < 0 {
		return fmt.Errorf("config.settlement.retries must not be negative")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "court.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the workspace config, falling back to defaults
// when no court.yml exists. Callers that dereference the result use
// this rather than LoadOptional.
func LoadOrDefault(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = Default("default")
	}
	return cfg, nil
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "goal-market"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  kind: goal-market

court:
  # Window after a creator reports a milestone result during which an
  # eligible investor may open a dispute.
  challenge_window_hours: 48
  # Voting period once a dispute is open.
  voting_period_hours: 72
  # Governance-token units locked by the challenger when opening a dispute.
  dispute_stake: 100
  # Minimum dispute reason length, in characters.
  min_reason_length: 100
  # Minimum investment in the milestone's market to be an eligible challenger.
  min_investment_cents: 100
  tier:
    # Aggregate investment at or above this selects the dao tier ($10,000).
    dao_threshold_cents: 1000000
    # Expert tier: top-N investors by stake form the panel.
    expert_panel_size: 10
    # Fraction of the expert panel that must vote for quorum.
    expert_quorum: 0.5
  # What happens when a vote misses quorum at its deadline.
  quorum_failure: uphold

settlement:
  retries: 5
  backoff_seconds: 1

sweep:
  interval_seconds: 30
`
