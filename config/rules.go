package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkflowRule declares the event keys of one workflow type.
// A key is "<tool_slug>.<event_type>".
type WorkflowRule struct {
	Type        string        `yaml:"type"`
	Start       []string      `yaml:"start"`
	Continue    []string      `yaml:"continue"`
	End         []string      `yaml:"end"`
	MaxDuration time.Duration `yaml:"max_duration"`
}

// RuleFile is the on-disk workflow rule table
type RuleFile struct {
	Workflows []WorkflowRule `yaml:"workflows"`
}

// EnrichmentTables holds the static lookup tables used by the enricher
type EnrichmentTables struct {
	// ToolCategories maps tool_slug to a category tag
	ToolCategories map[string]string `yaml:"tool_categories"`
	// Severities maps "{action}_{action_result}" to a severity
	Severities map[string]string `yaml:"severities"`
}

// DefaultRules returns the built-in workflow rule table
func DefaultRules() []WorkflowRule {
	return []WorkflowRule{
		{
			Type:     "ci_cd_pipeline",
			Start:    []string{"github.push", "gitlab.push"},
			Continue: []string{"jenkins.build_started", "jenkins.build_completed", "sonarqube.analysis_completed"},
			End:      []string{"argocd.deployment"},
		},
		{
			Type:     "user_onboarding",
			Start:    []string{"keycloak.user_created"},
			Continue: []string{"ldap.user_synced", "grafana.user_provisioned", "github.org_invite"},
			End:      []string{"keycloak.onboarding_completed"},
		},
		{
			Type:     "incident_response",
			Start:    []string{"prometheus.alert_fired"},
			Continue: []string{"grafana.dashboard_viewed", "kibana.logs_searched"},
			End:      []string{"prometheus.alert_resolved"},
		},
	}
}

// DefaultEnrichmentTables returns the built-in enrichment tables
func DefaultEnrichmentTables() *EnrichmentTables {
	return &EnrichmentTables{
		ToolCategories: map[string]string{
			"github":     "source_control",
			"gitlab":     "source_control",
			"jenkins":    "ci_cd",
			"argocd":     "ci_cd",
			"sonarqube":  "code_quality",
			"keycloak":   "identity",
			"ldap":       "identity",
			"grafana":    "observability",
			"prometheus": "observability",
			"kibana":     "observability",
			"terraform":  "infrastructure",
			"kubernetes": "infrastructure",
		},
		Severities: map[string]string{
			"login_failure":              "warning",
			"launch_failure":             "error",
			"permission_change_success":  "warning",
			"permission_change_failure":  "error",
			"delete_success":             "warning",
			"delete_failure":             "error",
			"security_violation_failure": "critical",
			"config_change_failure":      "error",
			"sync_failure":               "error",
			"deployment_failure":         "error",
		},
	}
}

// LoadRules reads the workflow rule table. An empty path yields the built-in rules.
func LoadRules(path string) ([]WorkflowRule, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rule table
func ParseRules(data []byte) ([]WorkflowRule, error) {
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	if err := ValidateRules(file.Workflows); err != nil {
		return nil, err
	}
	return file.Workflows, nil
}

// ValidateRules checks that every rule is named once, has start and end keys,
// and that every key is well formed
func ValidateRules(rules []WorkflowRule) error {
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.Type == "" {
			return fmt.Errorf("workflow rule %d: type is required", i)
		}
		if seen[r.Type] {
			return fmt.Errorf("workflow rule %q: duplicate type", r.Type)
		}
		seen[r.Type] = true
		if len(r.Start) == 0 {
			return fmt.Errorf("workflow rule %q: at least one start key is required", r.Type)
		}
		if len(r.End) == 0 {
			return fmt.Errorf("workflow rule %q: at least one end key is required", r.Type)
		}
		if r.MaxDuration < 0 {
			return fmt.Errorf("workflow rule %q: max_duration must not be negative", r.Type)
		}
		for _, set := range [][]string{r.Start, r.Continue, r.End} {
			for _, key := range set {
				if !validEventKey(key) {
					return fmt.Errorf("workflow rule %q: malformed event key %q", r.Type, key)
				}
			}
		}
	}
	return nil
}

// LoadEnrichmentTables reads the enrichment tables. An empty path yields the
// built-in tables. A missing or unreadable file returns empty tables together
// with the error so the caller can keep running in degraded mode.
func LoadEnrichmentTables(path string) (*EnrichmentTables, error) {
	if path == "" {
		return DefaultEnrichmentTables(), nil
	}
	empty := &EnrichmentTables{
		ToolCategories: map[string]string{},
		Severities:     map[string]string{},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return empty, fmt.Errorf("failed to read enrichment file: %w", err)
	}
	var tables EnrichmentTables
	if err := yaml.Unmarshal(data, &tables); err != nil {
		return empty, fmt.Errorf("failed to parse enrichment file: %w", err)
	}
	if tables.ToolCategories == nil {
		tables.ToolCategories = map[string]string{}
	}
	if tables.Severities == nil {
		tables.Severities = map[string]string{}
	}
	return &tables, nil
}

func validEventKey(key string) bool {
	dot := strings.Index(key, ".")
	return dot > 0 && dot < len(key)-1
}
