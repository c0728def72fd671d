package main

import (
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// PolicyFile is the YAML shape of the policy document. Any field left empty
// falls back to the built-in defaults below.
type PolicyFile struct {
	ApprovedDomains  []string          `yaml:"approved_domains"`
	ExternalServices []string          `yaml:"external_ai_services"`
	MaliciousDomains []string          `yaml:"malicious_domains"`
	Patterns         []PatternRule     `yaml:"sensitive_patterns"`
	DepartmentRisk   map[string]string `yaml:"department_risk_levels"`
	MediumThreshold  int               `yaml:"medium_threshold"`
	HighThreshold    int               `yaml:"high_threshold"`
	OverridePayload  float64           `yaml:"override_payload_kb"`
}

type PatternRule struct {
	Name     string `yaml:"name"`
	Regex    string `yaml:"regex"`
	Severity string `yaml:"severity"` // "high" or "normal"
}

// Policy is the compiled, immutable policy context. All methods are pure and
// safe for concurrent use, which is what lets pipeline runs fan out freely.
type Policy struct {
	approved  []string
	external  []string
	malicious []string
	patterns  []compiledPattern
	deptRisk  map[string]string

	mediumThreshold   int
	highThreshold     int
	overridePayloadKB float64
}

type compiledPattern struct {
	name     string
	re       *regexp.Regexp
	highRisk bool
}

// Category boundaries that are fixed by the scoring scheme itself; only the
// medium and high cut points are configurable.
const (
	approvedScoreMax = 20
	criticalScoreMin = 91
	maxRiskScore     = 100
)

func defaultPolicyFile() PolicyFile {
	return PolicyFile{
		ApprovedDomains: []string{
			"internal-ai.company.local",
			"ai.company.internal",
			"approved-partner.com",
		},
		ExternalServices: []string{
			"chat.openai.com",
			"chatgpt.com",
			"api.openai.com",
			"api.anthropic.com",
			"claude.ai",
			"gemini.google.com",
			"api.cohere.ai",
			"bard.google.com",
		},
		MaliciousDomains: []string{
			"evil-phishing-site.com",
			"malware-distributor.net",
			"suspicious-internal-proxy.info",
			"data-exfiltration-test.org",
		},
		Patterns: []PatternRule{
			{Name: "iban", Regex: `[A-Z]{2}[0-9]{2}[A-Z0-9]{10,30}`, Severity: "high"},
			{Name: "account_number", Regex: `\b\d{8,12}\b`, Severity: "high"},
			{Name: "email", Regex: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, Severity: "normal"},
			{Name: "phone", Regex: `\b\+?\d{1,3}[-.\s]?\(?\d{1,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{2,9}\b`, Severity: "normal"},
			{Name: "monetary_large", Regex: `€\s*\d{1,3}(,\d{3})*(\.\d{2})?[KMB]?`, Severity: "normal"},
		},
		DepartmentRisk: map[string]string{
			"Fraud Detection":    "high_sensitivity",
			"Investment Banking": "high_sensitivity",
			"Risk Analytics":     "high_sensitivity",
			"Data Engineering":   "high_sensitivity",
			"Compliance":         "medium_sensitivity",
			"Customer Service":   "medium_sensitivity",
			"IT Security":        "medium_sensitivity",
			"HR":                 "low_sensitivity",
			"Marketing":          "low_sensitivity",
			"Product Management": "low_sensitivity",
		},
		MediumThreshold: 40,
		HighThreshold:   70,
		OverridePayload: 10,
	}
}

// LoadPolicy compiles the policy document at path into an immutable Policy.
// An empty path loads the built-in defaults. Malformed files or patterns are
// ConfigErrors.
func LoadPolicy(path string) (*Policy, error) {
	pf := defaultPolicyFile()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, configErrorf("policy_path", "read %s: %v", path, err)
		}
		var loaded PolicyFile
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return nil, configErrorf("policy_path", "parse %s: %v", path, err)
		}
		mergePolicyFile(&pf, loaded)
	}

	return compilePolicy(pf)
}

func mergePolicyFile(base *PolicyFile, loaded PolicyFile) {
	if len(loaded.ApprovedDomains) > 0 {
		base.ApprovedDomains = loaded.ApprovedDomains
	}
	if len(loaded.ExternalServices) > 0 {
		base.ExternalServices = loaded.ExternalServices
	}
	if len(loaded.MaliciousDomains) > 0 {
		base.MaliciousDomains = loaded.MaliciousDomains
	}
	if len(loaded.Patterns) > 0 {
		base.Patterns = loaded.Patterns
	}
	if len(loaded.DepartmentRisk) > 0 {
		base.DepartmentRisk = loaded.DepartmentRisk
	}
	if loaded.MediumThreshold != 0 {
		base.MediumThreshold = loaded.MediumThreshold
	}
	if loaded.HighThreshold != 0 {
		base.HighThreshold = loaded.HighThreshold
	}
	if loaded.OverridePayload != 0 {
		base.OverridePayload = loaded.OverridePayload
	}
}

func compilePolicy(pf PolicyFile) (*Policy, error) {
	if pf.MediumThreshold <= approvedScoreMax {
		return nil, configErrorf("medium_threshold", "must be > %d, got %d", approvedScoreMax, pf.MediumThreshold)
	}
	if pf.HighThreshold <= pf.MediumThreshold || pf.HighThreshold >= criticalScoreMin {
		return nil, configErrorf("high_threshold", "must be between %d and %d exclusive, got %d", pf.MediumThreshold, criticalScoreMin, pf.HighThreshold)
	}
	if pf.OverridePayload <= 0 {
		return nil, configErrorf("override_payload_kb", "must be > 0, got %v", pf.OverridePayload)
	}

	p := &Policy{
		approved:          pf.ApprovedDomains,
		external:          pf.ExternalServices,
		malicious:         pf.MaliciousDomains,
		deptRisk:          pf.DepartmentRisk,
		mediumThreshold:   pf.MediumThreshold,
		highThreshold:     pf.HighThreshold,
		overridePayloadKB: pf.OverridePayload,
	}
	for _, rule := range pf.Patterns {
		if strings.TrimSpace(rule.Name) == "" {
			return nil, configErrorf("sensitive_patterns", "pattern with empty name")
		}
		re, err := regexp.Compile("(?i)" + rule.Regex)
		if err != nil {
			return nil, configErrorf("sensitive_patterns", "pattern %q: %v", rule.Name, err)
		}
		p.patterns = append(p.patterns, compiledPattern{
			name:     rule.Name,
			re:       re,
			highRisk: strings.EqualFold(rule.Severity, "high"),
		})
	}
	return p, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		// Bare hosts without a scheme still need to match.
		return strings.ToLower(strings.SplitN(rawURL, "/", 2)[0])
	}
	return strings.ToLower(u.Hostname())
}

func hostMatchesAny(host string, domains []string) bool {
	for _, d := range domains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) || strings.Contains(host, d) {
			return true
		}
	}
	return false
}

func (p *Policy) IsApprovedDomain(rawURL string) bool {
	return hostMatchesAny(hostOf(rawURL), p.approved)
}

func (p *Policy) IsExternalAIService(rawURL string) bool {
	return hostMatchesAny(hostOf(rawURL), p.external)
}

func (p *Policy) IsMaliciousDomain(rawURL string) bool {
	return hostMatchesAny(hostOf(rawURL), p.malicious)
}

// ScanSensitive returns the names of matching sensitive-data rules, in rule
// order. A rule matches at most once.
func (p *Policy) ScanSensitive(text string) []string {
	var found []string
	for _, pat := range p.patterns {
		if pat.re.MatchString(text) {
			found = append(found, pat.name)
		}
	}
	return found
}

func (p *Policy) isHighSeverity(patternName string) bool {
	for _, pat := range p.patterns {
		if pat.name == patternName {
			return pat.highRisk
		}
	}
	return false
}

// ThresholdFor maps a score to its category.
func (p *Policy) ThresholdFor(score int) RiskCategory {
	switch {
	case score <= approvedScoreMax:
		return CategoryApproved
	case score <= p.mediumThreshold:
		return CategoryLow
	case score <= p.highThreshold:
		return CategoryMedium
	case score < criticalScoreMin:
		return CategoryHigh
	default:
		return CategoryCritical
	}
}

func (p *Policy) DepartmentWeight(dept string) string {
	if lvl, ok := p.deptRisk[dept]; ok {
		return lvl
	}
	return "medium_sensitivity"
}

func (p *Policy) MediumThreshold() int       { return p.mediumThreshold }
func (p *Policy) OverridePayloadKB() float64 { return p.overridePayloadKB }
func (p *Policy) ApprovedDomains() []string  { return p.approved }
func (p *Policy) ExternalServices() []string { return p.external }
func (p *Policy) MaliciousDomains() []string { return p.malicious }

// Screen runs the fast local checks. It is the only gate allowed to
// short-circuit the reasoning call, so it must stay cheap and deterministic.
func Screen(logEntry RequestLog, policy *Policy) PreScreenVerdict {
	matches := policy.ScanSensitive(logEntry.PayloadSnippet)
	v := PreScreenVerdict{
		FastTrack:        policy.IsApprovedDomain(logEntry.RequestURL) && len(matches) == 0,
		Malicious:        policy.IsMaliciousDomain(logEntry.RequestURL),
		SensitiveMatches: matches,
	}
	for _, name := range matches {
		if policy.isHighSeverity(name) {
			v.HighSeverity = true
			break
		}
	}
	return v
}
