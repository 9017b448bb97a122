package match

import "strings"

// defaultGenericDomains lists consumer mail providers that carry no
// company signal and are excluded from domain-tier matching.
var defaultGenericDomains = []string{
	"gmail.com", "googlemail.com",
	"yahoo.com", "yahoo.co.uk", "ymail.com",
	"outlook.com", "hotmail.com", "live.com", "msn.com",
	"icloud.com", "me.com", "mac.com",
	"aol.com", "protonmail.com", "proton.me",
	"gmx.com", "gmx.net", "mail.com", "zoho.com", "yandex.com",
	"comcast.net", "verizon.net", "att.net", "sbcglobal.net",
}

// Config holds every matching threshold as explicit state passed into the
// pipeline constructor, so test suites can exercise alternate regimes
// without shared globals.
type Config struct {
	// Routing bands.
	AutoMatchThreshold float64 `yaml:"auto_match_threshold" mapstructure:"auto_match_threshold"`
	ReviewLowerBound   float64 `yaml:"review_lower_bound" mapstructure:"review_lower_bound"`

	// Tier 2: name + company.
	NameSimilarityMin    float64 `yaml:"name_similarity_min" mapstructure:"name_similarity_min"`
	CompanySimilarityMin float64 `yaml:"company_similarity_min" mapstructure:"company_similarity_min"`
	NameWeight           float64 `yaml:"name_weight" mapstructure:"name_weight"`
	CompanyWeight        float64 `yaml:"company_weight" mapstructure:"company_weight"`
	NameCompanyCap       float64 `yaml:"name_company_cap" mapstructure:"name_company_cap"`

	// Tier 3: domain.
	DomainConfidence          float64 `yaml:"domain_confidence" mapstructure:"domain_confidence"`
	DomainAmbiguousConfidence float64 `yaml:"domain_ambiguous_confidence" mapstructure:"domain_ambiguous_confidence"`

	// Tier 4: phone.
	PhoneConfidence float64 `yaml:"phone_confidence" mapstructure:"phone_confidence"`

	// Tier 5: fuzzy name within company candidates.
	FuzzyNameMin float64 `yaml:"fuzzy_name_min" mapstructure:"fuzzy_name_min"`
	FuzzyNameCap float64 `yaml:"fuzzy_name_cap" mapstructure:"fuzzy_name_cap"`

	// Enrichment corroboration.
	EnrichmentBonus       float64 `yaml:"enrichment_bonus" mapstructure:"enrichment_bonus"`
	EnrichmentCap         float64 `yaml:"enrichment_cap" mapstructure:"enrichment_cap"`
	EnrichmentTimeoutSecs int     `yaml:"enrichment_timeout_secs" mapstructure:"enrichment_timeout_secs"`

	// Lookup bounds and domain classification.
	CandidateLimit int      `yaml:"candidate_limit" mapstructure:"candidate_limit"`
	GenericDomains []string `yaml:"generic_domains" mapstructure:"generic_domains"`

	// TierOrder optionally reorders the cascade. Methods absent from the
	// list are skipped entirely. Empty means the standard order.
	TierOrder []string `yaml:"tier_order" mapstructure:"tier_order"`
}

// DefaultConfig returns the contract thresholds from the resolution design.
func DefaultConfig() Config {
	return Config{
		AutoMatchThreshold:        0.85,
		ReviewLowerBound:          0.40,
		NameSimilarityMin:         0.70,
		CompanySimilarityMin:      0.70,
		NameWeight:                0.60,
		CompanyWeight:             0.40,
		NameCompanyCap:            0.99,
		DomainConfidence:          0.75,
		DomainAmbiguousConfidence: 0.65,
		PhoneConfidence:           0.65,
		FuzzyNameMin:              0.40,
		FuzzyNameCap:              0.65,
		EnrichmentBonus:           0.10,
		EnrichmentCap:             0.95,
		EnrichmentTimeoutSecs:     10,
		CandidateLimit:            25,
		GenericDomains:            defaultGenericDomains,
	}
}

// IsGenericDomain reports whether a domain belongs to a consumer mail
// provider and therefore carries no company signal.
func (c Config) IsGenericDomain(domain string) bool {
	d := strings.ToLower(strings.TrimSpace(domain))
	if d == "" {
		return true
	}
	generics := c.GenericDomains
	if len(generics) == 0 {
		generics = defaultGenericDomains
	}
	for _, g := range generics {
		if d == g {
			return true
		}
	}
	return false
}
