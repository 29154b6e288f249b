// Package plans holds the static subscription tier catalog: per-tier limits,
// feature flags and the server-side price mapping.
package plans

import "strings"

// PlanID identifies a subscription tier
type PlanID string

const (
	PlanFree       PlanID = "free"
	PlanBasic      PlanID = "basic"
	PlanPremium    PlanID = "premium"
	PlanEnterprise PlanID = "enterprise"
)

// PlanTeam is accepted as an alias of PlanEnterprise
const PlanTeam PlanID = "team"

// Unlimited is the sentinel for limits without a ceiling
const Unlimited = -1

// Feature is a boolean entitlement key
type Feature string

const (
	FeatureCustomBranding  Feature = "customBranding"
	FeaturePrioritySupport Feature = "prioritySupport"
	FeatureAPIAccess       Feature = "apiAccess"
	FeatureImageGeneration Feature = "imageGeneration"
)

// AllFeatures lists every feature key in display order
var AllFeatures = []Feature{
	FeatureCustomBranding,
	FeaturePrioritySupport,
	FeatureAPIAccess,
	FeatureImageGeneration,
}

// ParseFeature normalizes a feature key. The second return is false for
// unknown keys.
func ParseFeature(raw string) (Feature, bool) {
	for _, f := range AllFeatures {
		if strings.EqualFold(string(f), strings.TrimSpace(raw)) {
			return f, true
		}
	}
	return "", false
}

// Plan describes the entitlements of one tier
type Plan struct {
	ID                      PlanID   `json:"id" yaml:"id"`
	Name                    string   `json:"name" yaml:"name"`
	TransformationsPerMonth int      `json:"transformationsPerMonth" yaml:"transformations_per_month"`
	MaxNoteLength           int      `json:"maxNoteLength" yaml:"max_note_length"`
	MaxProjects             int      `json:"maxProjects" yaml:"max_projects"`
	TeamMembers             int      `json:"teamMembers" yaml:"team_members"`
	ExportFormats           []string `json:"exportFormats" yaml:"export_formats"`
	CustomBranding          bool     `json:"customBranding" yaml:"custom_branding"`
	PrioritySupport         bool     `json:"prioritySupport" yaml:"priority_support"`
	APIAccess               bool     `json:"apiAccess" yaml:"api_access"`
	ImageGeneration         bool     `json:"imageGeneration" yaml:"image_generation"`

	// PriceID maps the tier to the payment provider. Never serialized.
	PriceID string `json:"-" yaml:"price_id"`
}

// IsFree reports whether the plan can be used without a subscription
func (p *Plan) IsFree() bool {
	return p.ID == PlanFree
}

// HasFeature reports whether the plan grants a feature flag
func (p *Plan) HasFeature(f Feature) bool {
	switch f {
	case FeatureCustomBranding:
		return p.CustomBranding
	case FeaturePrioritySupport:
		return p.PrioritySupport
	case FeatureAPIAccess:
		return p.APIAccess
	case FeatureImageGeneration:
		return p.ImageGeneration
	default:
		return false
	}
}

// Features returns the flag map used by entitlement snapshots
func (p *Plan) Features() map[Feature]bool {
	out := make(map[Feature]bool, len(AllFeatures))
	for _, f := range AllFeatures {
		out[f] = p.HasFeature(f)
	}
	return out
}

func (p *Plan) clone() *Plan {
	cp := *p
	cp.ExportFormats = append([]string(nil), p.ExportFormats...)
	return &cp
}
