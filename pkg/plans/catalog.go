package plans

import (
	"fmt"
	"strings"

	"github.com/notewise/notewise/pkg/apperrors"
)

// tierOrder is the display and upgrade order
var tierOrder = []PlanID{PlanFree, PlanBasic, PlanPremium, PlanEnterprise}

// Catalog is the immutable set of tiers. Safe for concurrent use.
type Catalog struct {
	plans   map[PlanID]*Plan
	byPrice map[string]PlanID
}

// DefaultPlans returns the built-in tier table without price ids
func DefaultPlans() []*Plan {
	return []*Plan{
		{
			ID:                      PlanFree,
			Name:                    "Free",
			TransformationsPerMonth: 5,
			MaxNoteLength:           2000,
			MaxProjects:             3,
			TeamMembers:             1,
			ExportFormats:           []string{"txt"},
		},
		{
			ID:                      PlanBasic,
			Name:                    "Basic",
			TransformationsPerMonth: 50,
			MaxNoteLength:           5000,
			MaxProjects:             10,
			TeamMembers:             1,
			ExportFormats:           []string{"txt", "md", "pdf"},
		},
		{
			ID:                      PlanPremium,
			Name:                    "Premium",
			TransformationsPerMonth: 500,
			MaxNoteLength:           20000,
			MaxProjects:             Unlimited,
			TeamMembers:             5,
			ExportFormats:           []string{"txt", "md", "pdf", "docx"},
			CustomBranding:          true,
			PrioritySupport:         true,
			ImageGeneration:         true,
		},
		{
			ID:                      PlanEnterprise,
			Name:                    "Enterprise",
			TransformationsPerMonth: Unlimited,
			MaxNoteLength:           50000,
			MaxProjects:             Unlimited,
			TeamMembers:             50,
			ExportFormats:           []string{"txt", "md", "pdf", "docx", "html"},
			CustomBranding:          true,
			PrioritySupport:         true,
			APIAccess:               true,
			ImageGeneration:         true,
		},
	}
}

// NewCatalog builds a catalog from plans and applies the price mapping.
// Prices in the map override any price id already set on a plan.
func NewCatalog(plans []*Plan, prices map[PlanID]string) (*Catalog, error) {
	c := &Catalog{
		plans:   make(map[PlanID]*Plan, len(plans)),
		byPrice: make(map[string]PlanID, len(plans)),
	}

	for _, p := range plans {
		id, ok := canonical(p.ID)
		if !ok {
			return nil, &apperrors.ConfigurationError{Setting: "plans", Message: fmt.Sprintf("unknown plan id %q", p.ID)}
		}
		if _, dup := c.plans[id]; dup {
			return nil, &apperrors.ConfigurationError{Setting: "plans", Message: fmt.Sprintf("plan %q defined twice", id)}
		}
		cp := p.clone()
		cp.ID = id
		if price, ok := prices[id]; ok && price != "" {
			cp.PriceID = price
		}
		c.plans[id] = cp
	}

	for _, id := range tierOrder {
		p, ok := c.plans[id]
		if !ok || p.PriceID == "" {
			continue
		}
		if other, dup := c.byPrice[p.PriceID]; dup {
			return nil, &apperrors.ConfigurationError{
				Setting: "prices",
				Message: fmt.Sprintf("price %s mapped to both %s and %s", p.PriceID, other, id),
			}
		}
		c.byPrice[p.PriceID] = id
	}

	return c, nil
}

// DefaultCatalog builds the built-in tier table with the given prices
func DefaultCatalog(prices map[PlanID]string) (*Catalog, error) {
	return NewCatalog(DefaultPlans(), prices)
}

// Resolve normalizes a raw plan id, mapping the team alias to enterprise
func (c *Catalog) Resolve(raw string) (PlanID, error) {
	id, ok := canonical(PlanID(strings.ToLower(strings.TrimSpace(raw))))
	if !ok {
		return "", &apperrors.UnknownPlanError{PlanID: raw}
	}
	if _, exists := c.plans[id]; !exists {
		return "", &apperrors.UnknownPlanError{PlanID: raw}
	}
	return id, nil
}

// Get returns the plan for id
func (c *Catalog) Get(id PlanID) (*Plan, error) {
	resolved, err := c.Resolve(string(id))
	if err != nil {
		return nil, err
	}
	return c.plans[resolved].clone(), nil
}

// PlanForPrice returns the plan mapped to a provider price id
func (c *Catalog) PlanForPrice(priceID string) (*Plan, error) {
	id, ok := c.byPrice[priceID]
	if !ok {
		return nil, &apperrors.UnknownPlanError{PlanID: "price:" + priceID}
	}
	return c.plans[id].clone(), nil
}

// Plans returns every plan in tier order
func (c *Catalog) Plans() []*Plan {
	out := make([]*Plan, 0, len(c.plans))
	for _, id := range tierOrder {
		if p, ok := c.plans[id]; ok {
			out = append(out, p.clone())
		}
	}
	return out
}

// NextTier returns the plan one step above id, or nil at the top
func (c *Catalog) NextTier(id PlanID) *Plan {
	for i, t := range tierOrder {
		if t != id {
			continue
		}
		for _, next := range tierOrder[i+1:] {
			if p, ok := c.plans[next]; ok {
				return p.clone()
			}
		}
	}
	return nil
}

// Validate checks that every paid tier is purchasable and that limits are sane
func (c *Catalog) Validate() error {
	if _, ok := c.plans[PlanFree]; !ok {
		return &apperrors.ConfigurationError{Setting: "plans", Message: "free plan is required"}
	}

	for _, id := range tierOrder {
		p, ok := c.plans[id]
		if !ok {
			continue
		}
		if p.TransformationsPerMonth < Unlimited {
			return &apperrors.ConfigurationError{Setting: "plans." + string(id), Message: "transformations_per_month must be >= -1"}
		}
		if p.MaxProjects < Unlimited {
			return &apperrors.ConfigurationError{Setting: "plans." + string(id), Message: "max_projects must be >= -1"}
		}
		if p.MaxNoteLength <= 0 {
			return &apperrors.ConfigurationError{Setting: "plans." + string(id), Message: "max_note_length must be positive"}
		}
		if !p.IsFree() && p.PriceID == "" {
			return &apperrors.ConfigurationError{Setting: "prices." + string(id), Message: "paid plan has no price id"}
		}
		if p.IsFree() && p.PriceID != "" {
			return &apperrors.ConfigurationError{Setting: "prices.free", Message: "free plan must not have a price id"}
		}
	}

	return nil
}

func canonical(id PlanID) (PlanID, bool) {
	switch id {
	case PlanFree, PlanBasic, PlanPremium, PlanEnterprise:
		return id, true
	case PlanTeam:
		return PlanEnterprise, true
	default:
		return "", false
	}
}
