package domain

import "github.com/shopspring/decimal"

// BulkDiscountRule grants a percentage off a line once its quantity reaches
// MinQuantity. A rule is scoped to a product, to a category (ProductID empty),
// or globally (both empty).
type BulkDiscountRule struct {
	ID                 string          `json:"id"`
	ProductID          string          `json:"product_id,omitempty"`
	CategoryID         string          `json:"category_id,omitempty"`
	MinQuantity        int             `json:"min_quantity"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	IsActive           bool            `json:"is_active"`
}

type ruleScope int

const (
	scopeNone ruleScope = iota
	scopeGlobal
	scopeCategory
	scopeProduct
)

func (r BulkDiscountRule) scopeFor(item OrderItem) ruleScope {
	switch {
	case r.ProductID != "":
		if r.ProductID == item.ProductID {
			return scopeProduct
		}
	case r.CategoryID != "":
		if item.CategoryID != "" && r.CategoryID == item.CategoryID {
			return scopeCategory
		}
	default:
		return scopeGlobal
	}
	return scopeNone
}

// BestRule selects the rule for one line. Tiers are tried from most to least
// specific and the first tier holding a rule whose threshold the line meets
// decides; inside it the highest percentage wins. Tiers are never compared.
func BestRule(item OrderItem, rules []BulkDiscountRule) (BulkDiscountRule, bool) {
	tiers := map[ruleScope][]BulkDiscountRule{}
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		if scope := rule.scopeFor(item); scope != scopeNone {
			tiers[scope] = append(tiers[scope], rule)
		}
	}

	for _, scope := range []ruleScope{scopeProduct, scopeCategory, scopeGlobal} {
		var best BulkDiscountRule
		found := false
		for _, rule := range tiers[scope] {
			if item.Quantity < rule.MinQuantity {
				continue
			}
			if !found || rule.DiscountPercentage.GreaterThan(best.DiscountPercentage) {
				best = rule
				found = true
			}
		}
		if found {
			return best, true
		}
	}
	return BulkDiscountRule{}, false
}

// ApplyBulkDiscounts returns the bulk discount for an order placed by a user
// with the given role. Consumers never get one. Each line is rounded before
// summing.
func ApplyBulkDiscounts(role Role, items []OrderItem, rules []BulkDiscountRule) decimal.Decimal {
	if role != RoleDistributor {
		return decimal.Zero
	}

	total := decimal.Zero
	for _, item := range items {
		rule, ok := BestRule(item, rules)
		if !ok {
			continue
		}
		total = total.Add(Percent(item.TotalPrice, rule.DiscountPercentage))
	}
	return total
}
