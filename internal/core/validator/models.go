package validator

import "strings"

const (
	topTierMarker = "gpt-4"
	midTierMarker = "gpt-3.5"
)

var (
	midTierExtra = map[string]struct{}{
		"text-davinci-003": {},
		"text-davinci-002": {},
		"code-davinci-002": {},
	}
	legacyModels = map[string]struct{}{
		"text-curie-001":   {},
		"text-babbage-001": {},
		"text-ada-001":     {},
		"davinci":          {},
		"curie":            {},
		"babbage":          {},
		"ada":              {},
	}
)

// ClassifyModels sorts model ids into tiers, keeping listing order.
func ClassifyModels(ids []string) ModelTiers {
	tiers := ModelTiers{Top: []string{}, Mid: []string{}, Legacy: []string{}}
	for _, id := range ids {
		if strings.Contains(id, topTierMarker) {
			tiers.Top = append(tiers.Top, id)
		}
		if strings.Contains(id, midTierMarker) {
			tiers.Mid = append(tiers.Mid, id)
		}
		if _, ok := midTierExtra[id]; ok {
			tiers.Mid = append(tiers.Mid, id)
		}
		if _, ok := legacyModels[id]; ok {
			tiers.Legacy = append(tiers.Legacy, id)
		}
	}
	return tiers
}
