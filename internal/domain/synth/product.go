package synth

import "strings"

const maxTerpenes = 5

func product(p map[string]any) string {
	var parts []string

	if s := str(p["name"]); s != "" {
		parts = append(parts, s)
	}
	if s := str(p["type"]); s != "" {
		parts = append(parts, "is a "+s+" product")
	}
	if s := str(lookup(p, "brand", "name")); s != "" {
		parts = append(parts, "by "+s)
	}
	if s := str(lookup(p, "strain", "prevalence", "name")); s != "" {
		parts = append(parts, "of type "+s)
	}
	if cat := str(lookup(p, "category", "name")); cat != "" {
		if sub := str(lookup(p, "subcategory", "name")); sub != "" {
			parts = append(parts, "in category "+cat+" > "+sub)
		} else {
			parts = append(parts, "in category "+cat)
		}
	}

	if variants, ok := p["variants"].([]any); ok && len(variants) > 0 {
		if v0, ok := variants[0].(map[string]any); ok {
			parts = append(parts, variantParts(v0)...)
		}
	}

	if terps := terpenes(p); len(terps) > 0 {
		parts = append(parts, "terpenes: "+strings.Join(terps, ", "))
	}

	return sentence(parts)
}

func variantParts(v map[string]any) []string {
	var parts []string
	if s := str(v["name"]); s != "" {
		parts = append(parts, "available as "+s)
	}
	if s := str(first(lookup(v, "labTests", "thc", "value"))); s != "" {
		parts = append(parts, "THC approx "+s+"%")
	}
	if s := str(first(lookup(v, "labTests", "cbd", "value"))); s != "" {
		parts = append(parts, "CBD approx "+s+"%")
	}
	if s := str(v["price"]); s != "" {
		parts = append(parts, "price "+s)
	}
	if s := str(v["promoPrice"]); s != "" {
		parts = append(parts, "promo "+s)
	}
	return parts
}

func terpenes(p map[string]any) []string {
	list, ok := lookup(p, "strain", "terpenes").([]any)
	if !ok {
		return nil
	}
	var names []string
	for _, t := range list {
		m, ok := t.(map[string]any)
		if !ok {
			continue
		}
		if s := str(m["name"]); s != "" {
			names = append(names, s)
		}
		if len(names) == maxTerpenes {
			break
		}
	}
	return names
}
