package synth

import (
	"strings"
	"unicode"
)

var weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

func store(s map[string]any) string {
	var parts []string

	if v := str(s["title"]); v != "" {
		parts = append(parts, "Store: "+v)
	}
	if v := str(s["slug"]); v != "" {
		parts = append(parts, "Slug: "+v)
	}
	if v := str(s["location_status"]); v != "" {
		parts = append(parts, "Status: "+v)
	}

	var addr []string
	for _, v := range []any{s["address_1"], s["city"], lookup(s, "state", "abbr"), s["zip"]} {
		if t := str(v); t != "" {
			addr = append(addr, t)
		}
	}
	if len(addr) > 0 {
		parts = append(parts, "Address: "+strings.Join(addr, ", "))
	}

	if v := str(s["type"]); v != "" {
		parts = append(parts, "Type: "+v)
	}
	if v := str(s["medicalStoreId"]); v != "" {
		parts = append(parts, "Medical Store ID: "+v)
	}
	if v := str(s["recreationalStoreId"]); v != "" {
		parts = append(parts, "Recreational Store ID: "+v)
	}
	if h := hours(s); h != "" {
		parts = append(parts, "Hours: "+h)
	}

	return strings.Join(parts, " | ")
}

// hours renders the days that carry both an open and a close time.
// Feeds name the closing time "closed".
func hours(s map[string]any) string {
	week, ok := s["hours"].(map[string]any)
	if !ok {
		return ""
	}
	var days []string
	for _, d := range weekdays {
		day, ok := week[d].(map[string]any)
		if !ok {
			continue
		}
		open, closed := str(day["open"]), str(day["closed"])
		if open == "" || closed == "" {
			continue
		}
		days = append(days, title(d)+" "+open+" - "+closed)
	}
	return strings.Join(days, "; ")
}

func title(s string) string {
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
