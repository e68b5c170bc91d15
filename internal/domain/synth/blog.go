package synth

import (
	"regexp"
	"strings"
)

var htmlTag = regexp.MustCompile(`<[^>]*>`)

func blog(b map[string]any) string {
	var parts []string

	if s := str(b["title"]); s != "" {
		parts = append(parts, "Blog post titled '"+s+"'")
	}
	if s := strings.TrimSpace(htmlTag.ReplaceAllString(str(b["excerpt"]), "")); s != "" {
		parts = append(parts, "Excerpt: "+s)
	}
	if s := str(lookup(b, "author", "node", "nickname")); s != "" {
		parts = append(parts, "written by "+s)
	}
	if s := str(b["date"]); s != "" {
		parts = append(parts, "published on "+s)
	}
	if cats := categoryNames(b); len(cats) > 0 {
		parts = append(parts, "in categories: "+strings.Join(cats, ", "))
	}
	if s := str(lookup(b, "featuredImage", "node", "altText")); s != "" {
		parts = append(parts, "featured image showing "+s)
	}

	return sentence(parts)
}

func categoryNames(b map[string]any) []string {
	edges, ok := lookup(b, "categories", "edges").([]any)
	if !ok {
		return nil
	}
	var names []string
	for _, e := range edges {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if s := str(lookup(m, "node", "name")); s != "" {
			names = append(names, s)
		}
	}
	return names
}
