package utils

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// MergeTemplate substitutes {{Field}} placeholders with contact values.
// Unknown placeholders render as empty strings; rendering never fails.
func MergeTemplate(template string, fields map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		key := strings.TrimSpace(strings.Trim(match, "{}"))
		return fields[key]
	})
}
