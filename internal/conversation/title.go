// Package conversation – chat title derivation.
package conversation

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultTitle is the placeholder for chats created without a user prompt
// (e.g. an assistant-first exchange).
const DefaultTitle = "New Chat"

// defaultTitleMaxRunes caps derived titles when no limit is configured.
const defaultTitleMaxRunes = 40

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

// separatorRE rewrites filename separators to spaces.
var separatorRE = regexp.MustCompile(`[_\-]+`)

// DeriveTitle builds a chat title by truncating the first user prompt:
// whitespace is collapsed and the result is clipped to maxRunes (rune-safe).
// maxRunes <= 0 selects the default cap. An empty prompt yields DefaultTitle.
func DeriveTitle(content string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = defaultTitleMaxRunes
	}
	s := whitespaceRE.ReplaceAllString(strings.TrimSpace(content), " ")
	if s == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(s) > maxRunes {
		s = string([]rune(s)[:maxRunes])
	}
	return s
}

// TitleFromFilename turns an uploaded document's filename into a presentable
// default chat title: extension stripped, separators spaced, words cased for
// the given locale ("annual_report-2025.pdf" -> "Annual Report 2025").
func TitleFromFilename(name string, tag language.Tag) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = separatorRE.ReplaceAllString(base, " ")
	base = whitespaceRE.ReplaceAllString(strings.TrimSpace(base), " ")
	if base == "" {
		return DefaultTitle
	}
	if tag == language.Und {
		tag = language.English
	}
	return cases.Title(tag).String(base)
}
