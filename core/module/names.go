package module

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	slugStripRegex  = regexp.MustCompile(`[^\w\s-]`)
	slugHyphenRegex = regexp.MustCompile(`[-\s]+`)
)

// Names holds the external identifiers derived from a type's camel case name.
type Names struct {
	Camel string // FearConditioning
	Name  string // fear conditioning
	Snake string // fear_conditioning
	Tag   string // FEAR_CONDITIONING
	Slug  string // fear-conditioning
	Title string // Fear conditioning
}

// DeriveNames derives every identifier of a registered type from its camel case name.
func DeriveNames(camel string) Names {
	name := CamelToName(camel)
	snake := strings.ReplaceAll(name, " ", "_")
	return Names{
		Camel: camel,
		Name:  name,
		Snake: snake,
		Tag:   strings.ToUpper(snake),
		Slug:  Slugify(name),
		Title: capitalize(name),
	}
}

// CamelToName splits a camel case name into lower case words.
// A space goes before an upper case letter that follows a lower case letter
// or that is followed by a letter which is not upper case: USUnpleasantness -> us unpleasantness.
func CamelToName(camel string) string {
	runes := []rune(camel)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			afterLower := unicode.IsLower(runes[i-1])
			beforeNonUpper := i+1 < len(runes) && !unicode.IsUpper(runes[i+1])
			if afterLower || beforeNonUpper {
				b.WriteRune(' ')
			}
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(strings.ToLower(b.String()))
}

// Slugify lowers s, drops anything that is not a word character, a space or a hyphen, then hyphenates.
func Slugify(s string) string {
	s = slugStripRegex.ReplaceAllString(strings.ToLower(s), "")
	s = slugHyphenRegex.ReplaceAllString(strings.TrimSpace(s), "-")
	return strings.Trim(s, "-_")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
