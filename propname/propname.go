// Package propname converts property names between the internal snake_case
// convention and the camelCase wire convention used for inter-service
// communication, and applies or strips the routing tag prefix that qualifies
// a property with its owning service's short name.
//
// All functions are pure. ALL_CAPS names are treated as constants and are
// exempt from case conversion when the skipCaps flag is set.
package propname

import (
	"strings"
	"unicode"

	"github.com/inmarsat-enterprise/fieldedge-utilities/errors"
)

// Separator joins the tag to the property name in internal form.
const Separator = "_"

// Category keys for classified property collections.
const (
	ReadOnly      = "read_only"
	ReadWrite     = "read_write"
	ReadOnlyWire  = "readOnly"
	ReadWriteWire = "readWrite"
)

// IsConstantCase reports whether a name is ALL_CAPS (letters all upper case,
// optionally with digits and separators). Such names identify constants and
// bypass case conversion when skipCaps is requested.
func IsConstantCase(name string) bool {
	hasLetter := false
	for _, r := range name {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			hasLetter = true
		}
	}
	return hasLetter
}

// ToWire converts an internal snake_case name to its camelCase wire form.
// ALL_CAPS names pass through unchanged when skipCaps is true.
func ToWire(name string, skipCaps bool) (string, error) {
	if name == "" {
		return "", errors.WrapInvalid(errors.ErrInvalidInput, "propname", "ToWire", "empty name")
	}
	if skipCaps && IsConstantCase(name) {
		return name, nil
	}
	words := splitWords(name)
	if len(words) == 0 {
		return "", errors.WrapInvalid(errors.ErrInvalidInput, "propname", "ToWire", "no word characters")
	}
	if len(words) == 1 && words[0] == name {
		// Single-word names (including ones already in wire form) pass through.
		return name, nil
	}
	var b strings.Builder
	b.WriteString(strings.ToLower(words[0]))
	for _, w := range words[1:] {
		b.WriteString(capitalize(w))
	}
	return b.String(), nil
}

// ToInternal converts a camelCase wire name to its internal snake_case form.
// Consecutive boundary markers collapse to a single separator. ALL_CAPS names
// pass through unchanged when skipCaps is true.
func ToInternal(name string, skipCaps bool) (string, error) {
	if name == "" {
		return "", errors.WrapInvalid(errors.ErrInvalidInput, "propname", "ToInternal", "empty name")
	}
	if skipCaps && IsConstantCase(name) {
		return name, nil
	}
	var b strings.Builder
	prevSep := false
	for i, r := range name {
		switch {
		case r == '_':
			if !prevSep && i > 0 {
				b.WriteRune('_')
				prevSep = true
			}
		case unicode.IsUpper(r):
			if i > 0 && !prevSep {
				b.WriteRune('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevSep = false
		default:
			b.WriteRune(r)
			prevSep = false
		}
	}
	return strings.TrimSuffix(b.String(), "_"), nil
}

// Tag prepends the routing tag to an internal property name and optionally
// converts the result to wire form.
func Tag(name, tag string, toWire bool) (string, error) {
	if name == "" {
		return "", errors.WrapInvalid(errors.ErrInvalidInput, "propname", "Tag", "empty name")
	}
	tagged := name
	if tag != "" {
		tagged = strings.ToLower(tag) + Separator + name
	}
	if !toWire {
		return tagged, nil
	}
	return ToWire(tagged, false)
}

// Untag reverts a wire-form property name to internal form, splitting off the
// leading segment as the routing tag when isTagged is true. The returned tag
// is empty when isTagged is false. Fails if a tag was expected but the name
// has no separator to split on.
func Untag(wireName string, isTagged bool) (name, tag string, err error) {
	internal, err := ToInternal(wireName, false)
	if err != nil {
		return "", "", err
	}
	if !isTagged {
		return internal, "", nil
	}
	idx := strings.Index(internal, Separator)
	if idx < 0 {
		return "", "", errors.WrapInvalid(errors.ErrInvalidInput, "propname", "Untag",
			"no tag separator in "+wireName)
	}
	return internal[idx+1:], internal[:idx], nil
}

// MergeLists concatenates collections of tagged names preserving order.
func MergeLists(lists ...[]string) []string {
	var merged []string
	for _, l := range lists {
		merged = append(merged, l...)
	}
	return merged
}

// MergeCategorized merges categorized property mappings by concatenating the
// lists under matching category keys. All inputs must be categorized with the
// read-only/read-write keys (internal or wire case); mixing uncategorized
// mappings in is an error.
func MergeCategorized(maps ...map[string][]string) (map[string][]string, error) {
	merged := make(map[string][]string)
	for _, m := range maps {
		if !isCategorized(m) {
			return nil, errors.WrapInvalid(errors.ErrInvalidInput, "propname", "MergeCategorized",
				"input mapping is not categorized")
		}
		for k, v := range m {
			merged[k] = append(merged[k], v...)
		}
	}
	return merged, nil
}

func isCategorized(m map[string][]string) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		switch k {
		case ReadOnly, ReadWrite, ReadOnlyWire, ReadWriteWire:
		default:
			return false
		}
	}
	return true
}

// splitWords splits a snake_case name into its words, collapsing consecutive
// separators.
func splitWords(name string) []string {
	parts := strings.Split(name, Separator)
	words := parts[:0]
	for _, p := range parts {
		if p != "" {
			words = append(words, p)
		}
	}
	return words
}

// capitalize upper-cases the first rune and lower-cases the remainder.
func capitalize(word string) string {
	if word == "" {
		return word
	}
	r := []rune(word)
	out := string(unicode.ToUpper(r[0]))
	if len(r) > 1 {
		out += strings.ToLower(string(r[1:]))
	}
	return out
}
