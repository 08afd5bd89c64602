// Package grouping clusters uploaded image files into draft products using
// nothing but their filenames.
package grouping

import (
	"path"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// "-1", "_02", "3"
	trailingNumber = regexp.MustCompile(`[-_]?\d+$`)
	// view of the same product shot: front, back, side, detail
	viewSuffix = regexp.MustCompile(`(?i)(?:^|[-_\s]+)(?:frente|costas|lateral|detalhe)$`)
)

const separators = " \t-_."

// Group is one cluster of files sharing a key, in submission order
type Group[T any] struct {
	Key   string
	Files []T
}

// GroupKey derives the clustering key of a filename. The result is never empty
// and depends on the filename alone.
func GroupKey(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	stem := strings.TrimSuffix(base, path.Ext(base))

	key := trailingNumber.ReplaceAllString(stem, "")
	key = viewSuffix.ReplaceAllString(key, "")
	key = strings.Trim(key, separators)

	for _, candidate := range []string{key, strings.TrimSpace(stem), strings.TrimSpace(base)} {
		if candidate != "" && candidate != "." && candidate != "/" {
			return strings.ToLower(candidate)
		}
	}
	return "untitled"
}

// GroupFiles partitions files by GroupKey. Groups are ordered by the first
// appearance of their key; files keep their relative order inside a group.
func GroupFiles[T any](files []T, filename func(T) string) []Group[T] {
	index := make(map[string]int)
	var groups []Group[T]
	for _, f := range files {
		key := GroupKey(filename(f))
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group[T]{Key: key})
		}
		groups[i].Files = append(groups[i].Files, f)
	}
	return groups
}

// ProductName turns a group key into a display name: separators become spaces
// and every word starts with an upper case letter.
func ProductName(groupKey string) string {
	replaced := strings.NewReplacer("-", " ", "_", " ").Replace(groupKey)
	name := strings.Join(strings.Fields(replaced), " ")
	if name == "" {
		return groupKey
	}
	return cases.Title(language.Und, cases.NoLower).String(name)
}
