package lib

import "strings"

// listNoise is stripped from comma-separated identifier lists before splitting.
// Callers sometimes pass a stringified array such as ["roads", "rivers"].
var listNoise = strings.NewReplacer("[", "", "]", "", `\`, "", `"`, "")

// CleanList parses a comma-separated identifier list.
// Brackets, backslashes and quotes are removed, entries are trimmed and empties dropped.
func CleanList(s string) []string {
	s = listNoise.Replace(s)

	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ReplaceAll(strings.TrimSpace(part), "'", "")
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// SanitizeName strips quote characters so a layer name can be used as a table or file name
func SanitizeName(name string) string {
	return strings.NewReplacer(`"`, "", "'", "").Replace(name)
}

// FileName reduces a layer name to a single path segment.
// Path separators become underscores; fallback is used when nothing usable remains.
func FileName(name, fallback string) string {
	s := strings.NewReplacer("/", "_", `\`, "_", "\x00", "").Replace(SanitizeName(name))
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return fallback
	}
	return s
}
