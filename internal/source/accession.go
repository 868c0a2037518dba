package source

import (
	"regexp"
	"strings"
)

var (
	dashedAccession   = regexp.MustCompile(`^\d{10}-\d{2}-\d{6}$`)
	dashlessAccession = regexp.MustCompile(`^\d{18}$`)
)

// AccessionID derives the dashed accession number that identifies a filing
// from its catalog path. Three layouts occur in the catalog:
//
//	edgar/data/861439/0000912057-94-000263.txt         dashed file name
//	edgar/data/861439/000091205794000263.txt           dashless file name
//	edgar/data/320193/000032019318000145/a10-k.htm     accession folder
//
// When no segment is accession-shaped the whole normalized path serves as
// the identity; it is still unique per catalog row.
func AccessionID(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 {
		return path
	}

	last := parts[len(parts)-1]
	if id, ok := asAccession(trimDocExt(last)); ok {
		return id
	}
	if len(parts) >= 4 {
		if id, ok := asAccession(parts[3]); ok {
			return id
		}
	}
	return path
}

func trimDocExt(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range []string{".txt", ".htm", ".html"} {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

func asAccession(s string) (string, bool) {
	if dashedAccession.MatchString(s) {
		return s, true
	}
	if dashlessAccession.MatchString(s) {
		return s[:10] + "-" + s[10:12] + "-" + s[12:], true
	}
	return "", false
}
