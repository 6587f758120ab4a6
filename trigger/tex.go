package trigger

import (
	"regexp"
	"strings"
)

// citeCommand matches a citation command name together with its optional
// star and up to two [..] or <..> qualifier groups.
const citeCommand = `\\(?:[a-zA-Z]*cite|Cite)[a-zA-Z]*\*?(?:\s*\[[^\]]*\]|\s*<[^>]*>){0,2}\s*`

var (
	texOpen   = regexp.MustCompile(citeCommand + `\{[^}]*$`)
	texFields = regexp.MustCompile(citeCommand + `\{([^}]*)\}?`)
)

type texDetector struct{}

// TeX detects unclosed \cite-family commands such as \cite{, \parencite*[p.~3]{
// or \textcite<see>[12]{doe2020,.
var TeX Detector = texDetector{}

func (texDetector) Detect(prefix string) Match {
	loc := texOpen.FindStringIndex(prefix)
	m := Match{}
	if loc != nil {
		m = Match{Matched: true, Start: loc[0], End: loc[1]}
	}
	logMatch("tex", prefix, m)
	return m
}

// KeyAt returns the citation key under byte column col of line, when col
// falls inside the brace group of a citation command. A column sitting
// directly after the last character of a key counts as inside it.
func KeyAt(line string, col int) (string, bool) {
	if col < 0 || col > len(line) {
		return "", false
	}
	for _, sub := range texFields.FindAllStringSubmatchIndex(line, -1) {
		start, end := sub[2], sub[3]
		if col < start || col > end {
			continue
		}
		keyStart := start + strings.LastIndexByte(line[start:col], ',') + 1
		keyEnd := col + strings.IndexByte(line[col:end], ',')
		if keyEnd < col {
			keyEnd = end
		}
		key := strings.TrimSpace(line[keyStart:keyEnd])
		if key == "" {
			return "", false
		}
		return key, true
	}
	return "", false
}
