// Package bank recognizes the institution that issued a statement from the
// names printed in its header.
package bank

import (
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// HeaderLines is how much of the text is searched for a bank name
const HeaderLines = 30

// minFuzzyAlias keeps short aliases like "BHD" out of approximate matching
const minFuzzyAlias = 8

// Bank is one issuer and the spellings it prints on statements
type Bank struct {
	Code    string
	Name    string
	Aliases []string
}

// DominicanBanks returns the issuers seen on Dominican statements
func DominicanBanks() []Bank {
	return []Bank{
		{Code: "BPD", Name: "Banco Popular Dominicano", Aliases: []string{"BANCO POPULAR", "POPULAR DOMINICANO"}},
		{Code: "BRD", Name: "Banreservas", Aliases: []string{"BANRESERVAS", "BANCO DE RESERVAS"}},
		{Code: "BHD", Name: "Banco BHD", Aliases: []string{"BANCO BHD", "BHD LEON", "BHD"}},
		{Code: "APAP", Name: "Asociación Popular de Ahorros y Préstamos", Aliases: []string{"ASOCIACION POPULAR", "APAP"}},
		{Code: "SCOTIA", Name: "Scotiabank", Aliases: []string{"SCOTIABANK"}},
		{Code: "BSC", Name: "Banco Santa Cruz", Aliases: []string{"BANCO SANTA CRUZ"}},
		{Code: "CARIBE", Name: "Banco Caribe", Aliases: []string{"BANCO CARIBE"}},
		{Code: "PROMERICA", Name: "Banco Promerica", Aliases: []string{"PROMERICA"}},
		{Code: "BLH", Name: "Banco López de Haro", Aliases: []string{"LOPEZ DE HARO"}},
		{Code: "BANESCO", Name: "Banesco", Aliases: []string{"BANESCO"}},
		{Code: "VIMENCA", Name: "Banco Vimenca", Aliases: []string{"VIMENCA"}},
		{Code: "ADEMI", Name: "Banco Ademi", Aliases: []string{"BANCO ADEMI"}},
		{Code: "CITI", Name: "Citibank", Aliases: []string{"CITIBANK"}},
	}
}

type alias struct {
	bank  int
	text  string
	words int
}

// Detector matches statement headers against a fixed list of banks.
// It is safe for concurrent use.
type Detector struct {
	banks   []Bank
	aliases []alias

	mu      sync.Mutex // Matcher.Match mutates internal state
	matcher *ahocorasick.Matcher
}

// NewDetector builds the alias automaton for banks
func NewDetector(banks []Bank) *Detector {
	d := &Detector{banks: banks}

	var patterns [][]byte
	for i, b := range banks {
		for _, a := range b.Aliases {
			text := normalize(a)
			if text == "" {
				continue
			}
			d.aliases = append(d.aliases, alias{bank: i, text: text, words: len(strings.Fields(text))})
			patterns = append(patterns, []byte(text))
		}
	}
	if len(patterns) > 0 {
		d.matcher = ahocorasick.NewMatcher(patterns)
	}
	return d
}

// Detect returns the bank named in the first HeaderLines lines of text.
// Exact alias hits win, longest alias first. Without one, an alias within a
// small edit distance of a run of words on a single line is accepted so that
// recognition noise like "BANC0 P0PULAR" still resolves.
func (d *Detector) Detect(text string) (Bank, bool) {
	if d.matcher == nil {
		return Bank{}, false
	}

	lines := header(text)
	if len(lines) == 0 {
		return Bank{}, false
	}

	d.mu.Lock()
	hits := d.matcher.Match([]byte(strings.Join(lines, "\n")))
	d.mu.Unlock()

	best := -1
	for _, idx := range hits {
		if idx < 0 || idx >= len(d.aliases) {
			continue
		}
		if best < 0 || longer(d.aliases[idx], d.aliases[best]) || (len(d.aliases[idx].text) == len(d.aliases[best].text) && idx < best) {
			best = idx
		}
	}
	if best >= 0 {
		return d.banks[d.aliases[best].bank], true
	}

	if idx, ok := d.closest(lines); ok {
		return d.banks[d.aliases[idx].bank], true
	}
	return Bank{}, false
}

// closest finds the alias with the smallest tolerated edit distance
func (d *Detector) closest(lines []string) (int, bool) {
	best, bestDist := -1, 0
	for _, line := range lines {
		words := strings.Fields(line)
		for i, a := range d.aliases {
			if len(a.text) < minFuzzyAlias || a.words > len(words) {
				continue
			}
			allowed := len(a.text) / 6
			for start := 0; start+a.words <= len(words); start++ {
				candidate := strings.Join(words[start:start+a.words], " ")
				dist := fuzzy.LevenshteinDistance(candidate, a.text)
				if dist > allowed {
					continue
				}
				if best < 0 || dist < bestDist || (dist == bestDist && longer(a, d.aliases[best])) {
					best, bestDist = i, dist
				}
			}
		}
	}
	return best, best >= 0
}

func longer(a, b alias) bool {
	return len(a.text) > len(b.text)
}

// header returns the first HeaderLines non-blank lines, normalized
func header(text string) []string {
	var lines []string
	for line := range strings.SplitSeq(text, "\n") {
		line = normalize(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == HeaderLines {
			break
		}
	}
	return lines
}

var accents = strings.NewReplacer("Á", "A", "É", "E", "Í", "I", "Ó", "O", "Ú", "U", "Ü", "U", "Ñ", "N")

// normalize upper-cases, strips Spanish accents and collapses whitespace
func normalize(s string) string {
	return strings.Join(strings.Fields(accents.Replace(strings.ToUpper(s))), " ")
}
