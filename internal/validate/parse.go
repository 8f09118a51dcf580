package validate

import (
	"bufio"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Counts is what a parser extracts from runner output.
type Counts struct {
	Passed int
	Failed int
}

// Total returns Passed+Failed.
func (c Counts) Total() int { return c.Passed + c.Failed }

// ResultParser extracts pass/fail counts from the output of a test runner.
// ok is false when the output is not in the parser's format.
type ResultParser interface {
	Parse(output string) (c Counts, ok bool)
}

// RegexParser sums every match of Passed and Failed. Each expression must
// capture the count in its first group.
type RegexParser struct {
	Passed *regexp.Regexp
	Failed *regexp.Regexp
}

// MochaParser reads "<n> passing" / "<n> failing".
var MochaParser = RegexParser{
	Passed: regexp.MustCompile(`(\d+) passing`),
	Failed: regexp.MustCompile(`(\d+) failing`),
}

// PlaywrightParser reads "<n> passed" / "<n> failed".
var PlaywrightParser = RegexParser{
	Passed: regexp.MustCompile(`(\d+) passed`),
	Failed: regexp.MustCompile(`(\d+) failed`),
}

func (p RegexParser) Parse(output string) (Counts, bool) {
	passed, okP := sumMatches(p.Passed, output)
	failed, okF := sumMatches(p.Failed, output)
	return Counts{Passed: passed, Failed: failed}, okP || okF
}

func sumMatches(re *regexp.Regexp, s string) (int, bool) {
	if re == nil {
		return 0, false
	}
	matches := re.FindAllStringSubmatch(s, -1)
	total := 0
	for _, m := range matches {
		if len(m) < 2 {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		total += n
	}
	return total, len(matches) > 0
}

// GoTestParser counts test results from `go test -v` or `go test -json` output.
type GoTestParser struct{}

type goTestEvent struct {
	Action string `json:"Action"`
	Test   string `json:"Test"`
}

func (GoTestParser) Parse(output string) (Counts, bool) {
	var c Counts
	found := false
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "{") {
			var ev goTestEvent
			if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Test == "" {
				continue
			}
			switch ev.Action {
			case "pass":
				c.Passed++
				found = true
			case "fail":
				c.Failed++
				found = true
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "--- PASS:"):
			c.Passed++
			found = true
		case strings.HasPrefix(line, "--- FAIL:"):
			c.Failed++
			found = true
		}
	}
	return c, found
}

// JSONParser reads a JSON summary object, either {"passed":n,"failed":n} or a
// mocha-style {"stats":{"passes":n,"failures":n}}. The last object in the
// output wins.
type JSONParser struct{}

type jsonSummary struct {
	Passed   *int `json:"passed"`
	Failed   *int `json:"failed"`
	Passes   *int `json:"passes"`
	Failures *int `json:"failures"`
	Stats    *struct {
		Passes   *int `json:"passes"`
		Failures *int `json:"failures"`
	} `json:"stats"`
}

func (JSONParser) Parse(output string) (Counts, bool) {
	for _, candidate := range jsonCandidates(output) {
		var s jsonSummary
		if err := json.Unmarshal([]byte(candidate), &s); err != nil {
			continue
		}
		c, ok := s.counts()
		if ok {
			return c, true
		}
	}
	return Counts{}, false
}

func (s jsonSummary) counts() (Counts, bool) {
	pick := func(vals ...*int) (int, bool) {
		for _, v := range vals {
			if v != nil {
				return *v, true
			}
		}
		return 0, false
	}
	var statsPasses, statsFailures *int
	if s.Stats != nil {
		statsPasses, statsFailures = s.Stats.Passes, s.Stats.Failures
	}
	passed, okP := pick(s.Passed, s.Passes, statsPasses)
	failed, okF := pick(s.Failed, s.Failures, statsFailures)
	return Counts{Passed: passed, Failed: failed}, okP || okF
}

// jsonCandidates returns the whole output and then each line that looks like
// an object, last line first.
func jsonCandidates(output string) []string {
	out := []string{strings.TrimSpace(output)}
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}") {
			out = append(out, line)
		}
	}
	return out
}

// Parser names accepted in configuration.
const (
	ParserMocha      = "mocha"
	ParserPlaywright = "playwright"
	ParserGoTest     = "go"
	ParserJSON       = "json"
)

// LookupParser returns the parser registered under name.
func LookupParser(name string) (ResultParser, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ParserMocha:
		return MochaParser, true
	case ParserPlaywright:
		return PlaywrightParser, true
	case ParserGoTest:
		return GoTestParser{}, true
	case ParserJSON:
		return JSONParser{}, true
	}
	return nil, false
}

// ParserChain resolves names in order. Unknown names are logged and skipped.
func ParserChain(names []string) []ResultParser {
	chain := make([]ResultParser, 0, len(names))
	for _, name := range names {
		p, ok := LookupParser(name)
		if !ok {
			log.Warn().Str("parser", name).Msg("unknown result parser")
			continue
		}
		chain = append(chain, p)
	}
	return chain
}

// FirstMatch tries parsers in order and returns the first that recognises
// the output.
func FirstMatch(parsers []ResultParser, output string) (Counts, bool) {
	for _, p := range parsers {
		if c, ok := p.Parse(output); ok {
			return c, true
		}
	}
	return Counts{}, false
}
