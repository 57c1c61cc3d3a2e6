package openai

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnparseable marks a model reply that carried none of the expected shape.
// Callers decide whether that is fatal or degrades to a default.
var ErrUnparseable = errors.New("llm output unparseable")

var numberRe = regexp.MustCompile(`[-+]?\d*\.?\d+`)

// ParseYesNo scans the reply for the first standalone yes/no token.
func ParseYesNo(s string) (bool, bool) {
	for _, tok := range strings.Fields(s) {
		tok = strings.ToLower(strings.Trim(tok, ".,:;!?\"'()[]*"))
		switch tok {
		case "yes":
			return true, true
		case "no":
			return false, true
		}
	}
	return false, false
}

// ParseScore extracts the first number in the reply and normalizes it to
// [0,1]. "8/10" and "85%" forms are scaled; anything else is clamped.
func ParseScore(s string) (float64, bool) {
	loc := numberRe.FindStringIndex(s)
	if loc == nil {
		return 0, false
	}
	raw := s[loc[0]:loc[1]]
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}

	rest := s[loc[1]:]
	switch {
	case strings.HasPrefix(rest, "%"):
		v /= 100
	case strings.HasPrefix(rest, "/"):
		denomLoc := numberRe.FindStringIndex(rest)
		if denomLoc != nil && denomLoc[0] == 1 {
			denom, dErr := strconv.ParseFloat(rest[denomLoc[0]:denomLoc[1]], 64)
			if dErr == nil && denom > 0 {
				v /= denom
			}
		}
	case v > 1 && v <= 100:
		// Bare "87" style confidence replies.
		v /= 100
	}

	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v, true
}

// ParseQuestions accepts either a JSON string array or an enumerated list,
// one question per line. Blanks are discarded; the caller caps the count.
func ParseQuestions(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if arr := parseJSONStringArray(s); len(arr) > 0 {
		return arr
	}

	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "0123456789.-)*• \t")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func parseJSONStringArray(s string) []string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return nil
	}
	var arr []string
	if err := json.Unmarshal([]byte(s[start:end+1]), &arr); err != nil {
		return nil
	}
	out := arr[:0]
	for _, q := range arr {
		q = strings.TrimSpace(q)
		if q != "" {
			out = append(out, q)
		}
	}
	return out
}
