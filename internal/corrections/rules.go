package corrections

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// LiteralParser handles "from => to" lines, matched case-insensitively.
type LiteralParser struct{}

func (LiteralParser) Accepts(line string) bool {
	return strings.Contains(line, "=>")
}

func (LiteralParser) Compile(line string) (Rule, error) {
	from, to, ok := strings.Cut(line, "=>")
	if !ok {
		return nil, errors.New("invalid literal rule")
	}
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}

	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return nil, fmt.Errorf("invalid literal source: %w", err)
	}
	return literalRule{source: line, re: re, replacement: strings.TrimSpace(to)}, nil
}

type literalRule struct {
	source      string
	re          *regexp.Regexp
	replacement string
}

func (r literalRule) Rewrite(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}

func (r literalRule) Source() string {
	return r.source
}

// SedParser handles s/pattern/replacement/flags lines with any non-alphanumeric delimiter.
// Patterns are case-insensitive unless the rule says otherwise.
type SedParser struct{}

func (SedParser) Accepts(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordOrSpace(line[1])
}

func (SedParser) Compile(line string) (Rule, error) {
	delim := line[1]

	pattern, next, err := scanDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, next, err := scanDelimited(line, next, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}
	replacement = strings.ReplaceAll(replacement, `\`+string(delim), string(delim))

	inline, global, err := parseFlags(strings.TrimSpace(line[next:]))
	if err != nil {
		return nil, err
	}

	re, err := regexp.Compile("(?" + inline + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return sedRule{source: line, re: re, replacement: replacement, global: global}, nil
}

// parseFlags maps sed flags onto Go inline flags. I is the only way to opt out of case folding.
func parseFlags(flags string) (inline string, global bool, err error) {
	ignoreCase, multiLine, dotAll := true, false, false
	for _, flag := range flags {
		switch flag {
		case 'i':
			ignoreCase = true
		case 'I':
			ignoreCase = false
		case 'g':
			global = true
		case 'm':
			multiLine = true
		case 's':
			dotAll = true
		case ' ':
		default:
			return "", false, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	if ignoreCase {
		inline += "i"
	}
	if multiLine {
		inline += "m"
	}
	if dotAll {
		inline += "s"
	}
	if inline == "" {
		// an empty group "(?)" is not valid syntax
		inline = "-i"
	}
	return inline, global, nil
}

type sedRule struct {
	source      string
	re          *regexp.Regexp
	replacement string
	global      bool
}

func (r sedRule) Rewrite(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, loc)
	output := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return output, output != input
}

func (r sedRule) Source() string {
	return r.source
}

func scanDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var builder strings.Builder
	escaped := false
	for index := start; index < len(line); index++ {
		char := line[index]
		switch {
		case escaped:
			builder.WriteByte(char)
			escaped = false
		case char == '\\':
			builder.WriteByte(char)
			escaped = true
		case char == delim:
			return builder.String(), index + 1, nil
		default:
			builder.WriteByte(char)
		}
	}
	return "", 0, errors.New("unterminated expression")
}

func isWordOrSpace(char byte) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == ' ' || char == '\t'
}
