package corrections

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func writeRules(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "corrections.rules")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write rules file: %v", err)
	}
	return path
}

func TestEngineLiteralAndSedRules(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `
# literal
bit coin => BTC
# sed style, case-insensitive by default
s/\beth\s*ereum\b/ETH/g
`)

	engine, err := Load(path, 30, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to load engine: %v", err)
	}
	if engine.Len() != 2 {
		t.Fatalf("expected 2 rules, got %d", engine.Len())
	}

	output, err := engine.Apply("Bit Coin and Ethereum flows")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if output != "BTC and ETH flows" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestEngineIteratesUntilStable(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `
a => b
b => c
`)

	engine, err := Load(path, 5, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to load engine: %v", err)
	}

	output, _ := engine.Apply("a")
	if output != "c" {
		t.Fatalf("expected c, got %q", output)
	}
}

func TestEngineStopsAtPassLimit(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `
x => xx
`)

	engine, err := Load(path, 3, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to load engine: %v", err)
	}

	output, _ := engine.Apply("x")
	if output != strings.Repeat("x", 8) {
		t.Fatalf("expected three doublings, got %q", output)
	}
}

func TestLiteralRuleStartingWithS(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `
solana => SOL
`)

	engine, err := Load(path, 30, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to load engine: %v", err)
	}

	output, _ := engine.Apply("solana whales")
	if output != "SOL whales" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestLoadMissingFileIsPassThrough(t *testing.T) {
	t.Parallel()

	engine, err := Load(filepath.Join(t.TempDir(), "missing.rules"), 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	output, _ := engine.Apply("hey ghost kwant")
	if output != "hey ghost kwant" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestEngineSupportsParserExtension(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `
ticker:doge=>DOGE
`)

	parsers := append([]RuleParser{tickerParser{}}, DefaultParsers()...)
	engine, err := LoadWithParsers(path, 5, zerolog.Nop(), parsers)
	if err != nil {
		t.Fatalf("failed to load engine: %v", err)
	}

	output, _ := engine.Apply("doge pumps")
	if output != "DOGE pumps" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestSedRuleWithoutGlobalReplacesFirstMatchOnly(t *testing.T) {
	t.Parallel()

	rule, err := SedParser{}.Compile(`s/foo/bar/`)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	output, changed := rule.Rewrite("foo foo")
	if !changed {
		t.Fatalf("expected changed=true")
	}
	if output != "bar foo" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestSedRuleCaptureGroupsAndEscapedDelimiter(t *testing.T) {
	t.Parallel()

	rule, err := SedParser{}.Compile(`s|(\d+)\|(\d+)|$1/$2|g`)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	output, _ := rule.Rewrite("ratio 3|4")
	if output != "ratio 3/4" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestSedRuleCaseSensitiveFlag(t *testing.T) {
	t.Parallel()

	rule, err := SedParser{}.Compile(`s/sol/SOL/gI`)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	output, _ := rule.Rewrite("Sol sol")
	if output != "Sol SOL" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestSedRuleUnsupportedFlag(t *testing.T) {
	t.Parallel()

	if _, err := (SedParser{}).Compile(`s/foo/bar/x`); err == nil {
		t.Fatalf("expected unsupported flag error")
	}
}

func TestParseUnsupportedLine(t *testing.T) {
	t.Parallel()

	if _, err := Parse("not-a-rule", DefaultParsers()); err == nil {
		t.Fatalf("expected unsupported rule format error")
	}
}

type tickerParser struct{}

func (tickerParser) Accepts(line string) bool {
	return strings.HasPrefix(line, "ticker:")
}

func (tickerParser) Compile(line string) (Rule, error) {
	from, to, ok := strings.Cut(strings.TrimPrefix(line, "ticker:"), "=>")
	if !ok {
		return nil, fmt.Errorf("invalid ticker rule")
	}
	return LiteralParser{}.Compile(from + " => " + to)
}
