package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/me/wic/pkg/cwl"
)

// TypeRule declares that a source of type From may feed a sink of type To.
type TypeRule struct {
	From string
	To   string
}

// Convention rewrites the substring From to To during name normalization.
type Convention struct {
	From string
	To   string
}

// Tables holds the validated inference tables. A Tables value is immutable
// and safe to share between goroutines.
type Tables struct {
	rules       []TypeRule
	conventions []Convention
	allowed     map[TypeRule]bool
	fingerprint string
}

// NewTables validates rules and conventions and returns the immutable table
// set. Every rule type must belong to the CWL type vocabulary.
func NewTables(rules []TypeRule, conventions []Convention) (*Tables, error) {
	t := &Tables{
		rules:       slices.Clone(rules),
		conventions: slices.Clone(conventions),
		allowed:     make(map[TypeRule]bool, len(rules)),
	}
	for i, r := range rules {
		if !cwl.KnownType(r.From) {
			return nil, fmt.Errorf("rule %d: unknown type %q", i+1, r.From)
		}
		if !cwl.KnownType(r.To) {
			return nil, fmt.Errorf("rule %d: unknown type %q", i+1, r.To)
		}
		t.allowed[TypeRule{From: cwl.Required(r.From), To: cwl.Required(r.To)}] = true
	}
	for i, c := range conventions {
		if c.From == "" {
			return nil, fmt.Errorf("convention %d: empty pattern", i+1)
		}
	}

	h := sha256.New()
	for _, r := range t.rules {
		fmt.Fprintf(h, "rule\t%s\t%s\n", r.From, r.To)
	}
	for _, c := range t.conventions {
		fmt.Fprintf(h, "conv\t%s\t%s\n", c.From, c.To)
	}
	t.fingerprint = hex.EncodeToString(h.Sum(nil))
	return t, nil
}

// EmptyTables returns tables with no rules and no conventions.
func EmptyTables() *Tables {
	t, _ := NewTables(nil, nil)
	return t
}

// ParseTables reads both tables from line-pair sources.
func ParseTables(rules, conventions io.Reader) (*Tables, error) {
	var rp, cp []Pair
	var err error
	if rules != nil {
		if rp, err = ReadLinePairs(rules); err != nil {
			return nil, fmt.Errorf("inference rules: %w", err)
		}
	}
	if conventions != nil {
		if cp, err = ReadLinePairs(conventions); err != nil {
			return nil, fmt.Errorf("renaming conventions: %w", err)
		}
	}
	return tablesFromPairs(rp, cp)
}

// LoadTables reads the rule and convention files named in cfg.
func LoadTables(cfg CompilerConfig) (*Tables, error) {
	rp, err := ReadLinePairsFile(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("inference rules: %w", err)
	}
	cp, err := ReadLinePairsFile(cfg.ConventionsFile)
	if err != nil {
		return nil, fmt.Errorf("renaming conventions: %w", err)
	}
	return tablesFromPairs(rp, cp)
}

func tablesFromPairs(rp, cp []Pair) (*Tables, error) {
	rules := make([]TypeRule, len(rp))
	for i, p := range rp {
		rules[i] = TypeRule{From: p.First, To: p.Second}
	}
	convs := make([]Convention, len(cp))
	for i, p := range cp {
		convs[i] = Convention{From: p.First, To: p.Second}
	}
	return NewTables(rules, convs)
}

// Compatible reports whether a source of type src may feed a sink of type
// sink. Optionality is ignored, Any accepts everything, and otherwise the
// types must be equal or listed as a rule.
func (t *Tables) Compatible(src, sink string) bool {
	s, k := cwl.Required(src), cwl.Required(sink)
	if s == k || k == "Any" || s == "Any" {
		return true
	}
	return t.allowed[TypeRule{From: s, To: k}]
}

// Normalize applies every convention to name in table order.
func (t *Tables) Normalize(name string) string {
	for _, c := range t.conventions {
		name = strings.ReplaceAll(name, c.From, c.To)
	}
	return name
}

// Rules returns a copy of the type rules.
func (t *Tables) Rules() []TypeRule { return slices.Clone(t.rules) }

// Conventions returns a copy of the naming conventions.
func (t *Tables) Conventions() []Convention { return slices.Clone(t.conventions) }

// Fingerprint is a stable digest of the table contents.
func (t *Tables) Fingerprint() string { return t.fingerprint }
