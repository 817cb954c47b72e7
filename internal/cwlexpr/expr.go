// Package cwlexpr recognizes CWL parameter references and JavaScript code
// blocks and checks that they parse.
package cwlexpr

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// Fragment is one expression found in a string.
type Fragment struct {
	Start int    // index of the leading '$'
	End   int    // index after the closing delimiter
	Code  string // body without the $( ) or ${ } delimiters
	Block bool   // true for ${ ... }
}

// IsExpression returns true if the string contains CWL expression syntax.
// An escaped \$( is a literal.
func IsExpression(s string) bool {
	if strings.HasPrefix(s, "${") {
		return true
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] == '$' && s[i+1] == '(' {
			if i == 0 || s[i-1] != '\\' {
				return true
			}
		}
	}
	return false
}

// IsSoleExpression returns true if the string is a single CWL expression
// with no surrounding literal text. For example:
//   - "$(inputs.x)" → true
//   - "${return inputs.x}" → true
//   - "hello $(inputs.x)" → false (has prefix text)
func IsSoleExpression(s string) bool {
	if strings.HasPrefix(s, "${") {
		return findMatchingBrace(s) == len(s)-1
	}
	if strings.HasPrefix(s, "$(") {
		frags := Find(s)
		return len(frags) == 1 && frags[0].Start == 0 && frags[0].End == len(s)
	}
	return false
}

// findMatchingBrace finds the index of the closing brace for a ${...} code block.
// Returns -1 if no matching brace is found.
func findMatchingBrace(s string) int {
	if !strings.HasPrefix(s, "${") {
		return -1
	}
	depth := 0
	for i, c := range s {
		if c == '{' {
			depth++
		} else if c == '}' {
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Find returns every expression in s, handling nested parentheses. A
// leading ${ ... } block is returned as a single fragment.
func Find(s string) []Fragment {
	if end := findMatchingBrace(s); end >= 0 {
		return []Fragment{{Start: 0, End: end + 1, Code: s[2:end], Block: true}}
	}

	var frags []Fragment
	i := 0
	for i < len(s)-1 {
		if s[i] == '$' && s[i+1] == '(' && (i == 0 || s[i-1] != '\\') {
			depth := 1
			j := i + 2
			for j < len(s) && depth > 0 {
				if s[j] == '(' {
					depth++
				} else if s[j] == ')' {
					depth--
				}
				j++
			}
			if depth == 0 {
				frags = append(frags, Fragment{Start: i, End: j, Code: s[i+2 : j-1]})
				i = j
				continue
			}
		}
		i++
	}
	return frags
}

// Check parses every expression in s without running it.
func Check(s string) error {
	if strings.HasPrefix(s, "${") && findMatchingBrace(s) < 0 {
		return fmt.Errorf("unterminated code block in %q", s)
	}
	if IsExpression(s) && !strings.HasPrefix(s, "${") && len(Find(s)) == 0 {
		return fmt.Errorf("unterminated parameter reference in %q", s)
	}
	for _, f := range Find(s) {
		src := "(" + f.Code + ")"
		if f.Block {
			src = "(function() { " + f.Code + " })"
		}
		if _, err := goja.Compile("", src, false); err != nil {
			if f.Block {
				return fmt.Errorf("JavaScript error in ${%s}: %w", f.Code, err)
			}
			return fmt.Errorf("expression error in $(%s): %w", f.Code, err)
		}
	}
	return nil
}
