package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Pair is one line of a two-column table file.
type Pair struct {
	First  string
	Second string
	Line   int
}

// ReadLinePairs parses whitespace-separated two-field lines. Blank lines and
// lines starting with '#' are skipped.
func ReadLinePairs(r io.Reader) ([]Pair, error) {
	var pairs []Pair
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected 2 fields, got %d", n, len(fields))
		}
		pairs = append(pairs, Pair{First: fields[0], Second: fields[1], Line: n})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// ReadLinePairsFile reads a table file from disk. A missing file yields no
// pairs.
func ReadLinePairsFile(path string) ([]Pair, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pairs, err := ReadLinePairs(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pairs, nil
}
