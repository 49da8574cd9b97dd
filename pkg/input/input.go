// Package input turns text files, stdin and web articles into source lines.
package input

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// maxLineSize bounds a single input line.
const maxLineSize = 1 << 20

// ReadLines returns the trimmed, non-empty lines of r.
func ReadLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var lines []string
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			lines = append(lines, l)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	return lines, nil
}

// ReadFile reads lines from path, or from stdin when path is "-".
func ReadFile(path string) ([]string, error) {
	if path == "-" {
		return ReadLines(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadLines(f)
}

// SplitSentences breaks prose into one line per sentence, splitting after
// 。！？ and at newlines. Blank results are dropped.
func SplitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	emit := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for _, r := range text {
		if r == '\n' {
			emit()
			continue
		}
		cur.WriteRune(r)
		if r == '。' || r == '！' || r == '？' {
			emit()
		}
	}
	emit()
	return out
}
