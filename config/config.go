// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package config implements the KEY=VALUE configuration file reader/
// writer of §4.h, preserving comments and blank lines across a read then
// write round trip (§8: configWrite(f, configRead(f)) reproduces f).
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

type lineKind int

const (
	kindBlank lineKind = iota
	kindComment
	kindEntry
)

type line struct {
	kind  lineKind
	raw   string // verbatim text for kindBlank/kindComment
	key   string
	value string
}

// List is an ordered set of configuration variables, keeping every blank
// and comment line from the source file in place so a Write reproduces
// anything that was not explicitly changed.
type List struct {
	lines   []line
	indexOf map[string]int
}

// New returns an empty List.
func New() *List {
	return &List{indexOf: make(map[string]int)}
}

// Read parses a KEY=VALUE stream. Lines that are blank or begin with '#'
// (after leading whitespace) are kept verbatim but not indexed.
func Read(r io.Reader) (*List, error) {
	l := New()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		raw := scanner.Text()
		trimmed := strings.TrimSpace(raw)

		switch {
		case trimmed == "":
			l.lines = append(l.lines, line{kind: kindBlank, raw: raw})
		case strings.HasPrefix(trimmed, "#"):
			l.lines = append(l.lines, line{kind: kindComment, raw: raw})
		default:
			key, value, ok := strings.Cut(trimmed, "=")
			if !ok {
				l.lines = append(l.lines, line{kind: kindComment, raw: raw})
				continue
			}
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)
			l.indexOf[key] = len(l.lines)
			l.lines = append(l.lines, line{kind: kindEntry, key: key, value: value})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return l, nil
}

// ReadFile reads and parses path. A missing file yields an empty List
// rather than an error, since kernel configuration files are optional.
func ReadFile(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Get returns the value stored under key, and whether key is present.
func (l *List) Get(key string) (string, bool) {
	idx, ok := l.indexOf[key]
	if !ok {
		return "", false
	}
	return l.lines[idx].value, true
}

// Set stores value under key, overwriting the existing line in place if
// key is already present, or appending a new entry line otherwise.
func (l *List) Set(key, value string) {
	if idx, ok := l.indexOf[key]; ok {
		l.lines[idx].value = value
		return
	}
	l.indexOf[key] = len(l.lines)
	l.lines = append(l.lines, line{kind: kindEntry, key: key, value: value})
}

// Unset removes key, if present, leaving the other lines untouched.
func (l *List) Unset(key string) {
	idx, ok := l.indexOf[key]
	if !ok {
		return
	}
	l.lines = append(l.lines[:idx], l.lines[idx+1:]...)
	delete(l.indexOf, key)
	for k, i := range l.indexOf {
		if i > idx {
			l.indexOf[k] = i - 1
		}
	}
}

// Keys returns the configured keys in declaration order.
func (l *List) Keys() []string {
	keys := make([]string, 0, len(l.indexOf))
	for _, ln := range l.lines {
		if ln.kind == kindEntry {
			keys = append(keys, ln.key)
		}
	}
	return keys
}

// Write serializes l, reproducing blank lines and comments verbatim and
// writing entries as KEY=VALUE.
func (l *List) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, ln := range l.lines {
		var err error
		switch ln.kind {
		case kindEntry:
			_, err = fmt.Fprintf(bw, "%s=%s\n", ln.key, ln.value)
		default:
			_, err = fmt.Fprintln(bw, ln.raw)
		}
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile serializes l to path, creating or truncating it.
func (l *List) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return l.Write(f)
}
