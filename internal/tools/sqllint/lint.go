package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strconv"
	"strings"
)

var (
	// statementPattern matches the start of a SQL statement body, after the
	// marker line when present.
	statementPattern  = regexp.MustCompile(`(?is)^\s*(select\s.+\sfrom\s|insert\s+into\s|update\s+\w+\s+set\s|delete\s+from\s|with\s+\w+\s+as\s*\()`)
	uuidMarkerPattern = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

type violation struct {
	file    string
	name    string
	line    int
	message string
}

type linter struct {
	seen       map[string]string
	violations []violation
}

func newLinter() *linter {
	return &linter{seen: make(map[string]string)}
}

func (l *linter) lintFile(path string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
	if err != nil {
		return err
	}
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for _, value := range vs.Values {
			bl, ok := value.(*ast.BasicLit)
			if !ok || bl.Kind != token.STRING {
				continue
			}
			raw, err := unquote(bl.Value)
			if err != nil {
				continue
			}
			l.check(path, fset.Position(bl.Pos()).Line, joinNames(vs.Names), raw)
		}
		return true
	})
	return nil
}

func (l *linter) check(path string, line int, name, raw string) {
	marker, body := splitMarker(raw)
	if !statementPattern.MatchString(body) {
		return
	}
	if !uuidMarkerPattern.MatchString(marker) {
		l.violations = append(l.violations, violation{
			file: path, line: line, name: name,
			message: "missing or invalid --sql <uuid> marker",
		})
		return
	}
	where := fmt.Sprintf("%s:%d", path, line)
	if first, dup := l.seen[marker]; dup {
		l.violations = append(l.violations, violation{
			file: path, line: line, name: name,
			message: "duplicate marker, first used at " + first,
		})
		return
	}
	l.seen[marker] = where
}

// splitMarker returns the first line when it is a --sql comment, and the
// statement body.
func splitMarker(s string) (string, string) {
	s = strings.TrimLeft(s, "\n\r \t")
	first, rest, _ := strings.Cut(s, "\n")
	first = strings.TrimSpace(first)
	if strings.HasPrefix(first, "--") {
		return first, rest
	}
	return "", s
}

func unquote(v string) (string, error) {
	if len(v) == 0 {
		return v, nil
	}
	if v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}

func joinNames(idents []*ast.Ident) string {
	parts := make([]string, 0, len(idents))
	for _, ident := range idents {
		if ident == nil {
			continue
		}
		parts = append(parts, ident.Name)
	}
	return strings.Join(parts, ",")
}
