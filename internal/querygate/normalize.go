package querygate

import (
	"fmt"
	"strings"

	"github.com/brucehart/harlite/internal/harerr"
)

// NormalizeSingleStatement walks sql honoring single- and double-quoted
// string literals (doubled-quote escapes), "--" line comments, and
// "/* ... */" block comments, and rejects any semicolon found outside those
// contexts as well as any non-whitespace content following a trailing
// semicolon (spec §4.10 rule 1). Grounded on original_source/src/commands/
// query.rs's normalize_single_statement.
func NormalizeSingleStatement(sql string) (string, error) {
	runes := []rune(sql)
	n := len(runes)

	var semicolonAt = -1

	i := 0
	for i < n {
		c := runes[i]
		switch {
		case c == '\'':
			i++
			for i < n {
				if runes[i] == '\'' {
					if i+1 < n && runes[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			continue
		case c == '"':
			i++
			for i < n {
				if runes[i] == '"' {
					if i+1 < n && runes[i+1] == '"' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			continue
		case c == '-' && i+1 < n && runes[i+1] == '-':
			for i < n && runes[i] != '\n' {
				i++
			}
			continue
		case c == '/' && i+1 < n && runes[i+1] == '*':
			i += 2
			for i+1 < n && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i += 2
			continue
		case c == ';':
			if semicolonAt >= 0 {
				return "", harerr.New(harerr.InputInvalid, "querygate.NormalizeSingleStatement",
					fmt.Errorf("multiple statements"))
			}
			semicolonAt = i
			i++
			continue
		default:
			i++
		}
	}

	if semicolonAt < 0 {
		return sql, nil
	}

	// Everything after the semicolon must be whitespace/comment-only.
	rest := string(runes[semicolonAt+1:])
	if strings.TrimSpace(stripTrailingComments(rest)) != "" {
		return "", harerr.New(harerr.InputInvalid, "querygate.NormalizeSingleStatement",
			fmt.Errorf("multiple statements"))
	}
	return string(runes[:semicolonAt]), nil
}

func stripTrailingComments(s string) string {
	var b strings.Builder
	runes := []rune(s)
	n := len(runes)
	i := 0
	for i < n {
		if runes[i] == '-' && i+1 < n && runes[i+1] == '-' {
			for i < n && runes[i] != '\n' {
				i++
			}
			continue
		}
		if runes[i] == '/' && i+1 < n && runes[i+1] == '*' {
			i += 2
			for i+1 < n && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i += 2
			continue
		}
		b.WriteRune(runes[i])
		i++
	}
	return b.String()
}

// WrapQuery applies LIMIT/OFFSET by wrapping the user statement in a
// subquery: "SELECT * FROM (<user sql>) LIMIT ? OFFSET ?", using LIMIT -1
// when only OFFSET is given (spec §4.10 rule 3).
func WrapQuery(sql string, opts Options) (string, []any) {
	if opts.Limit == nil && opts.Offset == nil {
		return sql, nil
	}

	var args []any
	wrapped := fmt.Sprintf("SELECT * FROM (%s)", sql)

	switch {
	case opts.Limit != nil && opts.Offset != nil:
		wrapped += " LIMIT ? OFFSET ?"
		args = append(args, *opts.Limit, *opts.Offset)
	case opts.Limit != nil:
		wrapped += " LIMIT ?"
		args = append(args, *opts.Limit)
	case opts.Offset != nil:
		wrapped += " LIMIT -1 OFFSET ?"
		args = append(args, *opts.Offset)
	}

	return wrapped, args
}
