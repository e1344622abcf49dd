package argv

import (
	"fmt"
	"os"
	"strings"
)

// maxResponseDepth bounds @file nesting; a cycle hits it quickly.
const maxResponseDepth = 32

// ReadFileFunc reads a response file.
type ReadFileFunc func(path string) ([]byte, error)

// Expand replaces every @file argument by the arguments stored in the file.
// Arguments read from a file are expanded again. An @file that cannot be
// read is kept as a literal argument.
func Expand(args []string, read ReadFileFunc) ([]string, error) {
	if read == nil {
		read = os.ReadFile
	}
	return expand(args, read, 0)
}

func expand(args []string, read ReadFileFunc, depth int) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if len(arg) < 2 || arg[0] != '@' {
			out = append(out, arg)
			continue
		}
		data, err := read(arg[1:])
		if err != nil {
			out = append(out, arg)
			continue
		}
		if depth >= maxResponseDepth {
			return nil, fmt.Errorf("%w: response files nested deeper than %d at %s", ErrBadArguments, maxResponseDepth, arg)
		}
		nested, err := expand(SplitResponse(string(data)), read, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}

// SplitResponse tokenizes response-file contents. Whitespace separates
// arguments; single and double quotes group; a backslash takes the next
// character literally, inside quotes too.
func SplitResponse(s string) []string {
	var (
		out     []string
		cur     strings.Builder
		inArg   bool
		squote  bool
		dquote  bool
		bsquote bool
	)
	for _, r := range s {
		switch {
		case bsquote:
			cur.WriteRune(r)
			bsquote = false
		case r == '\\':
			bsquote = true
			inArg = true
		case squote:
			if r == '\'' {
				squote = false
			} else {
				cur.WriteRune(r)
			}
		case dquote:
			if r == '"' {
				dquote = false
			} else {
				cur.WriteRune(r)
			}
		case r == '\'':
			squote = true
			inArg = true
		case r == '"':
			dquote = true
			inArg = true
		case isSpace(r):
			if inArg {
				out = append(out, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if inArg {
		out = append(out, cur.String())
	}
	return out
}

// QuoteResponse escapes arg so that SplitResponse returns it unchanged.
func QuoteResponse(arg string) string {
	if arg == "" {
		return `""`
	}
	var b strings.Builder
	for _, r := range arg {
		if isSpace(r) || r == '\'' || r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// WriteResponseFile stores args in path, one quoted argument per line.
func WriteResponseFile(path string, args []string) error {
	var b strings.Builder
	for _, arg := range args {
		b.WriteString(QuoteResponse(arg))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write response file %q: %w", path, err)
	}
	return nil
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}
