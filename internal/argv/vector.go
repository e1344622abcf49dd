package argv

import "strings"

// Vector is an ordered argument vector. Element 0 is the program to run.
// Vectors are built fresh per invocation and never modified afterwards.
type Vector []string

// Program returns the executable path.
func (v Vector) Program() string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Args returns a copy of the arguments after the program.
func (v Vector) Args() []string {
	if len(v) < 2 {
		return nil
	}
	out := make([]string, len(v)-1)
	copy(out, v[1:])
	return out
}

// Strings returns a copy of the whole vector.
func (v Vector) Strings() []string {
	out := make([]string, len(v))
	copy(out, v)
	return out
}

// String renders the vector the way -v echoes commands.
func (v Vector) String() string {
	parts := make([]string, len(v))
	for i, arg := range v {
		if arg == "" || strings.ContainsAny(arg, " \t\n'\"\\") {
			parts[i] = "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
			continue
		}
		parts[i] = arg
	}
	return strings.Join(parts, " ")
}
