package confnode

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var envPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// MissingEnvVarError reports a ${VAR} placeholder in a required field that has
// no value in the process environment.
type MissingEnvVarError struct {
	Var  string
	Path string
}

func (e *MissingEnvVarError) Error() string {
	return fmt.Sprintf("environment variable %s required by %s is not set", e.Var, e.Path)
}

// ExpandEnv resolves ${NAME} placeholders in string scalars against the
// process environment, mutating the tree in place. Placeholders at or under
// one of the required path prefixes must resolve; anywhere else an unresolved
// placeholder is left as a literal marker for the validator to flag.
func ExpandEnv(n *Node, required []string) error {
	return expandEnv(n, "", required)
}

func expandEnv(n *Node, path string, required []string) error {
	switch n.kind {
	case KindScalar:
		s, ok := n.value.(string)
		if !ok || !strings.Contains(s, "${") {
			return nil
		}
		var missing string
		expanded := envPlaceholder.ReplaceAllStringFunc(s, func(match string) string {
			name := match[2 : len(match)-1]
			if val, ok := os.LookupEnv(name); ok {
				return val
			}
			if missing == "" {
				missing = name
			}
			return match
		})
		if missing != "" && underRequired(path, required) {
			return &MissingEnvVarError{Var: missing, Path: displayPath(path)}
		}
		n.value = expanded
		n.raw = expanded
		return nil
	case KindSequence:
		for i, item := range n.items {
			if err := expandEnv(item, fmt.Sprintf("%s[%d]", path, i), required); err != nil {
				return err
			}
		}
		return nil
	case KindMapping:
		for _, key := range n.keys {
			if err := expandEnv(n.children[key], joinPath(path, key), required); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

func underRequired(path string, required []string) bool {
	for _, prefix := range required {
		if path == prefix || strings.HasPrefix(path, prefix+".") || strings.HasPrefix(path, prefix+"[") {
			return true
		}
	}
	return false
}

// HasUnresolvedPlaceholder reports whether a string scalar still carries a
// ${VAR} marker after load-time expansion.
func (n *Node) HasUnresolvedPlaceholder() bool {
	s, ok := n.StringVal()
	return ok && envPlaceholder.MatchString(s)
}
