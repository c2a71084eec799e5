package ppl

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var varPattern = regexp.MustCompile(`\$(\w+)`)

// substitute expands every $name reference in text from vars. Expansion is
// a single left-to-right pass: values that themselves contain '$' are not
// re-expanded. Referencing an unset variable is an error.
func substitute(text string, vars map[string]string) (string, error) {
	if !strings.Contains(text, "$") {
		return text, nil
	}
	var missing string
	out := varPattern.ReplaceAllStringFunc(text, func(ref string) string {
		name := ref[1:]
		if v, ok := vars[name]; ok {
			return v
		}
		if missing == "" {
			missing = name
		}
		return ref
	})
	if missing != "" {
		return "", errors.Wrapf(ErrUndefinedVariable,
			"variable '$%s' is not defined. Use 'set %s = <value>' first", missing, missing)
	}
	return out, nil
}
