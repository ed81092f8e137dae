package tools

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FieldIssue represents a single validation issue for a tool payload.
// Constraint is the failing JSON Schema keyword (required, type, enum,
// minLength, ...).
type FieldIssue struct {
	// Field is the JSON pointer of the offending value ("" is the root).
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	// Message is the validator's description of the failure.
	Message string `json:"message,omitempty"`
}

// ValidationError reports tool arguments that do not satisfy the tool's
// parameter schema.
type ValidationError struct {
	Tool   string
	Issues []FieldIssue
}

// Error implements error.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		field := is.Field
		if field == "" {
			field = "/"
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", field, is.Constraint))
	}
	return fmt.Sprintf("invalid arguments for tool %q: %s", e.Tool, strings.Join(parts, ", "))
}

// issuesFrom flattens a jsonschema validation error into field issues, one
// per leaf cause. Required-property failures produce one issue per missing
// property.
func issuesFrom(err error) []FieldIssue {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []FieldIssue{{Constraint: "schema", Message: err.Error()}}
	}
	var out []FieldIssue
	var walk func(v *jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) > 0 {
			for _, c := range v.Causes {
				walk(c)
			}
			return
		}
		field := pointer(v.InstanceLocation)
		constraint := keyword(v.ErrorKind)
		if req, ok := v.ErrorKind.(*kind.Required); ok {
			for _, name := range req.Missing {
				out = append(out, FieldIssue{Field: field + "/" + name, Constraint: constraint, Message: "missing property"})
			}
			return
		}
		out = append(out, FieldIssue{Field: field, Constraint: constraint, Message: v.ErrorKind.LocalizedString(printer)})
	}
	walk(verr)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

func pointer(loc []string) string {
	if len(loc) == 0 {
		return ""
	}
	return "/" + strings.Join(loc, "/")
}

func keyword(k jsonschema.ErrorKind) string {
	if k == nil {
		return "schema"
	}
	path := k.KeywordPath()
	if len(path) == 0 {
		return "schema"
	}
	return path[len(path)-1]
}
