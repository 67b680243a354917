package confrule

import (
	"fmt"

	"tradeconf/pkg/confnode"
)

// Code classifies a violation.
type Code string

const (
	// CodeRequired marks a missing or explicit-null required field.
	CodeRequired Code = "required"
	// CodeTypeMismatch marks a value of the wrong type.
	CodeTypeMismatch Code = "type_mismatch"
	// CodeOutOfRange marks a numeric value outside its declared bounds.
	CodeOutOfRange Code = "out_of_range"
	// CodeDependency marks a broken cross-field rule.
	CodeDependency Code = "dependency"
	// CodeConstraint marks a broken tier-sequence constraint.
	CodeConstraint Code = "constraint"
	// CodeUnresolvedEnv marks a leftover ${VAR} placeholder. Warning level.
	CodeUnresolvedEnv Code = "unresolved_env"
)

// Violation is one finding: the dotted field path plus a human message.
type Violation struct {
	Path    string
	Code    Code
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.Path, v.Message, v.Code)
}

// Result collects every violation found in one validation pass. OK is defined
// purely by the absence of error-level violations; warnings never fail a
// candidate snapshot.
type Result struct {
	Errors   []Violation
	Warnings []Violation
}

// OK reports whether the pass found no error-level violations.
func (r *Result) OK() bool { return len(r.Errors) == 0 }

func (r *Result) addError(path string, code Code, format string, args ...interface{}) {
	r.Errors = append(r.Errors, Violation{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) addWarning(path string, code Code, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, Violation{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Merge appends another result's findings, prefixing each path with the given
// scope (e.g. "broker/IQOPTION").
func (r *Result) Merge(scope string, other *Result) {
	for _, v := range other.Errors {
		r.Errors = append(r.Errors, Violation{Path: scope + ": " + v.Path, Code: v.Code, Message: v.Message})
	}
	for _, v := range other.Warnings {
		r.Warnings = append(r.Warnings, Violation{Path: scope + ": " + v.Path, Code: v.Code, Message: v.Message})
	}
}

// Validate checks a configuration tree against a rule set. It never stops at
// the first problem: the returned result lists every violation, ordered by
// check phase (required, types, ranges, dependencies, tiers) and, within a
// phase, by rule declaration order.
func Validate(root *confnode.Node, rules RuleSet) *Result {
	result := &Result{}

	for _, path := range rules.Required {
		node, ok := root.Lookup(path)
		if !ok {
			result.addError(path, CodeRequired, "required field is missing")
			continue
		}
		if node.IsNull() {
			result.addError(path, CodeRequired, "required field must not be null")
		}
	}

	for _, rule := range rules.Types {
		node, ok := root.Lookup(rule.Path)
		if !ok || node.IsNull() {
			// Absent fields are the template's concern; null disables the field
			// and suspends its own type checks.
			continue
		}
		if !matchesType(node, rule.Type) {
			result.addError(rule.Path, CodeTypeMismatch, "expected %s, got %s", rule.Type, describe(node))
		}
	}

	for _, rule := range rules.Numbers {
		node, ok := root.Lookup(rule.Path)
		if !ok || node.IsNull() {
			continue
		}
		value, numeric := node.FloatVal()
		if !numeric {
			result.addError(rule.Path, CodeTypeMismatch, "expected number, got %s", describe(node))
			continue
		}
		checkRange(result, rule.Path, value, rule.Range)
	}

	for _, dep := range rules.Dependencies {
		governing, ok := root.Lookup(dep.If)
		if !ok || governing.IsNull() {
			continue
		}
		value, isString := governing.StringVal()
		if !isString || value != dep.Equals {
			continue
		}
		target, ok := root.Lookup(dep.Then)
		if !ok {
			result.addError(dep.Then, CodeDependency, "required because %s is %q", dep.If, dep.Equals)
			continue
		}
		if target.IsNull() {
			result.addError(dep.Then, CodeDependency, "must not be null while %s is %q", dep.If, dep.Equals)
			continue
		}
		if dep.ThenNumber && !target.IsNumber() {
			result.addError(dep.Then, CodeDependency, "must be numeric while %s is %q", dep.If, dep.Equals)
		}
	}

	for _, tier := range rules.Tiers {
		validateTiers(result, root, tier)
	}

	scanPlaceholders(result, root, "")

	return result
}

func matchesType(node *confnode.Node, want Type) bool {
	switch want {
	case TypeMapping:
		return node.Kind() == confnode.KindMapping
	case TypeSequence:
		return node.Kind() == confnode.KindSequence
	case TypeString:
		_, ok := node.StringVal()
		return ok
	case TypeBool:
		_, ok := node.BoolVal()
		return ok
	case TypeNumber:
		return node.IsNumber()
	default:
		return false
	}
}

func describe(node *confnode.Node) string {
	if node.Kind() != confnode.KindScalar {
		return node.Kind().String()
	}
	switch node.Value().(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case int64, float64:
		return "number"
	default:
		return "scalar"
	}
}

func checkRange(result *Result, path string, value float64, r Range) {
	if r.Min != nil {
		if r.ExclusiveMin && value <= *r.Min {
			result.addError(path, CodeOutOfRange, "must be greater than %g, got %g", *r.Min, value)
			return
		}
		if !r.ExclusiveMin && value < *r.Min {
			result.addError(path, CodeOutOfRange, "must be at least %g, got %g", *r.Min, value)
			return
		}
	}
	if r.Max != nil && value > *r.Max {
		result.addError(path, CodeOutOfRange, "must be at most %g, got %g", *r.Max, value)
	}
}

func validateTiers(result *Result, root *confnode.Node, rule TierRule) {
	seq, ok := root.Lookup(rule.Path)
	if !ok || seq.IsNull() {
		return
	}
	if seq.Kind() != confnode.KindSequence {
		result.addError(rule.Path, CodeTypeMismatch, "expected sequence, got %s", describe(seq))
		return
	}
	prev := 0.0
	havePrev := false
	for i, item := range seq.Items() {
		entryPath := fmt.Sprintf("%s[%d]", rule.Path, i)
		if item.Kind() != confnode.KindMapping {
			result.addError(entryPath, CodeConstraint, "tier entry must be a mapping")
			continue
		}
		thresholdNode, ok := item.Child(rule.ThresholdKey)
		if !ok {
			result.addError(entryPath+"."+rule.ThresholdKey, CodeConstraint, "tier entry missing %s", rule.ThresholdKey)
		} else if threshold, numeric := thresholdNode.FloatVal(); !numeric {
			result.addError(entryPath+"."+rule.ThresholdKey, CodeConstraint, "%s must be numeric", rule.ThresholdKey)
		} else {
			if havePrev && threshold <= prev {
				result.addError(entryPath+"."+rule.ThresholdKey, CodeConstraint,
					"%s must be strictly increasing: %g follows %g", rule.ThresholdKey, threshold, prev)
			}
			prev = threshold
			havePrev = true
		}
		multiplierNode, ok := item.Child(rule.MultiplierKey)
		if !ok {
			result.addError(entryPath+"."+rule.MultiplierKey, CodeConstraint, "tier entry missing %s", rule.MultiplierKey)
		} else if multiplier, numeric := multiplierNode.FloatVal(); !numeric {
			result.addError(entryPath+"."+rule.MultiplierKey, CodeConstraint, "%s must be numeric", rule.MultiplierKey)
		} else if multiplier <= 0 {
			result.addError(entryPath+"."+rule.MultiplierKey, CodeConstraint,
				"%s must be positive, got %g", rule.MultiplierKey, multiplier)
		}
	}
}

func scanPlaceholders(result *Result, node *confnode.Node, path string) {
	switch node.Kind() {
	case confnode.KindScalar:
		if node.HasUnresolvedPlaceholder() {
			s, _ := node.StringVal()
			result.addWarning(pathOrRoot(path), CodeUnresolvedEnv, "unresolved placeholder %q", s)
		}
	case confnode.KindSequence:
		for i, item := range node.Items() {
			scanPlaceholders(result, item, fmt.Sprintf("%s[%d]", path, i))
		}
	case confnode.KindMapping:
		for _, key := range node.Keys() {
			child, _ := node.Child(key)
			next := key
			if path != "" {
				next = path + "." + key
			}
			scanPlaceholders(result, child, next)
		}
	}
}

func pathOrRoot(path string) string {
	if path == "" {
		return "(root)"
	}
	return path
}
