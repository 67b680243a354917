package confnode

import "fmt"

// MergeError reports a shape conflict between a template and an override, for
// example an override mapping sitting where the template holds a scalar.
type MergeError struct {
	Path     string
	Expected Kind
	Actual   Kind
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge conflict at %s: template has %s, override has %s", e.Path, e.Expected, e.Actual)
}

// Merge combines a template tree with an override tree and returns a new tree.
// Neither input is mutated. The rules:
//
//   - a key only in the template is inherited unchanged
//   - a key only in the override is copied in as-is
//   - when both sides hold mappings the merge recurses
//   - any other override value (scalar, sequence, explicit null) replaces the
//     template value outright; sequences are never merged element-wise
//
// An absent override key always means "inherit". The only way to disable a
// template field is an explicit null, which survives the merge as KindNull.
func Merge(template, override *Node) (*Node, error) {
	if override == nil {
		return template.Clone(), nil
	}
	if template == nil {
		return override.Clone(), nil
	}
	return merge(template, override, "")
}

func merge(template, override *Node, path string) (*Node, error) {
	if override.kind == KindMapping {
		if template.kind == KindNull {
			// A null template slot carries no shape; the override re-populates it.
			return override.Clone(), nil
		}
		if template.kind != KindMapping {
			return nil, &MergeError{Path: displayPath(path), Expected: template.kind, Actual: override.kind}
		}
		result := Mapping()
		for _, key := range template.keys {
			childPath := joinPath(path, key)
			ovrChild, ok := override.children[key]
			if !ok {
				result.Set(key, template.children[key].Clone())
				continue
			}
			merged, err := merge(template.children[key], ovrChild, childPath)
			if err != nil {
				return nil, err
			}
			result.Set(key, merged)
		}
		for _, key := range override.keys {
			if _, ok := template.children[key]; ok {
				continue
			}
			result.Set(key, override.children[key].Clone())
		}
		return result, nil
	}
	// Scalar, sequence or null override wins outright.
	return override.Clone(), nil
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func displayPath(path string) string {
	if path == "" {
		return "(root)"
	}
	return path
}
