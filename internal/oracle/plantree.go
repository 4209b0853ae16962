package oracle

// ContainsNode reports whether any mapping nested anywhere in doc has a
// "Node Type" field equal to nodeType. doc is a generic decoded document:
// map[string]any, []any or scalars.
func ContainsNode(doc any, nodeType string) bool {
	stack := []any{doc}
	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]
		switch v := cur.(type) {
		case map[string]any:
			if t, ok := v["Node Type"].(string); ok && t == nodeType {
				return true
			}
			for _, child := range v {
				stack = append(stack, child)
			}
		case []any:
			stack = append(stack, v...)
		}
	}
	return false
}

// NodeTypes collects the distinct node types present in doc, in first-seen
// depth-first order. Used for diagnostics.
func NodeTypes(doc any) []string {
	seen := make(map[string]struct{})
	var out []string
	var walk func(any)
	walk = func(cur any) {
		switch v := cur.(type) {
		case map[string]any:
			if t, ok := v["Node Type"].(string); ok {
				if _, dup := seen[t]; !dup {
					seen[t] = struct{}{}
					out = append(out, t)
				}
			}
			if plan, ok := v["Plan"]; ok {
				walk(plan)
			}
			if plans, ok := v["Plans"]; ok {
				walk(plans)
			}
		case []any:
			for _, item := range v {
				walk(item)
			}
		}
	}
	walk(doc)
	return out
}
