package dynamake

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Handler is the user logic bound to a Rule. It runs inside an Invocation
// and drives the build by calling methods on the BuildContext it receives.
type Handler func(ctx *BuildContext) error

// Rule is a registered unit mapping one or more output capture-patterns to a
// handler and a priority. Higher priority wins when several rules' outputs
// match the same path.
type Rule struct {
	Name     string
	Outputs  []string
	Priority int
	Handler  Handler
	// Precious marks this rule's declared outputs as never deleted by the
	// engine, even during stale-output removal or failure cleanup.
	Precious bool
	// Phony declares that this rule's outputs are not real files: they are
	// always rebuilt when required, and the actual build succeeds as long as
	// the action completes, regardless of whether the output patterns glob
	// to any files on disk.
	Phony bool

	patterns []Pattern
}

// Binding is the name→value map produced by matching a concrete path
// against a rule's output pattern.
type Binding map[string]string

// SortedKeys returns the binding's keys in sorted order, for building a
// canonical invocation name.
func (b Binding) SortedKeys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CanonicalName returns "rule#k1=v1#k2=v2" the way Invocation identity is
// derived: rule name plus sorted binding pairs, each introduced by '#', with
// every '/' in a value escaped as "\/".
func (b Binding) CanonicalName(ruleName string) string {
	var sb strings.Builder
	sb.WriteString(ruleName)
	for _, k := range b.SortedKeys() {
		sb.WriteByte('#')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(strings.ReplaceAll(b[k], "/", "\\/"))
	}
	return sb.String()
}

type registeredRule struct {
	rule *Rule
}

// RuleRegistry holds every registered Rule and resolves concrete paths to
// the rule (and binding) that produces them. Registration is append-only
// until the registry is frozen, at which point the driver has started and
// further registration is rejected.
type RuleRegistry struct {
	mu     sync.Mutex
	rules  []registeredRule
	byName map[string]*Rule
	frozen bool
}

// NewRuleRegistry creates an empty registry.
func NewRuleRegistry() *RuleRegistry {
	return &RuleRegistry{byName: map[string]*Rule{}}
}

// Register normalizes rule.Outputs, compiles each pattern's regex, and
// appends the rule to the registry. It is an error to register after Freeze,
// to reuse a rule name, or to register a rule with no declared outputs.
func (reg *RuleRegistry) Register(rule *Rule) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.frozen {
		return fmt.Errorf("rule registry is frozen: cannot register rule %q", rule.Name)
	}
	if _, dup := reg.byName[rule.Name]; dup {
		return fmt.Errorf("duplicate rule name %q", rule.Name)
	}
	if len(rule.Outputs) == 0 {
		return fmt.Errorf("rule %q declares no outputs", rule.Name)
	}

	patterns := make([]Pattern, len(rule.Outputs))
	for i, output := range rule.Outputs {
		pat, err := ParsePattern(output)
		if err != nil {
			return err
		}
		if _, err := pat.ToRegex(); err != nil {
			return err
		}
		patterns[i] = pat
	}

	rule.patterns = patterns
	reg.byName[rule.Name] = rule
	reg.rules = append(reg.rules, registeredRule{rule: rule})
	return nil
}

// Freeze rejects any further Register calls; the top-level driver calls
// this once before it starts requiring targets.
func (reg *RuleRegistry) Freeze() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.frozen = true
}

type resolution struct {
	rule    *Rule
	binding Binding
}

// Resolve finds the highest-priority rule with an output pattern matching
// path, breaking ties by rule name, and reports ambiguity if the top two
// candidates share both priority and match. It returns (nil, nil, nil) when
// no rule matches; callers then treat path as a source file.
func (reg *RuleRegistry) Resolve(path string) (*Rule, Binding, error) {
	reg.mu.Lock()
	candidates := make([]registeredRule, len(reg.rules))
	copy(candidates, reg.rules)
	reg.mu.Unlock()

	var matches []resolution
	for _, c := range candidates {
		for _, pat := range c.rule.patterns {
			groups, ok := pat.Match(path)
			if !ok {
				continue
			}
			matches = append(matches, resolution{rule: c.rule, binding: Binding(groups)})
			break
		}
	}
	if len(matches) == 0 {
		return nil, nil, nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].rule.Priority != matches[j].rule.Priority {
			return matches[i].rule.Priority > matches[j].rule.Priority
		}
		return matches[i].rule.Name < matches[j].rule.Name
	})

	top := matches[0]
	if len(matches) > 1 {
		second := matches[1]
		if second.rule.Priority == top.rule.Priority {
			return nil, nil, &ResolutionError{
				Path:  path,
				Rule1: top.rule.Name,
				Rule2: second.rule.Name,
			}
		}
	}
	return top.rule, top.binding, nil
}
