package dynamake

import (
	"fmt"
	"io"
	"plugin"
	"sort"
	"strings"
)

// RuleProvider is the symbol a rule-defining module exposes: a function
// named "Rules" returning every Rule it wants registered. Modules are
// ordinary Go plugins (built with `go build -buildmode=plugin`), since the
// core has no text-based rule DSL to interpret — rules are always
// registered programmatically.
type RuleProvider func() []*Rule

// LoadRuleModule opens a Go plugin at path and registers every Rule its
// "Rules" symbol returns.
func LoadRuleModule(registry *RuleRegistry, path string) error {
	p, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("loading module %q: %w", path, err)
	}
	sym, err := p.Lookup("Rules")
	if err != nil {
		return fmt.Errorf("module %q: missing Rules() symbol: %w", path, err)
	}
	provider, ok := sym.(func() []*Rule)
	if !ok {
		return fmt.Errorf("module %q: Rules symbol has unexpected type", path)
	}
	for _, rule := range provider() {
		if err := registry.Register(rule); err != nil {
			return fmt.Errorf("module %q: %w", path, err)
		}
	}
	return nil
}

// PrintRuleMetadata writes one line per registered rule (name, output
// pattern, priority), sorted by name, for `--list_steps`.
func PrintRuleMetadata(w io.Writer, registry *RuleRegistry) {
	registry.mu.Lock()
	names := make([]string, 0, len(registry.byName))
	for name := range registry.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	rules := make([]*Rule, len(names))
	for i, name := range names {
		rules[i] = registry.byName[name]
	}
	registry.mu.Unlock()

	for _, rule := range rules {
		phony := ""
		if rule.Phony {
			phony = "\tphony"
		}
		fmt.Fprintf(w, "%s\tpriority=%d\t%s%s\n", rule.Name, rule.Priority, strings.Join(rule.Outputs, ","), phony)
	}
}
