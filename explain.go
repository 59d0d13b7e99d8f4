package dynamake

import (
	"fmt"
	"os"
)

// Explain returns, in order, one verdict per persisted action of the rule
// that produces target, without invoking any handler or touching the
// up-to-date/poisoned sets or the session's stat cache. It works purely from
// the persisted log and the current filesystem state, so it is safe to call
// at any time, including mid-build. Only the recorded required inputs are
// checked (existence and recorded mtime); outputs, command changes and
// output-versus-input mtimes, which shouldRunAction also weighs, are not.
func (s *BuildSession) Explain(target string) ([]string, error) {
	rule, binding, err := s.Rules.Resolve(target)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return []string{fmt.Sprintf("%q has no producing rule; treated as a source file", target)}, nil
	}
	if rule.Phony {
		return []string{fmt.Sprintf("rule %q declares phony outputs: always rebuilt", rule.Name)}, nil
	}

	name := binding.CanonicalName(rule.Name)
	log, err := LoadPersistentLog(s.Params.String("persistent_directory"), name)
	if err != nil {
		return nil, err
	}
	if log == nil {
		return []string{"no persisted action log: target has never been built, or its log was removed after a failure"}, nil
	}
	if len(log.Actions) == 0 {
		return []string{"persisted log records no actions"}, nil
	}

	reasons := make([]string, len(log.Actions))
	for i, action := range log.Actions {
		reasons[i] = fmt.Sprintf("action %d (%v): %s", i, action.Command, s.explainAction(action))
	}
	return reasons, nil
}

// explainAction compares one persisted action's recorded required paths
// against the current filesystem, in sorted path order, returning the first
// path found missing or with a changed mtime, or else a verdict that its
// inputs are unchanged.
func (s *BuildSession) explainAction(action *PersistentAction) string {
	haveInput := false
	for _, path := range sortedKeys(action.Required) {
		req := action.Required[path]
		info, statErr := os.Stat(path)
		if statErr != nil || info == nil {
			return fmt.Sprintf("required input %q no longer exists", path)
		}
		haveInput = true
		if req.MTime == "" {
			continue
		}
		if current := FormatMTime(info.ModTime()); current != req.MTime {
			return fmt.Sprintf("required input %q changed since last build", path)
		}
	}
	if !haveInput {
		return "no inputs recorded: would be treated as up to date"
	}
	return "inputs unchanged since last build: would be skipped"
}
