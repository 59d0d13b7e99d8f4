package dynamake

import (
	"fmt"
	"strconv"
	"sync"
)

// ParamValue is anything a Parameter can hold: bool, int, or string.
type ParamValue interface{}

// Parameter is one named, typed, defaulted, overridable build setting.
type Parameter struct {
	Name    string
	Default ParamValue
	Parse   func(s string) (ParamValue, error)
}

func boolParam(name string, def bool) *Parameter {
	return &Parameter{Name: name, Default: def, Parse: func(s string) (ParamValue, error) {
		return strconv.ParseBool(s)
	}}
}

func intParam(name string, def int) *Parameter {
	return &Parameter{Name: name, Default: def, Parse: func(s string) (ParamValue, error) {
		return strconv.Atoi(s)
	}}
}

func stringParam(name string, def string) *Parameter {
	return &Parameter{Name: name, Default: def, Parse: func(s string) (ParamValue, error) {
		return s, nil
	}}
}

// ParamRegistry holds every recognized Parameter and the current value
// bound to it, per §6's table: jobs, log_level, log_skipped_actions,
// rebuild_changed_actions, persistent_directory, failure_aborts_build,
// remove_stale_outputs, touch_success_outputs, remove_failed_outputs,
// remove_empty_directories, default_shell_prefix.
type ParamRegistry struct {
	mu     sync.Mutex
	params map[string]*Parameter
	values map[string]ParamValue
}

// NewParamRegistry builds a registry pre-populated with the core's
// recognized parameters and their defaults.
func NewParamRegistry() *ParamRegistry {
	reg := &ParamRegistry{
		params: map[string]*Parameter{},
		values: map[string]ParamValue{},
	}
	for _, p := range []*Parameter{
		intParam("jobs", -1),
		stringParam("log_level", "WARN"),
		boolParam("log_skipped_actions", false),
		boolParam("rebuild_changed_actions", true),
		stringParam("persistent_directory", ".dynamake"),
		boolParam("failure_aborts_build", true),
		boolParam("remove_stale_outputs", true),
		boolParam("touch_success_outputs", false),
		boolParam("remove_failed_outputs", true),
		boolParam("remove_empty_directories", false),
		stringParam("default_shell_prefix", "set -eou pipefail;"),
	} {
		reg.define(p)
	}
	return reg
}

func (r *ParamRegistry) define(p *Parameter) {
	r.params[p.Name] = p
	r.values[p.Name] = p.Default
}

// Set stores value verbatim for a known parameter. Setting an unregistered
// parameter is an error.
func (r *ParamRegistry) Set(name string, value ParamValue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.params[name]; !ok {
		return fmt.Errorf("unknown parameter %q", name)
	}
	r.values[name] = value
	return nil
}

// SetFromString runs value through name's parser before storing it; this is
// the path used by configuration files and CLI flags, where every raw
// value arrives as a string.
func (r *ParamRegistry) SetFromString(name, value string) error {
	r.mu.Lock()
	p, ok := r.params[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown parameter %q", name)
	}
	parsed, err := p.Parse(value)
	if err != nil {
		return fmt.Errorf("parameter %q: %w", name, err)
	}
	return r.Set(name, parsed)
}

func (r *ParamRegistry) get(name string) ParamValue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[name]
}

// Int reads an int-typed parameter.
func (r *ParamRegistry) Int(name string) int {
	v, _ := r.get(name).(int)
	return v
}

// Bool reads a bool-typed parameter.
func (r *ParamRegistry) Bool(name string) bool {
	v, _ := r.get(name).(bool)
	return v
}

// String reads a string-typed parameter.
func (r *ParamRegistry) String(name string) string {
	v, _ := r.get(name).(string)
	return v
}

// LoadConfig applies a top-level mapping of parameter_name: value the way a
// configuration file does: every key must already be registered, and
// string values are parsed through the parameter's Parse function while
// non-strings are stored verbatim.
func (r *ParamRegistry) LoadConfig(doc map[string]interface{}) error {
	for name, raw := range doc {
		if s, ok := raw.(string); ok {
			if err := r.SetFromString(name, s); err != nil {
				return err
			}
			continue
		}
		if err := r.Set(name, raw); err != nil {
			return err
		}
	}
	return nil
}
