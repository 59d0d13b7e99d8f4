package dynamake

import "testing"

func noopHandler(ctx *BuildContext) error { return nil }

func TestRuleRegistryResolvePriority(t *testing.T) {
	reg := NewRuleRegistry()
	if err := reg.Register(&Rule{Name: "generic", Outputs: []string{"{*x}.txt"}, Priority: 0, Handler: noopHandler}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(&Rule{Name: "special", Outputs: []string{"special.txt"}, Priority: 1, Handler: noopHandler}); err != nil {
		t.Fatal(err)
	}

	rule, _, err := reg.Resolve("special.txt")
	if err != nil {
		t.Fatal(err)
	}
	if rule.Name != "special" {
		t.Errorf("Resolve() picked %q, want %q", rule.Name, "special")
	}

	rule, binding, err := reg.Resolve("other.txt")
	if err != nil {
		t.Fatal(err)
	}
	if rule.Name != "generic" {
		t.Errorf("Resolve() picked %q, want %q", rule.Name, "generic")
	}
	if binding["x"] != "other" {
		t.Errorf("binding[x] = %q, want %q", binding["x"], "other")
	}
}

func TestRuleRegistryAmbiguousPriorityIsError(t *testing.T) {
	reg := NewRuleRegistry()
	reg.Register(&Rule{Name: "a", Outputs: []string{"special.txt"}, Priority: 1, Handler: noopHandler})
	reg.Register(&Rule{Name: "b", Outputs: []string{"special.txt"}, Priority: 1, Handler: noopHandler})

	_, _, err := reg.Resolve("special.txt")
	if err == nil {
		t.Fatal("expected ambiguity error")
	}
	resErr, ok := err.(*ResolutionError)
	if !ok {
		t.Fatalf("err = %T, want *ResolutionError", err)
	}
	if resErr.Rule1 == "" || resErr.Rule2 == "" {
		t.Errorf("ResolutionError missing rule names: %+v", resErr)
	}
}

func TestRuleRegistryNoMatchReturnsNil(t *testing.T) {
	reg := NewRuleRegistry()
	reg.Register(&Rule{Name: "a", Outputs: []string{"{*x}.txt"}, Priority: 0, Handler: noopHandler})

	rule, binding, err := reg.Resolve("foo.bin")
	if err != nil {
		t.Fatal(err)
	}
	if rule != nil || binding != nil {
		t.Errorf("Resolve(no match) = (%v, %v), want (nil, nil)", rule, binding)
	}
}

func TestRuleRegistryFreezeRejectsRegister(t *testing.T) {
	reg := NewRuleRegistry()
	reg.Freeze()
	err := reg.Register(&Rule{Name: "late", Outputs: []string{"late.txt"}, Handler: noopHandler})
	if err == nil {
		t.Fatal("expected error registering after Freeze")
	}
}

func TestRuleRegistryMultiOutputResolvesFromEitherPattern(t *testing.T) {
	reg := NewRuleRegistry()
	if err := reg.Register(&Rule{
		Name:    "compile",
		Outputs: []string{"{*x}.o", "{*x}.d"},
		Handler: noopHandler,
	}); err != nil {
		t.Fatal(err)
	}

	rule, binding, err := reg.Resolve("foo.o")
	if err != nil {
		t.Fatal(err)
	}
	if rule == nil || rule.Name != "compile" || binding["x"] != "foo" {
		t.Errorf("Resolve(foo.o) = (%v, %v), want rule compile with x=foo", rule, binding)
	}

	rule, binding, err = reg.Resolve("foo.d")
	if err != nil {
		t.Fatal(err)
	}
	if rule == nil || rule.Name != "compile" || binding["x"] != "foo" {
		t.Errorf("Resolve(foo.d) = (%v, %v), want rule compile with x=foo", rule, binding)
	}
}

func TestRuleRegistryRejectsNoOutputs(t *testing.T) {
	reg := NewRuleRegistry()
	err := reg.Register(&Rule{Name: "empty", Handler: noopHandler})
	if err == nil {
		t.Fatal("expected error registering a rule with no outputs")
	}
}

func TestBindingCanonicalName(t *testing.T) {
	b := Binding{"b": "2", "a": "1"}
	got := b.CanonicalName("rule")
	want := "rule#a=1#b=2"
	if got != want {
		t.Errorf("CanonicalName() = %q, want %q", got, want)
	}
}
