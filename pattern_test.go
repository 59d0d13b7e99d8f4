package dynamake

import "testing"

func TestParsePatternNames(t *testing.T) {
	tests := []struct {
		raw   string
		names []string
	}{
		{"foo.txt", nil},
		{"{*x}.txt", []string{"x"}},
		{"{**dir}/{*file}.txt", []string{"dir", "file"}},
		{"{name}.txt", nil},
		{"{{literal}}", nil},
	}
	for _, tt := range tests {
		p, err := ParsePattern(tt.raw)
		if err != nil {
			t.Fatalf("ParsePattern(%q): %v", tt.raw, err)
		}
		got := p.Names()
		if len(got) != len(tt.names) {
			t.Fatalf("ParsePattern(%q).Names() = %v, want %v", tt.raw, got, tt.names)
		}
		for i := range got {
			if got[i] != tt.names[i] {
				t.Fatalf("ParsePattern(%q).Names() = %v, want %v", tt.raw, got, tt.names)
			}
		}
	}
}

func TestParsePatternErrors(t *testing.T) {
	tests := []string{
		"{*",
		"{*:sub}",
		"{**n:}",
		"{*n",
	}
	for _, raw := range tests {
		if _, err := ParsePattern(raw); err == nil {
			t.Errorf("ParsePattern(%q): expected error", raw)
		}
	}
}

func TestToGlob(t *testing.T) {
	tests := []struct {
		raw  string
		glob string
	}{
		{"{*x}.txt", "*.txt"},
		{"{**dir}/{*file}.py", "**/*.py"},
		{"{*x:*.go}", "*.go"},
		{"{name}.txt", "{name}.txt"},
	}
	for _, tt := range tests {
		p, err := ParsePattern(tt.raw)
		if err != nil {
			t.Fatalf("ParsePattern(%q): %v", tt.raw, err)
		}
		if got := p.ToGlob(); got != tt.glob {
			t.Errorf("ParsePattern(%q).ToGlob() = %q, want %q", tt.raw, got, tt.glob)
		}
	}
}

func TestMatchAndBindings(t *testing.T) {
	p, err := ParsePattern("foo/{**n}/baz")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"foo/baz", "", true},
		{"foo/x/y/baz", "x/y", true},
		{"foo/x/y/quux", "", false},
	}
	for _, tt := range tests {
		bindings, ok := p.Match(tt.path)
		if ok != tt.ok {
			t.Fatalf("Match(%q) ok = %v, want %v", tt.path, ok, tt.ok)
		}
		if !ok {
			continue
		}
		if got := bindings["n"]; got != tt.want {
			t.Errorf("Match(%q)[n] = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMatchDropsUnderscoreNames(t *testing.T) {
	p, err := ParsePattern("{*_skip}/{*keep}.txt")
	if err != nil {
		t.Fatal(err)
	}
	bindings, ok := p.Match("a/b.txt")
	if !ok {
		t.Fatal("expected match")
	}
	if _, present := bindings["_skip"]; present {
		t.Errorf("binding retained underscore-prefixed name: %v", bindings)
	}
	if bindings["keep"] != "b" {
		t.Errorf("bindings[keep] = %q, want %q", bindings["keep"], "b")
	}
}

func TestSubstitute(t *testing.T) {
	p, err := ParsePattern("{**dir}/{*name}.o")
	if err != nil {
		t.Fatal(err)
	}
	sub, err := p.Substitute(map[string]string{"name": "main"})
	if err != nil {
		t.Fatal(err)
	}
	if got := sub.ToGlob(); got != "**/main.o" {
		t.Errorf("Substitute partial binding ToGlob() = %q, want %q", got, "**/main.o")
	}
}

func TestSubstituteEscapesBraces(t *testing.T) {
	p, err := ParsePattern("{*name}.txt")
	if err != nil {
		t.Fatal(err)
	}
	sub, err := p.Substitute(map[string]string{"name": "a{b}c"})
	if err != nil {
		t.Fatal(err)
	}
	if sub.raw != "a{{b}}c.txt" {
		t.Errorf("Substitute raw = %q, want %q", sub.raw, "a{{b}}c.txt")
	}
}

func TestFormat(t *testing.T) {
	s := newAnnotatedPath("{a}/{b}.txt").WithOptional()
	out, err := Format(map[string]string{"a": "dir", "b": "file"}, s)
	if err != nil {
		t.Fatal(err)
	}
	if out.Path != "dir/file.txt" {
		t.Errorf("Format() = %q, want %q", out.Path, "dir/file.txt")
	}
	if !out.Optional {
		t.Error("Format() lost the Optional annotation")
	}
}

func TestGlobToRegex(t *testing.T) {
	tests := []struct {
		glob  string
		regex string
	}{
		{"*.py", `[^/]*\.py`},
		{"?.txt", `[^/]\.txt`},
		{"[!abc]", `[^/abc]`},
		{"[^abc]", `[\^abc]`},
		{"[abc", `\[abc`},
	}
	for _, tt := range tests {
		if got := GlobToRegex(tt.glob); got != tt.regex {
			t.Errorf("GlobToRegex(%q) = %q, want %q", tt.glob, got, tt.regex)
		}
	}
}

func TestGlobCaptureNonOptionalFailsOnNoMatch(t *testing.T) {
	cache := NewStatCache()
	_, _, err := GlobCapture(cache, []AnnotatedPath{newAnnotatedPath("no/such/{*x}.txt")})
	if err == nil {
		t.Fatal("expected *NonOptionalGlobError")
	}
	if _, ok := err.(*NonOptionalGlobError); !ok {
		t.Fatalf("err = %T, want *NonOptionalGlobError", err)
	}
}

func TestGlobCaptureOptionalToleratesNoMatch(t *testing.T) {
	cache := NewStatCache()
	paths, bindings, err := GlobCapture(cache, []AnnotatedPath{newAnnotatedPath("no/such/{*x}.txt").WithOptional()})
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 0 || len(bindings) != 0 {
		t.Errorf("expected no matches, got paths=%v bindings=%v", paths, bindings)
	}
}
