package dynamake

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExplainNoRuleTreatsAsSource(t *testing.T) {
	dir := t.TempDir()
	session := newTestSession(t, filepath.Join(dir, ".dynamake"), NewShellRunner(""))

	reasons, err := session.Explain(filepath.Join(dir, "untracked.txt"))
	require.NoError(t, err)
	require.Len(t, reasons, 1)
}

func TestExplainPhonyRuleAlwaysRebuilds(t *testing.T) {
	dir := t.TempDir()
	session := newTestSession(t, filepath.Join(dir, ".dynamake"), NewShellRunner(""))
	require.NoError(t, session.Rules.Register(&Rule{
		Name:    "all",
		Outputs: []string{"all"},
		Phony:   true,
		Handler: func(ctx *BuildContext) error { return nil },
	}))

	reasons, err := session.Explain("all")
	require.NoError(t, err)
	require.Len(t, reasons, 1)
}

func TestExplainUnchangedInputSkips(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.txt")
	outPath := filepath.Join(dir, "out.txt")
	persistentDir := filepath.Join(dir, ".dynamake")
	require.NoError(t, os.WriteFile(inPath, []byte("x"), 0o644))

	runner := &countingRunner{inner: NewShellRunner("")}
	session := newTestSession(t, persistentDir, runner)
	require.NoError(t, session.Rules.Register(singleSourceTargetRule(outPath, inPath, runner)))
	require.NoError(t, session.Build(context.Background(), []string{outPath}))

	reasons, err := session.Explain(outPath)
	require.NoError(t, err)
	require.NotEmpty(t, reasons)
	require.Contains(t, reasons[0], "unchanged")
}

func TestExplainChangedInputWouldRerun(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.txt")
	outPath := filepath.Join(dir, "out.txt")
	persistentDir := filepath.Join(dir, ".dynamake")
	require.NoError(t, os.WriteFile(inPath, []byte("x"), 0o644))

	runner := &countingRunner{inner: NewShellRunner("")}
	session := newTestSession(t, persistentDir, runner)
	require.NoError(t, session.Rules.Register(singleSourceTargetRule(outPath, inPath, runner)))
	require.NoError(t, session.Build(context.Background(), []string{outPath}))

	require.NoError(t, os.WriteFile(inPath, []byte("changed"), 0o644))

	reasons, err := session.Explain(outPath)
	require.NoError(t, err)
	require.NotEmpty(t, reasons)
	require.Contains(t, reasons[0], "changed since last build")
}
