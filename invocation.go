package dynamake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ActionKind selects how Action spawns its subprocess.
type ActionKind int

const (
	// ActionShell joins command words through a shell, so pipes,
	// redirection, and globbing in the command text work as expected.
	ActionShell ActionKind = iota
	// ActionSpawn execs the command words directly, with no shell.
	ActionSpawn
)

// ActionOptions configures one Action call.
type ActionOptions struct {
	Kind       ActionKind
	Resources  map[string]int
	IgnoreExit bool
	// PhonyWords marks indices of words that are excluded from the
	// persisted form of the command (but still executed).
	PhonyWords map[int]bool
	// EmphasizedWords marks indices of words that render bold when this
	// action is logged.
	EmphasizedWords map[int]bool
	// MissingOutputs overrides the invocation's tolerance for declared
	// output patterns that match nothing once this (and every other)
	// action of the invocation has run. The last Action call of an
	// invocation wins.
	MissingOutputs MissingOutputsPolicy
}

// Invocation is a runtime instance of a Rule at a specific Binding. Exactly
// one Invocation exists per canonical name at any instant; concurrent
// requirers of the same name attach to it instead of re-running it.
type Invocation struct {
	session *BuildSession
	name    string
	rule    *Rule
	binding Binding
	parent  *Invocation

	group errgroup.Group

	mu sync.Mutex

	required []AnnotatedPath

	newestInputPath string
	newestInputNS   int64
	haveInput       bool

	initialOutputs    []string
	finalOutputs      []string
	oldestOutputPath  string
	oldestOutputNS    int64
	haveInitialOutput bool

	phonyOutputNames map[string]bool
	missingOutput    string
	abandonedOutput  string

	oldLog               *PersistentLog
	newPersistentActions []*PersistentAction
	pending              *PersistentAction // accumulates require()s until the next action() finalizes it

	mustRunAction            bool
	didSkipActions           bool
	didRunActions            bool
	ranFirstAction           bool
	shouldRemoveStaleOutputs bool
	missingOutputsPolicy     MissingOutputsPolicy

	err  error
	done chan struct{}
}

func newInvocation(session *BuildSession, name string, rule *Rule, binding Binding, parent *Invocation) *Invocation {
	return &Invocation{
		session:          session,
		name:             name,
		rule:             rule,
		binding:          binding,
		parent:           parent,
		phonyOutputNames: map[string]bool{},
		done:             make(chan struct{}),
	}
}

// BuildContext is the explicit handle a Rule's Handler receives, standing
// in for the source's ambient "current invocation" pointer: every call a
// handler makes — directly or through a helper — goes through this value,
// so it always reaches the right Invocation.
type BuildContext struct {
	inv *Invocation
	ctx context.Context
}

func (bc *BuildContext) logger() *zap.Logger { return bc.inv.session.Logger }

// Binding returns the binding this invocation's rule matched with.
func (bc *BuildContext) Binding() Binding { return bc.inv.binding }

// Require canonicalizes path, resolves a producer for it, and — if one is
// found — schedules (or attaches to) the child Invocation that builds it.
// Require itself never suspends; the child runs concurrently and is only
// awaited at the next Sync.
func (bc *BuildContext) Require(p AnnotatedPath) error {
	inv := bc.inv
	s := inv.session
	clean := CleanPath(p)
	name := clean.Path
	if s.isPhony(name) {
		clean.Phony = true
	}

	inv.mu.Lock()
	inv.required = append(inv.required, clean)
	inv.mu.Unlock()

	if s.isPoisoned(name) {
		err := fmt.Errorf("required target(s) failed: %s", name)
		inv.recordFatal(err)
		return err
	}

	if entry, ok := s.getUpToDate(name); ok {
		inv.noteInput(clean, entry.MTimeNS)
		inv.recordRequiredProducer(name, entry)
		return nil
	}

	rule, binding, err := s.Rules.Resolve(name)
	if err != nil {
		inv.recordFatal(err)
		return err
	}

	if rule == nil {
		info, statErr := s.Stat.TryStat(name)
		if statErr == nil && info != nil {
			mtimeNS := info.ModTime().UnixNano()
			s.setUpToDate(name, "", mtimeNS)
			inv.noteInput(clean, mtimeNS)
			inv.recordRequiredProducer(name, upToDateEntry{MTimeNS: mtimeNS})
			return nil
		}
		if clean.Optional {
			return nil
		}
		err := fmt.Errorf("don't know how to make %q", name)
		inv.recordFatal(err)
		return err
	}

	childName := binding.CanonicalName(rule.Name)
	inv.recordRequiredProducer(name, upToDateEntry{Producer: rule.Name})

	inv.group.Go(func() error {
		child, err := s.spawnOrAttach(bc.ctx, childName, rule, binding, inv)
		if err != nil {
			inv.recordFatal(err)
			return err
		}
		if child.err != nil {
			inv.recordFatal(child.err)
			return child.err
		}
		if entry, ok := s.getUpToDate(name); ok {
			inv.noteInput(clean, entry.MTimeNS)
		}
		return nil
	})
	return nil
}

// Sync awaits every async_actions task queued by Require since the last
// Sync, the way the source's sync() gathers pending child tasks.
func (bc *BuildContext) Sync() error {
	return bc.inv.group.Wait()
}

// Action runs one external command (after a Sync of pending requires),
// skipping it when should_run_action determines the invocation is already
// fresh, and requesting a restart when a previously-skipped action must now
// run after all.
func (bc *BuildContext) Action(words []string, opts ActionOptions) error {
	inv := bc.inv
	s := inv.session

	if err := bc.Sync(); err != nil {
		return err
	}
	inv.mu.Lock()
	inv.missingOutputsPolicy = opts.MissingOutputs
	inv.mu.Unlock()
	if len(words) == 0 {
		return nil
	}

	words = append([]string(nil), words...)
	words[0] = strings.TrimPrefix(words[0], "@")

	persisted := make([]string, 0, len(words))
	for i, w := range words {
		if opts.PhonyWords != nil && opts.PhonyWords[i] {
			continue
		}
		persisted = append(persisted, w)
	}
	inv.appendCommandToTail(persisted)

	run, reason := inv.shouldRunAction()
	why(s.Logger, "should_run_action", zap.String("invocation", inv.name), zap.Bool("run", run), zap.String("reason", reason))

	if !run {
		inv.didSkipActions = true
		inv.mu.Lock()
		inv.finalizeTailLocked()
		inv.mu.Unlock()
		s.Metrics.SkippedCount.Inc()
		if s.Params.Bool("log_skipped_actions") {
			s.Logger.Info("skipped action", zap.String("invocation", inv.name), zap.Strings("command", words))
		}
		return nil
	}

	if inv.didSkipActions && !inv.mustRunAction {
		return restartSignal{}
	}

	amounts, err := s.Resources.Use(opts.Resources)
	if err != nil {
		inv.recordFatal(err)
		return err
	}
	defer s.Resources.Free(amounts)

	if !inv.ranFirstAction {
		inv.ranFirstAction = true
		if s.Params.Bool("remove_stale_outputs") {
			inv.removeStaleOutputs()
		}
	}

	trace(s.Logger, "running action", zap.String("invocation", inv.name), zap.String("command", emphasizeWords(words, opts.EmphasizedWords)))

	start := time.Now()
	var code int
	if opts.Kind == ActionSpawn {
		code, err = s.Runner.Spawn(bc.ctx, words)
	} else {
		code, err = s.Runner.Shell(bc.ctx, words)
	}
	end := time.Now()
	inv.recordActionTiming(start, end)

	if err != nil {
		inv.recordFatal(fmt.Errorf("subprocess failure: %w", err))
		return inv.err
	}
	if code != 0 && !opts.IgnoreExit {
		ferr := fmt.Errorf("action exited %d: %s", code, strings.Join(words, " "))
		inv.recordFatal(ferr)
		return ferr
	}

	inv.didRunActions = true
	s.Metrics.ActionsCount.Inc()
	inv.mu.Lock()
	inv.finalizeTailLocked()
	inv.mu.Unlock()
	return nil
}

// RequireGlob resolves every existing file matching a capture-glob pattern
// and Requires each one, applying policy's tolerance for patterns that
// match nothing. It returns the matched paths and their per-path bindings,
// in the same sorted order GlobCapture would produce.
func (bc *BuildContext) RequireGlob(pattern string, policy MissingInputsPolicy) ([]string, []Binding, error) {
	inv := bc.inv
	s := inv.session

	ap := newAnnotatedPath(pattern)
	if policy != MissingInputsForbidden {
		ap = ap.WithOptional()
	}
	matches, caps, err := GlobCapture(s.Stat, []AnnotatedPath{ap})
	if err != nil {
		return nil, nil, err
	}

	bindings := make([]Binding, len(matches))
	for i, m := range matches {
		bindings[i] = Binding(caps[i])
		req := newAnnotatedPath(m)
		if policy != MissingInputsForbidden {
			req = req.WithOptional()
		}
		if err := bc.Require(req); err != nil {
			return nil, nil, err
		}
	}
	return matches, bindings, nil
}

func (inv *Invocation) noteInput(p AnnotatedPath, mtimeNS int64) {
	if p.ExistsOnly || p.Phony {
		return
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if !inv.haveInput || mtimeNS > inv.newestInputNS {
		inv.haveInput = true
		inv.newestInputNS = mtimeNS
		inv.newestInputPath = p.Path
	}
}

func (inv *Invocation) recordRequiredProducer(path string, entry upToDateEntry) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	tail := inv.tailLocked()
	if tail.Required == nil {
		tail.Required = map[string]*RequiredEntry{}
	}
	re := &RequiredEntry{Producer: entry.Producer, mtimeNS: entry.MTimeNS}
	if entry.MTimeNS != 0 {
		re.MTime = FormatMTime(time.Unix(0, entry.MTimeNS))
	}
	tail.Required[path] = re
}

// tailLocked returns the accumulator for the action currently being
// assembled, creating it on first use. Callers must hold inv.mu.
func (inv *Invocation) tailLocked() *PersistentAction {
	if inv.pending == nil {
		inv.pending = &PersistentAction{}
	}
	return inv.pending
}

// finalizeTailLocked appends the pending accumulator to the persisted
// action list and starts a fresh one for requires issued before the next
// action. Callers must hold inv.mu.
func (inv *Invocation) finalizeTailLocked() {
	inv.newPersistentActions = append(inv.newPersistentActions, inv.tailLocked())
	inv.pending = nil
}

func (inv *Invocation) appendCommandToTail(words []string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	tail := inv.tailLocked()
	tail.Command = words
}

func (inv *Invocation) recordActionTiming(start, end time.Time) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	tail := inv.tailLocked()
	tail.Start = FormatMTime(start)
	tail.End = FormatMTime(end)
}

func (inv *Invocation) recordFatal(err error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.err == nil {
		inv.err = err
	}
}

// shouldRunAction implements the ordered decision table of §4.6.
func (inv *Invocation) shouldRunAction() (bool, string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.mustRunAction {
		return true, "must_run_action already set"
	}
	if inv.rule.Phony {
		return true, "phony output"
	}
	if inv.missingOutput != "" {
		return true, "required output missing: " + inv.missingOutput
	}
	if inv.abandonedOutput != "" {
		return true, "old output abandoned: " + inv.abandonedOutput
	}

	if inv.session.Params.Bool("rebuild_changed_actions") {
		oldCount := 0
		if inv.oldLog != nil {
			oldCount = len(inv.oldLog.Actions)
		}
		idx := len(inv.newPersistentActions) // 0-based position of the action now being considered
		if idx >= oldCount {
			return true, "rule added actions"
		}

		oldAction := inv.oldLog.Actions[idx]
		newAction := inv.tailLocked()
		if differentCommand(oldAction, newAction) {
			return true, "command changed"
		}
		if reasons := differentRequired(oldAction, newAction, nil); len(reasons) > 0 {
			return true, strings.Join(reasons, "; ")
		}
	}

	if !inv.haveInput {
		return false, "no inputs recorded"
	}
	if inv.haveInitialOutput && inv.oldestOutputNS <= inv.newestInputNS {
		return true, "output not newer than newest input"
	}
	return false, "outputs newer than all inputs"
}

// removeStaleOutputs deletes non-precious outputs ahead of the first action
// of this invocation, the way the source clears previous build artifacts
// before re-running a rule from scratch.
func (inv *Invocation) removeStaleOutputs() {
	if inv.rule.Precious {
		return
	}
	s := inv.session
	inv.mu.Lock()
	outputs := append([]string(nil), inv.initialOutputs...)
	inv.mu.Unlock()
	rmdirParents := s.Params.Bool("remove_empty_directories")
	for _, out := range outputs {
		s.Stat.Remove(out)
		if rmdirParents {
			s.Stat.RmdirParents(out)
		}
	}
}
