package dynamake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// upToDateEntry records why a path is considered fresh: which rule (if any)
// produced it, and its modification time in nanoseconds.
type upToDateEntry struct {
	Producer string
	MTimeNS  int64
}

// BuildSession owns every ambient global the engine needs: the rule
// registry, the parameter registry, the stat cache, the resource pool, the
// active-invocation table, and the up-to-date/phony/poisoned sets. require
// and action become methods reached through a BuildContext that carries a
// reference back to this session.
type BuildSession struct {
	Rules     *RuleRegistry
	Params    *ParamRegistry
	Stat      *StatCache
	Resources *Resources
	Metrics   *Metrics
	Logger    *zap.Logger
	Runner    Runner

	mu       sync.Mutex
	active   map[string]*Invocation
	upToDate map[string]upToDateEntry
	phony    map[string]bool
	poisoned map[string]bool

	// spawn coalesces concurrent spawnOrAttach calls racing to create the
	// first Invocation for a canonical name. active is still the permanent
	// record (it outlives any single singleflight call), so spawn only ever
	// needs to dedup the narrow window between two callers both finding the
	// name absent from active.
	spawn singleflight.Group
}

// NewSession wires a BuildSession from concrete collaborators.
func NewSession(params *ParamRegistry, rules *RuleRegistry, stat *StatCache, resources *Resources, metrics *Metrics, logger *zap.Logger, runner Runner) *BuildSession {
	return &BuildSession{
		Rules:     rules,
		Params:    params,
		Stat:      stat,
		Resources: resources,
		Metrics:   metrics,
		Logger:    logger,
		Runner:    runner,
		active:    map[string]*Invocation{},
		upToDate:  map[string]upToDateEntry{},
		phony:     map[string]bool{},
		poisoned:  map[string]bool{},
	}
}

func (s *BuildSession) getUpToDate(name string) (upToDateEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.upToDate[name]
	return e, ok
}

func (s *BuildSession) setUpToDate(name, producer string, mtimeNS int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.poisoned, name)
	s.upToDate[name] = upToDateEntry{Producer: producer, MTimeNS: mtimeNS}
}

func (s *BuildSession) isPoisoned(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poisoned[name]
}

func (s *BuildSession) poison(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		s.poisoned[n] = true
		delete(s.upToDate, n)
	}
}

func (s *BuildSession) markPhony(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phony[name] = true
}

func (s *BuildSession) isPhony(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phony[name]
}

// spawnOrAttach returns the single Invocation for (rule, binding) reachable
// as childName: if one is already active, cycle-checks the parent chain and
// then waits for it to finish; otherwise it runs it to completion.
//
// Concurrent callers racing to create the first Invocation for childName
// coalesce through s.spawn, a singleflight.Group keyed by childName, so only
// one of them actually constructs and runs it. active remains the
// permanent, session-lifetime record — singleflight itself forgets a call
// the instant it completes, which would let a later, non-overlapping
// require re-spawn the same name, so every winner's Invocation is still
// recorded in active before singleflight releases its waiters.
func (s *BuildSession) spawnOrAttach(ctx context.Context, childName string, rule *Rule, binding Binding, parent *Invocation) (*Invocation, error) {
	s.mu.Lock()
	if existing, ok := s.active[childName]; ok {
		for p := parent; p != nil; p = p.parent {
			if p.name == childName {
				s.mu.Unlock()
				return nil, &CycleError{Chain: cycleChain(parent, childName)}
			}
		}
		s.mu.Unlock()
		<-existing.done
		return existing, nil
	}
	s.mu.Unlock()

	v, err, _ := s.spawn.Do(childName, func() (interface{}, error) {
		s.mu.Lock()
		if existing, ok := s.active[childName]; ok {
			s.mu.Unlock()
			<-existing.done
			return existing, nil
		}

		inv := newInvocation(s, childName, rule, binding, parent)
		s.active[childName] = inv
		s.mu.Unlock()

		inv.runToCompletion(ctx)
		return inv, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Invocation), nil
}

func cycleChain(from *Invocation, closingName string) []string {
	var chain []string
	for p := from; p != nil; p = p.parent {
		chain = append([]string{p.name}, chain...)
	}
	chain = append(chain, closingName)
	return chain
}

// runToCompletion drives one Invocation through collect_initial_outputs,
// the handler (with restart support), sync, collect_final_outputs, and
// either persistence or failure cleanup.
func (inv *Invocation) runToCompletion(ctx context.Context) {
	defer close(inv.done)
	s := inv.session

	inv.oldLog, _ = LoadPersistentLog(s.Params.String("persistent_directory"), inv.name)
	if inv.oldLog == nil {
		inv.mustRunAction = true
	}

	if err := inv.collectInitialOutputs(); err != nil {
		inv.recordFatal(err)
	}

	for {
		if inv.err != nil {
			break
		}
		bc := &BuildContext{inv: inv, ctx: ctx}
		err := inv.rule.Handler(bc)
		if err == nil {
			break
		}
		if _, restart := err.(restartSignal); restart {
			inv.resetForRestart()
			continue
		}
		inv.recordFatal(err)
		break
	}

	if inv.err == nil {
		if err := inv.group.Wait(); err != nil {
			inv.recordFatal(err)
		}
	}

	if inv.err == nil {
		if err := inv.collectFinalOutputs(); err != nil {
			inv.recordFatal(err)
		}
	}

	if inv.err != nil {
		inv.fail()
		return
	}
	inv.succeed()
}

func (inv *Invocation) resetForRestart() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.mustRunAction = true
	inv.didSkipActions = false
	inv.didRunActions = false
	inv.ranFirstAction = false
	inv.newPersistentActions = nil
	inv.pending = nil
}

// substitutedOutputs returns the declared output patterns of inv's rule with
// every bound name replaced by its value.
func (inv *Invocation) substitutedOutputs() ([]string, error) {
	out := make([]string, len(inv.rule.Outputs))
	for i, o := range inv.rule.Outputs {
		pat, err := ParsePattern(o)
		if err != nil {
			return nil, err
		}
		substituted, err := pat.Substitute(inv.binding)
		if err != nil {
			return nil, err
		}
		out[i] = substituted.Raw()
	}
	return out, nil
}

// collectInitialOutputs records phony outputs in the session's global phony
// set (declared up front, per the rule's Phony flag — not inferred later
// from an empty glob), globs existing outputs, and detects missing or
// abandoned outputs relative to the prior persisted log.
func (inv *Invocation) collectInitialOutputs() error {
	s := inv.session

	substituted, err := inv.substitutedOutputs()
	if err != nil {
		return err
	}
	if inv.rule.Phony {
		for _, name := range substituted {
			s.markPhony(name)
		}
	}

	patterns := make([]AnnotatedPath, len(substituted))
	for i, name := range substituted {
		patterns[i] = newAnnotatedPath(name).WithOptional()
	}
	matches, _, err := GlobCapture(s.Stat, patterns)
	if err != nil {
		return err
	}

	inv.mu.Lock()
	inv.initialOutputs = matches
	for i, m := range matches {
		info, statErr := s.Stat.TryStat(m)
		if statErr != nil || info == nil {
			continue
		}
		mtimeNS := info.ModTime().UnixNano()
		if i == 0 || !inv.haveInitialOutput || mtimeNS < inv.oldestOutputNS {
			inv.haveInitialOutput = true
			inv.oldestOutputNS = mtimeNS
			inv.oldestOutputPath = m
		}
	}
	inv.mu.Unlock()

	if inv.oldLog != nil {
		known := map[string]bool{}
		for _, m := range matches {
			known[m] = true
		}
		for _, out := range inv.oldLog.Outputs {
			if !s.Stat.Exists(out) {
				inv.mu.Lock()
				if inv.missingOutput == "" {
					inv.missingOutput = out
				}
				inv.mu.Unlock()
			} else if !known[out] {
				inv.mu.Lock()
				if inv.abandonedOutput == "" {
					inv.abandonedOutput = out
				}
				inv.mu.Unlock()
			}
		}
	}
	return nil
}

// collectFinalOutputs re-globs declared outputs after the handler runs. A
// phony rule's outputs are optional here: they synthesize a fresh timestamp
// under their actual substituted name (not the invocation's canonical
// name), since that is the name later Requires of that output look up. For
// non-phony rules, whether a pattern matching nothing aborts the invocation
// is governed by the last Action call's MissingOutputs policy (forbidden by
// default): forbidden aborts on any empty pattern, partial aborts only if
// every pattern came back empty, optional never aborts.
func (inv *Invocation) collectFinalOutputs() error {
	s := inv.session

	substituted, err := inv.substitutedOutputs()
	if err != nil {
		return err
	}

	inv.mu.Lock()
	policy := inv.missingOutputsPolicy
	inv.mu.Unlock()

	patterns := make([]AnnotatedPath, len(substituted))
	for i, name := range substituted {
		s.Stat.Forget(name)
		ap := newAnnotatedPath(name)
		if inv.rule.Phony || policy != MissingOutputsForbidden {
			ap = ap.WithOptional()
		}
		patterns[i] = ap
	}
	matches, _, err := GlobCapture(s.Stat, patterns)
	if err != nil {
		return err
	}
	if !inv.rule.Phony && policy == MissingOutputsPartial && len(matches) == 0 {
		return fmt.Errorf("rule %q: missing_outputs=partial requires at least one output, got none", inv.rule.Name)
	}

	touchSuccess := s.Params.Bool("touch_success_outputs")
	if touchSuccess && len(matches) > 0 {
		time.Sleep(time.Second)
	}

	for _, m := range matches {
		s.Stat.Forget(m)
		if touchSuccess {
			s.Stat.Touch(m)
		}
		info, statErr := s.Stat.Stat(m)
		if statErr != nil {
			return fmt.Errorf("output %q vanished after action: %w", m, statErr)
		}
		s.setUpToDate(m, inv.rule.Name, info.ModTime().UnixNano())
	}

	inv.mu.Lock()
	inv.finalOutputs = append([]string(nil), matches...)
	newestNS := inv.newestInputNS + 1
	if inv.rule.Phony {
		for _, name := range substituted {
			inv.phonyOutputNames[name] = true
			inv.finalOutputs = append(inv.finalOutputs, name)
		}
	}
	inv.mu.Unlock()

	if inv.rule.Phony {
		for _, name := range substituted {
			s.setUpToDate(name, inv.rule.Name, newestNS)
		}
	}
	return nil
}

// fail poisons this invocation's declared outputs, optionally removes
// non-precious output files, and removes the persistent log so the next
// run starts clean.
func (inv *Invocation) fail() {
	s := inv.session

	if substituted, err := inv.substitutedOutputs(); err == nil {
		s.poison(substituted)
		s.poison([]string{inv.name})

		if s.Params.Bool("remove_failed_outputs") && !inv.rule.Precious {
			patterns := make([]AnnotatedPath, len(substituted))
			for i, name := range substituted {
				s.Stat.Forget(name)
				patterns[i] = newAnnotatedPath(name).WithOptional()
			}
			matches, _, globErr := GlobCapture(s.Stat, patterns)
			if globErr == nil {
				rmdirParents := s.Params.Bool("remove_empty_directories")
				for _, m := range matches {
					s.Stat.Remove(m)
					if rmdirParents {
						s.Stat.RmdirParents(m)
					}
				}
			}
		}
	}

	RemovePersistentLog(s.Params.String("persistent_directory"), inv.name)
}

// succeed persists this invocation's action log and commits its outputs to
// the session's up-to-date map (collectFinalOutputs already did the
// per-output bookkeeping; this just writes the log to disk).
func (inv *Invocation) succeed() {
	s := inv.session
	log := &PersistentLog{
		Actions: inv.newPersistentActions,
		Outputs: inv.finalOutputs,
	}
	SavePersistentLog(s.Params.String("persistent_directory"), inv.name, log)
}

// Build is the top-level driver (§4.7): it freezes the rule registry,
// constructs a synthetic root Invocation named "make", requires every
// target through it, and awaits completion. It returns the first fatal
// error encountered if failure_aborts_build is set; otherwise it returns
// nil and callers should inspect poisoned targets individually.
func (s *BuildSession) Build(ctx context.Context, targets []string) error {
	s.Rules.Freeze()

	root := newInvocation(s, "make", nil, nil, nil)
	s.mu.Lock()
	s.active["make"] = root
	s.mu.Unlock()

	bc := &BuildContext{inv: root, ctx: ctx}
	var firstErr error
	for _, t := range targets {
		if err := bc.Require(newAnnotatedPath(t)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := bc.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	close(root.done)

	if firstErr != nil && s.Params.Bool("failure_aborts_build") {
		return firstErr
	}
	return nil
}
