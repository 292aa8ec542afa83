package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"chainctl/internal/chain"
	"chainctl/internal/chainctx"
	"chainctl/internal/checkpoint"
	"chainctl/internal/executor"
	"chainctl/internal/runstate"
)

// maxOutput caps the collaborator output kept in a step result.
const maxOutput = 2000

// ExecuteChain runs name to completion.
//
// A prerequisite failure returns immediately without creating a run record.
// Otherwise the run is recorded as running, each step is dispatched in order,
// and the run ends in completed or failed with the matching handler issued.
// Panics raised by collaborators are recovered and recorded as failures.
func (e *Engine) ExecuteChain(ctx context.Context, name string, opts Options) Result {
	c, err := e.lookup(name)
	if err != nil {
		return Result{Chain: name, Error: err.Error(), Err: err}
	}

	if pre := e.checkPrerequisites(ctx, c); !pre.Passed {
		e.logger.Info().Str("chain", name).Str("reason", pre.Error).Msg("Chain gated by prerequisites")
		return Result{Chain: name, Error: pre.Error, Gated: true, Err: errors.New(pre.Error)}
	}

	started := e.now()
	runCtx := e.buildContext(c, opts)
	if err := e.state.Start(ctx, name, started); err != nil {
		e.logger.Warn().Err(err).Str("chain", name).Msg("Failed to record chain start")
	}
	e.logger.Info().Str("chain", name).Msg("Chain started")

	results, runErr := e.runSteps(ctx, c, runCtx)
	finished := e.now()
	elapsed := finished.Sub(started)

	if runErr != nil {
		msg := runErr.Error()
		if err := e.state.Fail(ctx, name, runstate.Failed{FailedAt: finished, Error: msg}); err != nil {
			e.logger.Warn().Err(err).Str("chain", name).Msg("Failed to record chain failure")
		}
		e.logger.Warn().Str("chain", name).Str("error", msg).Msg("Chain failed")
		e.runHandler(ctx, c, "on-failure", c.OnFailure, runCtx)
		return Result{Chain: name, Results: results, Error: msg, Duration: elapsed, Err: runErr}
	}

	rec := runstate.Completed{CompletedAt: finished, Duration: elapsed.Seconds(), Results: results}
	if err := e.state.Complete(ctx, name, rec); err != nil {
		e.logger.Warn().Err(err).Str("chain", name).Msg("Failed to record chain completion")
	}
	e.logger.Info().Str("chain", name).Msg("Chain completed")
	e.runHandler(ctx, c, "on-success", c.OnSuccess, runCtx)
	return Result{Chain: name, Success: true, Results: results, Duration: elapsed}
}

// buildContext layers chain defaults, the saved record (when inherited) and
// caller overrides, in increasing precedence.
func (e *Engine) buildContext(c *chain.Chain, opts Options) chainctx.Context {
	base := chainctx.Build(c.Context.Values, nil)
	if c.Context.Inherit && e.contexts != nil {
		base = chainctx.Build(base, e.contexts.Saved())
	}
	return chainctx.Build(base, opts.Context)
}

func (e *Engine) runSteps(ctx context.Context, c *chain.Chain, runCtx chainctx.Context) (results []runstate.StepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during step dispatch: %v", r)
		}
	}()

	total := len(c.Steps)
	for i, step := range c.Steps {
		if err := e.state.Advance(ctx, c.Name, i); err != nil {
			e.logger.Warn().Err(err).Str("chain", c.Name).Msg("Failed to record step progress")
		}
		if e.progress != nil {
			e.progress(i+1, total, step.Label())
		}

		if cond := step.ConditionExpr(); cond != nil && !e.evaluator.Eval(ctx, cond) {
			e.logger.Info().Str("chain", c.Name).Str("step", step.Label()).Str("condition", step.Condition).Msg("Step skipped")
			results = append(results, e.skipped(i, step))
			continue
		}

		res, stepErr := e.dispatch(ctx, c, i, step, runCtx)
		results = append(results, res)
		if stepErr != nil {
			return results, fmt.Errorf("step %d (%s): %w", i, step.Label(), stepErr)
		}
		if c.FailFast && !res.Success {
			return results, fmt.Errorf("step %d (%s) did not succeed", i, step.Label())
		}

		e.persistContext(c, runCtx)
		e.checkpoint(c, i, step, runCtx, results)
	}
	return results, nil
}

func (e *Engine) skipped(index int, step chain.Step) runstate.StepResult {
	return runstate.StepResult{
		Step:      index,
		Kind:      runstate.StepKind(step.Kind),
		Command:   step.Command,
		Agent:     step.Agent,
		Success:   true,
		Skipped:   true,
		Timestamp: e.now(),
	}
}

// dispatch runs one step slot. Groups stop at the first member error; parallel
// phases let every member finish and join their errors.
func (e *Engine) dispatch(ctx context.Context, c *chain.Chain, index int, step chain.Step, runCtx chainctx.Context) (runstate.StepResult, error) {
	switch step.Kind {
	case chain.KindAgent:
		if e.agents == nil {
			err := fmt.Errorf("no agent collaborator for %s", step.Agent)
			return runstate.StepResult{Step: index, Kind: runstate.KindAgent, Agent: step.Agent, Error: err.Error(), Timestamp: e.now()}, err
		}
		out, err := e.agents.Delegate(ctx, step.Agent, chainctx.Substitute(step.Task, runCtx))
		return outcomeResult(index, runstate.KindAgent, step.Agent, out, err), err

	case chain.KindGroup:
		res := runstate.StepResult{Step: index, Kind: runstate.KindGroup, Command: step.Label(), Success: true, Timestamp: e.now()}
		for _, member := range step.Members {
			if cond := member.ConditionExpr(); cond != nil && !e.evaluator.Eval(ctx, cond) {
				res.Children = append(res.Children, e.skipped(index, member))
				continue
			}
			child, err := e.dispatch(ctx, c, index, member, runCtx)
			res.Children = append(res.Children, child)
			res.Success = res.Success && child.Success
			if err != nil {
				res.Error = err.Error()
				return res, err
			}
			if c.FailFast && !child.Success {
				break
			}
		}
		return res, nil

	case chain.KindParallel:
		return e.dispatchParallel(ctx, c, index, step, runCtx)
	}

	cmd := chainctx.Substitute(step.Command, runCtx)
	out, err := e.commands.Execute(ctx, cmd)
	if out.Command == "" {
		out.Command = cmd
	}
	return outcomeResult(index, runstate.KindCommand, "", out, err), err
}

func (e *Engine) dispatchParallel(ctx context.Context, c *chain.Chain, index int, step chain.Step, runCtx chainctx.Context) (runstate.StepResult, error) {
	children := make([]runstate.StepResult, len(step.Members))
	errs := make([]error, len(step.Members))

	var wg sync.WaitGroup
	for i, member := range step.Members {
		wg.Add(1)
		go func(i int, member chain.Step) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("panic in %s: %v", member.Label(), r)
					children[i] = runstate.StepResult{Step: index, Kind: runstate.StepKind(member.Kind), Command: member.Command, Error: errs[i].Error(), Timestamp: e.now()}
				}
			}()
			if cond := member.ConditionExpr(); cond != nil && !e.evaluator.Eval(ctx, cond) {
				children[i] = e.skipped(index, member)
				return
			}
			children[i], errs[i] = e.dispatch(ctx, c, index, member, runCtx)
		}(i, member)
	}
	wg.Wait()

	res := runstate.StepResult{Step: index, Kind: runstate.KindParallel, Command: step.Label(), Success: true, Children: children, Timestamp: e.now()}
	for _, child := range children {
		res.Success = res.Success && child.Success
	}
	err := errors.Join(errs...)
	if err != nil {
		res.Success = false
		res.Error = err.Error()
	}
	return res, err
}

func outcomeResult(index int, kind runstate.StepKind, agent string, out executor.Outcome, err error) runstate.StepResult {
	res := runstate.StepResult{
		Step:      index,
		Kind:      kind,
		Command:   out.Command,
		Agent:     agent,
		Success:   out.Success && err == nil,
		Output:    truncate(out.Output, maxOutput),
		Timestamp: out.Timestamp,
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "\n[truncated]"
}

func (e *Engine) persistContext(c *chain.Chain, runCtx chainctx.Context) {
	if len(c.Context.Save) == 0 || e.contexts == nil {
		return
	}
	if err := e.contexts.Persist(runCtx, c.Context.Save); err != nil {
		e.logger.Warn().Err(err).Str("chain", c.Name).Msg("Failed to persist chain context")
	}
}

// checkpoint snapshots the run for every "after:<index|name>" marker naming step.
func (e *Engine) checkpoint(c *chain.Chain, index int, step chain.Step, runCtx chainctx.Context, results []runstate.StepResult) {
	if e.checkpoints == nil {
		return
	}
	for _, marker := range c.Checkpoints {
		if !markerMatches(marker, index, step) {
			continue
		}
		cp, err := e.checkpoints.Create(checkpoint.Checkpoint{
			Chain:     c.Name,
			Step:      index,
			Marker:    marker,
			Context:   map[string]any(runCtx),
			Results:   append([]runstate.StepResult(nil), results...),
			CreatedAt: e.now(),
		})
		if err != nil {
			e.logger.Warn().Err(err).Str("chain", c.Name).Str("marker", marker).Msg("Failed to create checkpoint")
			continue
		}
		e.logger.Debug().Str("chain", c.Name).Str("checkpoint", cp.ID).Msg("Checkpoint created")
	}
}

func markerMatches(marker string, index int, step chain.Step) bool {
	ref, ok := strings.CutPrefix(strings.TrimSpace(marker), "after:")
	if !ok {
		return false
	}
	ref = strings.TrimSpace(ref)
	if n, err := strconv.Atoi(ref); err == nil {
		return n == index
	}
	return step.Matches(ref)
}

// runHandler issues an on-success or on-failure command. Its outcome never
// changes the run's result.
func (e *Engine) runHandler(ctx context.Context, c *chain.Chain, kind, command string, runCtx chainctx.Context) {
	if command == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn().Str("chain", c.Name).Str("handler", kind).Str("panic", fmt.Sprint(r)).Msg("Handler panicked")
		}
	}()

	out, err := e.commands.Execute(ctx, chainctx.Substitute(command, runCtx))
	switch {
	case err != nil:
		e.logger.Warn().Err(err).Str("chain", c.Name).Str("handler", kind).Msg("Handler failed to run")
	case !out.Success:
		e.logger.Warn().Str("chain", c.Name).Str("handler", kind).Msg("Handler did not succeed")
	}
}
