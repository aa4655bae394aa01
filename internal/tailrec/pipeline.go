package tailrec

import (
	"github.com/tliron/commonlog"

	bc "tailrec/internal/bytecode"
)

// logger returns the optimizer log from whichever backend is configured.
func logger() commonlog.Logger {
	return commonlog.GetLogger("tailrec.optimizer")
}

// MethodContext is the state the passes of one method share.
type MethodContext struct {
	Method           *bc.Method
	ClassIsInterface bool

	// Rewritten counts the call sites turned into jumps so far.
	Rewritten int
}

// MethodPass is a single transformation of a decoded method.
type MethodPass interface {
	Name() string
	Apply(ctx *MethodContext) bool // Returns true if changes were made
	Description() string
}

// Pipeline runs a sequence of passes over one method.
type Pipeline struct {
	passes []MethodPass
}

// NewPipeline creates a pipeline with the default passes.
func NewPipeline() *Pipeline {
	p := &Pipeline{}
	p.AddPass(&TailCallElimination{})
	p.AddPass(&ScopeCleanup{}) // Must run after every rewrite
	return p
}

// AddPass appends a pass.
func (p *Pipeline) AddPass(pass MethodPass) {
	p.passes = append(p.passes, pass)
}

// Run applies every pass in order and reports whether any of them changed
// the method.
func (p *Pipeline) Run(ctx *MethodContext) bool {
	m := ctx.Method
	changed := false
	for _, pass := range p.passes {
		if pass.Apply(ctx) {
			logger().Debugf("%s.%s%s: %s applied", m.Owner, m.Name, m.Descriptor, pass.Name())
			changed = true
		}
	}
	return changed
}

// TailCallElimination replaces self-recursive tail calls with jumps to the
// method entry.
type TailCallElimination struct{}

func (t *TailCallElimination) Name() string {
	return "Tail Call Elimination"
}

func (t *TailCallElimination) Description() string {
	return "Rewrites self-recursive calls in tail position into parameter stores and a jump to the method entry"
}

func (t *TailCallElimination) Apply(ctx *MethodContext) bool {
	m := ctx.Method
	sites := findCallSites(m, ctx.ClassIsInterface)
	if len(sites) == 0 {
		return false
	}
	rw := newRewriter(m)
	changed := false
	for _, call := range sites {
		// An earlier rewrite may have removed this call as dead code.
		if !m.Graph.Linked(call) {
			continue
		}
		if !newAnalyzer(m).optimizable(call) {
			logger().Debugf("%s.%s%s: call is not in tail position", m.Owner, m.Name, m.Descriptor)
			continue
		}
		rw.rewrite(call)
		ctx.Rewritten++
		changed = true
	}
	return changed
}

// ScopeCleanup drops debug and exception metadata that no longer covers
// any code.
type ScopeCleanup struct{}

func (s *ScopeCleanup) Name() string {
	return "Scope Cleanup"
}

func (s *ScopeCleanup) Description() string {
	return "Removes empty local variable scopes, exception regions and trailing line markers"
}

func (s *ScopeCleanup) Apply(ctx *MethodContext) bool {
	if ctx.Rewritten == 0 {
		return false
	}
	m := ctx.Method
	before := len(m.LocalVars) + len(m.LocalVarTypes) + len(m.TryCatches) + m.Graph.Len()
	cleanupScopes(m)
	return len(m.LocalVars)+len(m.LocalVarTypes)+len(m.TryCatches)+m.Graph.Len() != before
}
