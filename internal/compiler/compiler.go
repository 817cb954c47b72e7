// Package compiler turns an annotated workflow tree into nested CWL
// documents and the matching analytical graph.
package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/me/wic/internal/config"
	"github.com/me/wic/internal/cwlexpr"
	"github.com/me/wic/internal/graph"
	"github.com/me/wic/internal/logging"
	"github.com/me/wic/internal/parser"
	"github.com/me/wic/internal/tree"
	"github.com/me/wic/pkg/cwl"
	"github.com/me/wic/pkg/model"
)

// CompiledNode is the compiled form of one tree node. Identical subtrees
// share a CompiledNode, so it carries no position.
type CompiledNode struct {
	Name     string // document name without extension
	StepID   model.StepID
	Kind     tree.Kind
	Document string // source document or tool path

	Workflow *cwl.Workflow // WorkflowStep
	ToolPath string        // ToolStep

	Inputs     []tree.Param
	Outputs    []tree.Param
	Inlineable bool
	Children   []*CompiledNode
	Graph      *graph.Data
	Hash       string
}

// ResultTree is the compiled tree plus the root input-values document.
type ResultTree struct {
	Root        *CompiledNode
	InputValues map[string]any
}

// Walk visits every compiled node in pre-order. Shared nodes are visited
// once per occurrence.
func Walk(n *CompiledNode, fn func(*CompiledNode)) {
	fn(n)
	for _, c := range n.Children {
		Walk(c, fn)
	}
}

// Options configures a Compiler.
type Options struct {
	Parallelism int
	CacheSize   int
}

// Compiler compiles annotated trees. It is safe for concurrent use;
// compiled subtrees are memoized by content hash and table fingerprint.
type Compiler struct {
	tables    *config.Tables
	validator *parser.Validator
	opts      Options
	cache     *lru.Cache[string, *CompiledNode]
	flight    singleflight.Group
	logger    *slog.Logger
}

// New creates a Compiler.
func New(tables *config.Tables, opts Options, logger *slog.Logger) (*Compiler, error) {
	if tables == nil {
		tables = config.EmptyTables()
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	cache, err := lru.New[string, *CompiledNode](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create compile cache: %w", err)
	}
	logger = logging.Component(logger, "compiler")
	return &Compiler{
		tables:    tables,
		validator: parser.NewValidator(logger),
		opts:      opts,
		cache:     cache,
		logger:    logger,
	}, nil
}

// StepName is the CWL step id of the child at pos.
func StepName(pos int, id model.StepID) string {
	return fmt.Sprintf("s%d__%s__%s", pos, id.Namespace, id.Stem)
}

// Compile compiles root, which must carry inference annotations. Errors
// from independent subtrees are accumulated and no partial result is
// returned.
func (c *Compiler) Compile(ctx context.Context, root *tree.Node) (*ResultTree, error) {
	runID := uuid.NewString()
	logger := c.logger.With("run_id", runID, "root", root.ID.String())
	logger.Info("compile started", "nodes", tree.Count(root))

	if root.Kind != tree.WorkflowStep || root.Flow == nil {
		return nil, fmt.Errorf("compile %s: root is not an annotated workflow", root.ID)
	}
	compiled, err := c.compile(ctx, root, true)
	if err != nil {
		logger.Info("compile failed", "error", err)
		return nil, err
	}

	values := map[string]any{}
	for _, p := range root.Flow.Inputs {
		if p.HasValue {
			values[p.Name] = p.Value
		}
	}
	logger.Info("compile finished", "documents", countDocuments(compiled))
	return &ResultTree{Root: compiled, InputValues: values}, nil
}

func countDocuments(n *CompiledNode) int {
	seen := map[*CompiledNode]bool{}
	Walk(n, func(c *CompiledNode) {
		if c.Kind == tree.WorkflowStep {
			seen[c] = true
		}
	})
	return len(seen)
}

func (c *Compiler) compile(ctx context.Context, n *tree.Node, root bool) (*CompiledNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n.Kind == tree.ToolStep {
		return &CompiledNode{
			Name:     n.ID.Stem,
			StepID:   n.ID,
			Kind:     tree.ToolStep,
			Document: n.Tool.Path,
			ToolPath: n.Tool.Path,
			Inputs:   n.InputParams(),
			Outputs:  n.OutputParams(),
		}, nil
	}

	hash, err := tree.Hash(n)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", n.ID, err)
	}
	if root {
		return c.build(ctx, n, n.ID.Stem, hash)
	}

	// Identical siblings compiling concurrently wait for one result.
	key := hash + ":" + c.tables.Fingerprint()
	v, err, _ := c.flight.Do(key, func() (any, error) {
		if hit, ok := c.cache.Get(key); ok {
			c.logger.Debug("cache hit", "step", n.ID.String(), "name", hit.Name)
			return hit, nil
		}
		cn, err := c.build(ctx, n, fmt.Sprintf("%s_%s", n.ID.Stem, hash[:8]), hash)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, cn)
		return cn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CompiledNode), nil
}

// build compiles the children of n in parallel, then n itself.
func (c *Compiler) build(ctx context.Context, n *tree.Node, name, hash string) (*CompiledNode, error) {
	children := make([]*CompiledNode, len(n.Children))
	childErrs := make([]error, len(n.Children))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Parallelism)
	for i, ch := range n.Children {
		g.Go(func() error {
			cn, err := c.compile(gctx, ch, false)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				childErrs[i] = err
				return nil
			}
			children[i] = cn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Reported in child order whatever order the siblings finished in.
	var errs model.ErrorList
	for _, err := range childErrs {
		if err != nil {
			errs.Add(err)
		}
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	wf, err := c.workflow(n, name, children)
	if err != nil {
		return nil, err
	}
	return &CompiledNode{
		Name:       name,
		StepID:     n.ID,
		Kind:       tree.WorkflowStep,
		Document:   n.Spec.Path,
		Workflow:   wf,
		Inputs:     n.Flow.Inputs,
		Outputs:    n.Flow.Outputs,
		Inlineable: n.Inlineable(),
		Children:   children,
		Graph:      buildGraph(n, name, children),
		Hash:       hash,
	}, nil
}

// source renders an endpoint as a CWL source reference.
func source(n *tree.Node, e tree.Endpoint) string {
	if e.Step == 0 {
		return e.Port
	}
	return StepName(e.Step, n.Children[e.Step-1].ID) + "/" + e.Port
}

func (c *Compiler) workflow(n *tree.Node, name string, children []*CompiledNode) (*cwl.Workflow, error) {
	flow := n.Flow
	doc := n.Spec.Path
	wf := &cwl.Workflow{ID: name, Label: n.Label()}
	var errs model.ErrorList

	for _, p := range flow.Inputs {
		wf.Inputs = append(wf.Inputs, cwl.InputParam{
			ID:      p.Name,
			Type:    p.Type,
			Label:   p.Label,
			Doc:     p.Doc,
			Default: p.Default,
			Format:  p.Format,
		})
	}
	for _, p := range flow.Outputs {
		out := cwl.OutputParam{ID: p.Name, Type: p.Type}
		if src, ok := flow.SourceOf(tree.Endpoint{Port: p.Name}); ok {
			out.OutputSource = source(n, src)
		}
		wf.Outputs = append(wf.Outputs, out)
	}

	for i, ch := range n.Children {
		pos := i + 1
		step := cwl.Step{ID: StepName(pos, ch.ID)}
		if ch.Kind == tree.ToolStep {
			step.Run = ch.Tool.Path
		} else {
			step.Run = children[i].Name + ".cwl"
			wf.AddRequirement(cwl.SubworkflowFeatureRequirement)
		}

		for _, p := range ch.InputParams() {
			target := tree.Endpoint{Step: pos, Port: p.Name}
			src, bound := flow.SourceOf(target)
			expr, hasExpr := flow.ValueFrom[target]
			if !bound && !hasExpr {
				if !p.Optional() {
					errs.Add(&model.MissingInputError{Document: doc, Position: pos, Step: ch.Name, Port: p.Name})
				}
				continue
			}
			in := cwl.StepInput{ID: p.Name}
			if bound {
				in.Source = source(n, src)
				if err := c.checkTypes(n, pos, ch, p, src); err != nil {
					errs.Add(err)
				}
			}
			if hasExpr {
				in.ValueFrom = expr
				wf.AddRequirement(cwl.StepInputExpressionRequirement)
				wf.AddRequirement(cwl.InlineJavascriptRequirement)
				if err := checkExpression(doc, pos, p.Name, expr); err != nil {
					errs.Add(err)
				}
			}
			step.In = append(step.In, in)
		}
		for _, p := range ch.OutputParams() {
			step.Out = append(step.Out, p.Name)
		}

		if slots, method := ch.Scatter(); len(slots) > 0 {
			step.Scatter = slots
			step.ScatterMethod = method
			wf.AddRequirement(cwl.ScatterFeatureRequirement)
			if len(slots) > 1 && method == "" {
				step.ScatterMethod = cwl.ScatterDotProduct
			}
		}
		if when := ch.When(); when != "" {
			step.When = when
			wf.AddRequirement(cwl.InlineJavascriptRequirement)
			if err := checkExpression(doc, pos, "when", when); err != nil {
				errs.Add(err)
			}
		}
		wf.Steps = append(wf.Steps, step)
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	if apiErr := c.validator.Validate(wf); apiErr != nil {
		return nil, &model.SchemaValidationError{Document: doc, SchemaID: "cwl", Problems: apiErr.Details}
	}
	return wf, nil
}

func (c *Compiler) checkTypes(n *tree.Node, pos int, ch *tree.Node, p tree.Param, src tree.Endpoint) error {
	srcType, ok := sourceType(n, src)
	if !ok {
		return &model.MissingInputError{Document: n.Spec.Path, Position: pos, Step: ch.Name, Port: p.Name}
	}
	sink := ch.SinkType(p)
	if c.tables.Compatible(srcType, sink) {
		return nil
	}
	return &model.TypeMismatchError{
		Document:   n.Spec.Path,
		Position:   pos,
		Step:       ch.Name,
		Port:       p.Name,
		Source:     source(n, src),
		SourceType: srcType,
		SinkType:   sink,
	}
}

func sourceType(n *tree.Node, e tree.Endpoint) (string, bool) {
	if e.Step == 0 {
		p, ok := n.Flow.Input(e.Port)
		return p.Type, ok
	}
	if e.Step > len(n.Children) {
		return "", false
	}
	for _, p := range n.Children[e.Step-1].EffectiveOutputs() {
		if p.Name == e.Port {
			return p.Type, true
		}
	}
	return "", false
}

func checkExpression(doc string, pos int, field, expr string) error {
	if err := cwlexpr.Check(expr); err != nil {
		return &model.SchemaValidationError{
			Document: doc,
			Position: pos,
			SchemaID: "expression",
			Problems: []model.FieldError{{Field: field, Path: field, Message: err.Error()}},
		}
	}
	return nil
}

// buildGraph appends one node per child to a fresh arena for this level,
// merging compiled subworkflow graphs under their step nodes.
func buildGraph(n *tree.Node, name string, children []*CompiledNode) *graph.Data {
	style, _ := graphviz(n)["style"].(string)
	d := graph.New(name, n.Label(), style)
	index := make([]int, len(n.Children)+1)
	for i, ch := range n.Children {
		if children[i].Graph != nil {
			at := d.Merge(children[i].Graph, 0)
			d.Nodes[at].Label = ch.Label()
			d.Nodes[at].Name = StepName(i+1, ch.ID)
			index[i+1] = at
			continue
		}
		index[i+1] = d.AddNode(graph.Node{
			Name:  StepName(i+1, ch.ID),
			Label: strings.TrimSuffix(ch.Name, ".yml"),
			Kind:  ch.Kind.String(),
		}, 0)
	}
	for _, b := range n.Flow.Bindings {
		d.AddEdge(graph.Edge{
			From:     index[b.Source.Step],
			FromPort: b.Source.Port,
			To:       index[b.Target.Step],
			ToPort:   b.Target.Port,
		})
	}
	return d
}

func graphviz(n *tree.Node) map[string]any {
	gv, _ := n.Wic()["graphviz"].(map[string]any)
	return gv
}
