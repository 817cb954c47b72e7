package model

import (
	"slices"
	"sync"
)

// SpecRef points at a workflow sub-specification document on disk.
type SpecRef struct {
	ID     StepID `json:"id"`
	Path   string `json:"path"`
	Legacy bool   `json:"legacy,omitempty"`
}

// Collision records a StepID defined more than once during discovery.
type Collision struct {
	ID     StepID
	Kept   string
	Shadow string
}

// Catalog maps StepIDs to tool definitions and sub-specification paths.
// It is populated once by discovery and then shared read-only.
type Catalog struct {
	mu         sync.RWMutex
	tools      map[StepID]*ToolDef
	specs      map[StepID]SpecRef
	collisions []Collision
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		tools: make(map[StepID]*ToolDef),
		specs: make(map[StepID]SpecRef),
	}
}

// AddTool registers a tool definition. When the id is already taken the
// precedence rule of Prefer decides which definition stays, and the
// collision is recorded.
func (c *Catalog) AddTool(def *ToolDef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.tools[def.ID]
	if !ok {
		c.tools[def.ID] = def
		return
	}
	win := Prefer(prev, def)
	lose := def
	if win == def {
		lose = prev
	}
	c.tools[def.ID] = win
	c.collisions = append(c.collisions, Collision{ID: def.ID, Kept: win.Path, Shadow: lose.Path})
}

// AddSpec registers a sub-specification document using the same precedence
// rule as tools.
func (c *Catalog) AddSpec(ref SpecRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.specs[ref.ID]
	if !ok {
		c.specs[ref.ID] = ref
		return
	}
	a := &ToolDef{Path: prev.Path, Legacy: prev.Legacy}
	b := &ToolDef{Path: ref.Path, Legacy: ref.Legacy}
	kept, shadow := prev, ref
	if Prefer(a, b) == b {
		kept, shadow = ref, prev
	}
	c.specs[ref.ID] = kept
	c.collisions = append(c.collisions, Collision{ID: ref.ID, Kept: kept.Path, Shadow: shadow.Path})
}

// Tool looks up a tool definition.
func (c *Catalog) Tool(id StepID) (*ToolDef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[id]
	return t, ok
}

// Spec looks up a sub-specification document.
func (c *Catalog) Spec(id StepID) (SpecRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.specs[id]
	return s, ok
}

// Tools returns every tool definition sorted by id.
func (c *Catalog) Tools() []*ToolDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*ToolDef, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *ToolDef) int { return a.ID.Compare(b.ID) })
	return out
}

// Specs returns every sub-specification sorted by id.
func (c *Catalog) Specs() []SpecRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SpecRef, 0, len(c.specs))
	for _, s := range c.specs {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b SpecRef) int { return a.ID.Compare(b.ID) })
	return out
}

// Collisions returns the StepID collisions seen while populating the catalog.
func (c *Catalog) Collisions() []Collision {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.collisions)
}
