// Package formula compiles and evaluates the per-guild XP requirement
// expression. The language is small: numeric literals, the
// variable level, + - * / // % **, unary signs and the functions int, pow,
// round, max and min. Nothing else parses.
package formula

import (
	"fmt"
	"sync"
)

// Default is the requirement used when a guild has no custom formula.
const Default = "level*100"

// ValidationError reports source text that is not a valid expression.
type ValidationError struct {
	Pos    int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid formula at offset %d: %s", e.Pos, e.Reason)
}

// EvaluationError reports a failure while evaluating a compiled expression.
type EvaluationError struct {
	Level  int64
	Reason string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("formula evaluation failed at level %d: %s", e.Level, e.Reason)
}

// Expr is a compiled expression. It is immutable and safe for concurrent use.
type Expr struct {
	source string
	root   node
}

// Compile parses src into an Expr.
func Compile(src string) (*Expr, error) {
	root, err := parse(src)
	if err != nil {
		return nil, err
	}
	return &Expr{source: src, root: root}, nil
}

// Source returns the text the expression was compiled from.
func (e *Expr) Source() string { return e.source }

// Evaluate computes the expression for level and truncates toward zero.
func (e *Expr) Evaluate(level int64) (int64, error) {
	v, err := e.root.eval(level)
	if err == nil {
		var n int64
		if n, err = truncate(v); err == nil {
			return n, nil
		}
	}
	if ee, ok := err.(*EvaluationError); ok {
		return 0, &EvaluationError{Level: level, Reason: ee.Reason}
	}
	return 0, err
}

// Cache holds compiled expressions keyed by source text.
type Cache struct {
	mu    sync.RWMutex
	exprs map[string]*Expr
}

func NewCache() *Cache {
	return &Cache{exprs: make(map[string]*Expr)}
}

// Compile returns the cached Expr for src, compiling it on a miss. An empty
// source selects the default formula. Invalid sources are not cached.
func (c *Cache) Compile(src string) (*Expr, error) {
	if src == "" {
		src = Default
	}
	c.mu.RLock()
	e, ok := c.exprs[src]
	c.mu.RUnlock()
	if ok {
		return e, nil
	}

	e, err := Compile(src)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if cached, ok := c.exprs[src]; ok {
		e = cached
	} else {
		c.exprs[src] = e
	}
	c.mu.Unlock()
	return e, nil
}

// Len reports how many expressions are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.exprs)
}
