// Package breakpoints maps the client's breakpoint requests onto the
// scripts the runtime has loaded and tracks whether each request is
// bound.
//
// A Recipe is what the client asked for. Registering it creates a
// RecipeID. The Resolver projects a recipe onto the runtime (one
// debuggee breakpoint per runtime source), the StatusRegistry keeps one
// substatus per planned runtime location and derives the recipe's
// Status from them, and the Updater reconciles the whole list of
// recipes of a file each time the client sends it.
package breakpoints

import (
	"fmt"

	"github.com/go-delve/jsdebug/pkg/location"
	"github.com/go-delve/jsdebug/pkg/resource"
)

// RecipeID is the handle of a registered recipe. IDs are never reused.
type RecipeID int

// ActionKind says what happens when a breakpoint is hit.
type ActionKind uint8

const (
	AlwaysBreak ActionKind = iota
	ConditionalBreak
	LogMessage
	BreakOnHitCount
)

func (k ActionKind) String() string {
	switch k {
	case AlwaysBreak:
		return "break"
	case ConditionalBreak:
		return "conditional"
	case LogMessage:
		return "logpoint"
	case BreakOnHitCount:
		return "hit count"
	}
	return fmt.Sprintf("ActionKind(%d)", uint8(k))
}

// Action is what to do when a breakpoint is hit. Expression is the
// condition, log message template or hit count condition, depending on
// Kind; it is empty for AlwaysBreak.
type Action struct {
	Kind       ActionKind
	Expression string
}

// Break returns an AlwaysBreak action.
func Break() Action { return Action{Kind: AlwaysBreak} }

// Condition returns a ConditionalBreak action.
func Condition(expr string) Action { return Action{Kind: ConditionalBreak, Expression: expr} }

// Log returns a LogMessage action.
func Log(template string) Action { return Action{Kind: LogMessage, Expression: template} }

// HitCount returns a BreakOnHitCount action.
func HitCount(cond string) Action { return Action{Kind: BreakOnHitCount, Expression: cond} }

// validate reports actions that can never be installed.
func (a Action) validate() error {
	switch a.Kind {
	case BreakOnHitCount:
		_, err := ParseHitCondition(a.Expression)
		return err
	case LogMessage:
		_, err := LogMessageExpression(a.Expression)
		return err
	}
	return nil
}

// runtimeCondition is the condition installed in the runtime.
func (a Action) runtimeCondition() string {
	switch a.Kind {
	case ConditionalBreak:
		return a.Expression
	case LogMessage:
		expr, _ := LogMessageExpression(a.Expression)
		return expr
	}
	return ""
}

func (a Action) String() string {
	if a.Expression == "" {
		return a.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", a.Kind, a.Expression)
}

// Recipe is a client breakpoint request, independent of whether it can
// currently be bound.
type Recipe struct {
	Source   resource.Identifier
	Position location.Position
	Action   Action
}

// RecipeKey identifies a recipe. Two requests with the same source,
// position and action are the same recipe.
type RecipeKey struct {
	source   string
	position location.Position
	action   Action
}

// Key returns the identity of r.
func (r Recipe) Key() RecipeKey {
	return RecipeKey{source: r.Source.Canonical(), position: r.Position, action: r.Action}
}

func (r Recipe) String() string {
	return fmt.Sprintf("%s %s", location.New(r.Source.String(), r.Position), r.Action)
}

// ClientRecipe is a registered recipe.
type ClientRecipe struct {
	ID RecipeID
	Recipe
}
