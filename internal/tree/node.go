// Package tree implements the strategy tree model (spec §3) and its
// compressor (spec §4.1). A tree is a user-authored directed tree of nodes
// that decides, for each trading day, how to allocate capital across a
// universe of tickers.
package tree

import "fmt"

// Kind tags the variant of a Node. Every traversal site switches
// exhaustively over Kind (spec §9 design note: "dynamic dispatch over node
// kinds" modeled as a tagged variant).
type Kind string

const (
	KindPosition  Kind = "position"
	KindBasic     Kind = "basic"
	KindIndicator Kind = "indicator"
	KindFunction  Kind = "function"
)

// Weighting selects how a node distributes weight across its outputs.
type Weighting string

const (
	WeightingEqual        Weighting = "equal"
	WeightingInverseVol   Weighting = "inverse-volatility"
	WeightingMarketCap    Weighting = "market-cap"
	WeightingUserSpecified Weighting = "user-specified"
)

// Comparator is the relational operator a Condition evaluates.
type Comparator string

const (
	CmpLT Comparator = "<"
	CmpLE Comparator = "<="
	CmpGT Comparator = ">"
	CmpGE Comparator = ">="
	CmpEQ Comparator = "=="
)

// EmptyTicker is the literal that marks a not-yet-assigned ticker slot; it
// is pruned by the compressor rather than ever reaching the evaluator.
const EmptyTicker = "Empty"

// IndicatorRef names an indicator function applied to a ticker (or branch
// reference) at a point in time.
type IndicatorRef struct {
	Name   string             // e.g. "RSI", "SMA", "PRICE"
	Ticker string             // ticker the indicator is evaluated on, or ""
	Branch string             // "branch:<gate node id>" reference, or ""
	Params map[string]float64 // e.g. {"n": 14}
}

// Condition is one clause of an indicator gate. The right-hand side is
// either a literal (RHSLiteral set, RHSIndicator nil) or a second
// indicator/ticker evaluation (RHSIndicator set).
type Condition struct {
	Left       IndicatorRef
	Comparator Comparator
	RHSLiteral *float64
	RHSIndicator *IndicatorRef
	// OR marks this condition as a member of an OR-group: it unions with
	// adjacent OR-group members (by OR-group index) before the group result
	// is ANDed with the remaining conditions. A condition with ORGroup == 0
	// is always ANDed on its own.
	ORGroup int
}

// Node is one element of a strategy tree. Fields are populated according to
// Kind, as grouped below; Validate checks the per-Kind requirements.
type Node struct {
	ID   string
	Kind Kind

	// position
	Tickers   []string
	Weighting Weighting
	UserWeights map[string]float64 // used when Weighting == WeightingUserSpecified

	// basic
	Next []*Node

	// indicator (gate)
	Conditions []Condition
	Then       *Node
	Else       *Node

	// function
	FuncName   string
	FuncParams map[string]float64
	Child      *Node
}

// Validate performs a structural check of a single node (not recursive):
// unknown kind or a missing required slot on a non-terminal fails fast with
// a structural-error-shaped message (the caller wraps it in engineerr).
func (n *Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("node has no id")
	}
	switch n.Kind {
	case KindPosition:
		// tickers may be empty pre-compression (literal Empty); nothing else required.
	case KindBasic:
		// next may be empty pre-compression; nothing else required here.
	case KindIndicator:
		if len(n.Conditions) == 0 {
			return fmt.Errorf("indicator node %s has no conditions", n.ID)
		}
	case KindFunction:
		// child may be nil pre-compression.
	default:
		return fmt.Errorf("node %s has unknown kind %q", n.ID, n.Kind)
	}
	return nil
}

// Children returns the direct child slots of n in a stable, kind-specific
// order, skipping nils. Used by generic tree walks (node counting,
// structural validation, the evaluator's indicator collection) that don't
// need to special-case each kind.
func (n *Node) Children() []*Node {
	switch n.Kind {
	case KindPosition:
		return nil
	case KindBasic:
		return n.Next
	case KindIndicator:
		var out []*Node
		if n.Then != nil {
			out = append(out, n.Then)
		}
		if n.Else != nil {
			out = append(out, n.Else)
		}
		return out
	case KindFunction:
		if n.Child != nil {
			return []*Node{n.Child}
		}
		return nil
	default:
		return nil
	}
}
