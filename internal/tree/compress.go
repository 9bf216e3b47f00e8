package tree

import (
	"fmt"
	"sort"

	"github.com/aristath/backtest/internal/engineerr"
)

// Stats summarizes what compression did to a tree.
type Stats struct {
	OriginalNodes    int
	CompressedNodes  int
	NodesRemoved     int
	GateChainsMerged int
}

// Compressed is the output of Compress: the rewritten tree plus the
// per-node analysis metadata the evaluator relies on.
type Compressed struct {
	Tree            *Node
	TickerLocations map[string]map[string]bool // node id -> reachable tickers
	StaticNodes     map[string]bool            // node ids whose output never varies by date
	Stats           Stats
}

// Compress rewrites tree into a semantically equivalent, smaller tree and
// precomputes per-node analysis metadata (spec §4.1). It is deterministic:
// a given input tree maps to exactly one output. Compression never
// mutates the input; it clones first.
func Compress(root *Node) (*Compressed, error) {
	if root == nil {
		return nil, engineerr.New(engineerr.KindStructural, "tree has no root")
	}

	if err := validateStructure(root, map[*Node]bool{}); err != nil {
		return nil, err
	}

	original := countNodes(root)

	working := Clone(root)
	working, empty := pruneEmptyBranches(working)
	if empty {
		return nil, engineerr.New(engineerr.KindStructural, "tree is entirely empty after pruning")
	}

	working = collapseSingleChildren(working)

	merges := 0
	working = mergeGateChains(working, &merges)

	tickerLocations := map[string]map[string]bool{}
	collectTickerLocations(working, tickerLocations)

	staticNodes := map[string]bool{}
	collectStaticNodes(working, staticNodes)

	compressed := countNodes(working)

	return &Compressed{
		Tree:            working,
		TickerLocations: tickerLocations,
		StaticNodes:     staticNodes,
		Stats: Stats{
			OriginalNodes:    original,
			CompressedNodes:  compressed,
			NodesRemoved:     original - compressed,
			GateChainsMerged: merges,
		},
	}, nil
}

// Summary renders a one-line description of compression results, in the
// style of the teacher's per-operation completion log lines.
func (s Stats) Summary() string {
	return fmt.Sprintf("compressed %d nodes -> %d nodes (removed %d, merged %d gate chains)",
		s.OriginalNodes, s.CompressedNodes, s.NodesRemoved, s.GateChainsMerged)
}

func countNodes(n *Node) int {
	if n == nil {
		return 0
	}
	count := 1
	for _, c := range n.Children() {
		count += countNodes(c)
	}
	return count
}

// validateStructure fails fast on cycles, unknown kinds, or missing
// required slots. visiting tracks the current DFS path by pointer identity
// so a cycle (a node reachable from itself) is detected rather than
// recursing forever.
func validateStructure(n *Node, visiting map[*Node]bool) error {
	if n == nil {
		return nil
	}
	if visiting[n] {
		return engineerr.New(engineerr.KindStructural, fmt.Sprintf("cycle detected at node %s", n.ID))
	}
	if err := n.Validate(); err != nil {
		return engineerr.Wrap(engineerr.KindStructural, "structural validation failed", err).WithNode(n.ID)
	}
	visiting[n] = true
	defer delete(visiting, n)
	for _, c := range n.Children() {
		if err := validateStructure(c, visiting); err != nil {
			return err
		}
	}
	return nil
}

// isEmptyPosition reports whether a position node carries no real tickers:
// none, or every entry is the Empty literal.
func isEmptyPosition(n *Node) bool {
	for _, t := range n.Tickers {
		if t != EmptyTicker && t != "" {
			return false
		}
	}
	return true
}

// pruneEmptyBranches removes empty subtrees bottom-up. It returns the
// (possibly nil) rewritten node and whether that node is itself empty.
func pruneEmptyBranches(n *Node) (*Node, bool) {
	if n == nil {
		return nil, true
	}
	switch n.Kind {
	case KindPosition:
		if isEmptyPosition(n) {
			return nil, true
		}
		// Drop stray Empty entries even when real tickers remain.
		filtered := n.Tickers[:0:0]
		for _, t := range n.Tickers {
			if t != EmptyTicker && t != "" {
				filtered = append(filtered, t)
			}
		}
		n.Tickers = filtered
		return n, false

	case KindBasic:
		var kept []*Node
		for _, c := range n.Next {
			newChild, empty := pruneEmptyBranches(c)
			if !empty {
				kept = append(kept, newChild)
			}
		}
		n.Next = kept
		if len(kept) == 0 {
			return nil, true
		}
		return n, false

	case KindIndicator:
		thenNode, thenEmpty := pruneEmptyBranches(n.Then)
		elseNode, elseEmpty := pruneEmptyBranches(n.Else)
		n.Then, n.Else = thenNode, elseNode
		if thenEmpty && elseEmpty {
			return nil, true
		}
		return n, false

	case KindFunction:
		child, empty := pruneEmptyBranches(n.Child)
		n.Child = child
		if empty {
			return nil, true
		}
		return n, false
	}
	return n, false
}

// collapseSingleChildren replaces a `basic` node with equal weighting and
// exactly one child in `next` by that child. `function` nodes are never
// collapsed since their post-processing is semantic.
func collapseSingleChildren(n *Node) *Node {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindBasic:
		for i, c := range n.Next {
			n.Next[i] = collapseSingleChildren(c)
		}
		if n.Weighting == WeightingEqual && len(n.Next) == 1 {
			return n.Next[0]
		}
		return n
	case KindIndicator:
		n.Then = collapseSingleChildren(n.Then)
		n.Else = collapseSingleChildren(n.Else)
		return n
	case KindFunction:
		n.Child = collapseSingleChildren(n.Child)
		return n
	default:
		return n
	}
}

// mergeGateChains merges a chain of nested indicator gates into one node
// with OR-grouped conditions, whenever the nested gate's `then` subtree is
// structurally equivalent to the outer gate's `then` subtree. It recurses
// into the rewritten else branch to absorb further chained gates.
func mergeGateChains(n *Node, merges *int) *Node {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindBasic:
		for i, c := range n.Next {
			n.Next[i] = mergeGateChains(c, merges)
		}
		return n
	case KindFunction:
		n.Child = mergeGateChains(n.Child, merges)
		return n
	case KindIndicator:
		n.Then = mergeGateChains(n.Then, merges)
		n.Else = mergeGateChains(n.Else, merges)

		for n.Else != nil && n.Else.Kind == KindIndicator &&
			structuralHash(n.Then) == structuralHash(n.Else.Then) &&
			isSingleClause(n.Conditions) && isSingleClause(n.Else.Conditions) {
			nested := n.Else
			group := nextORGroup(append(append([]Condition(nil), n.Conditions...), nested.Conditions...))
			for i := range n.Conditions {
				n.Conditions[i].ORGroup = group
			}
			for i := range nested.Conditions {
				nested.Conditions[i].ORGroup = group
			}
			n.Conditions = append(n.Conditions, nested.Conditions...)
			n.Else = nested.Else
			*merges++
		}
		return n
	default:
		return n
	}
}

// isSingleClause reports whether conds is one atomic boolean clause that can
// be safely OR-merged with another clause: either a single condition, or a
// set of conditions already unified under one shared OR-group by a prior
// merge. A compound conjunction (multiple conditions in the default AND
// group) cannot be OR-merged without changing its meaning, so those are left
// unmerged rather than merged incorrectly.
func isSingleClause(conds []Condition) bool {
	if len(conds) <= 1 {
		return true
	}
	group := conds[0].ORGroup
	if group == 0 {
		return false
	}
	for _, c := range conds[1:] {
		if c.ORGroup != group {
			return false
		}
	}
	return true
}

func nextORGroup(conds []Condition) int {
	max := 0
	for _, c := range conds {
		if c.ORGroup > max {
			max = c.ORGroup
		}
	}
	return max + 1
}

// collectTickerLocations builds, bottom-up, the set of tickers each node
// can emit or reference in its conditions.
func collectTickerLocations(n *Node, out map[string]map[string]bool) map[string]bool {
	if n == nil {
		return map[string]bool{}
	}
	set := map[string]bool{}
	switch n.Kind {
	case KindPosition:
		for _, t := range n.Tickers {
			set[t] = true
		}
	case KindBasic:
		for _, c := range n.Next {
			for t := range collectTickerLocations(c, out) {
				set[t] = true
			}
		}
	case KindIndicator:
		for t := range collectTickerLocations(n.Then, out) {
			set[t] = true
		}
		for t := range collectTickerLocations(n.Else, out) {
			set[t] = true
		}
		for _, cond := range n.Conditions {
			if cond.Left.Ticker != "" {
				set[cond.Left.Ticker] = true
			}
			if cond.RHSIndicator != nil && cond.RHSIndicator.Ticker != "" {
				set[cond.RHSIndicator.Ticker] = true
			}
		}
	case KindFunction:
		for t := range collectTickerLocations(n.Child, out) {
			set[t] = true
		}
	}
	out[n.ID] = set
	return set
}

// collectStaticNodes marks the set of node ids whose output never varies
// by date: a position is static; a basic is static iff every child is
// static; indicator and function nodes are never static.
func collectStaticNodes(n *Node, out map[string]bool) bool {
	if n == nil {
		return true
	}
	switch n.Kind {
	case KindPosition:
		out[n.ID] = true
		return true
	case KindBasic:
		static := true
		for _, c := range n.Next {
			if !collectStaticNodes(c, out) {
				static = false
			}
		}
		out[n.ID] = static
		return static
	case KindIndicator:
		collectStaticNodes(n.Then, out)
		collectStaticNodes(n.Else, out)
		out[n.ID] = false
		return false
	case KindFunction:
		collectStaticNodes(n.Child, out)
		out[n.ID] = false
		return false
	default:
		return false
	}
}

// StructuralEqual reports whether two trees are structurally identical,
// used by tests to assert idempotence: compress(compress(T)) == compress(T).
func StructuralEqual(a, b *Node) bool {
	return structuralHash(a) == structuralHash(b)
}

// sortedIDs returns the keys of m in sorted order. Nothing in the module
// calls it at present.
func sortedIDs(m map[string]bool) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
