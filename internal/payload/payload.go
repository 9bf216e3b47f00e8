// Package payload implements the strategy payload's canonical serialized
// form and its two payload-hash functions (spec §4.3/§6): a JSON shape of
// `{id, kind, ...kind-specific fields, children{slot: [nodes]}}`, and
// independent hash functions for backtest and sanity cache keys so the two
// never accidentally share a hash (spec §9 open question).
package payload

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/aristath/backtest/internal/engineerr"
	"github.com/aristath/backtest/internal/tree"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Node is the canonical wire shape of a tree.Node: kind-specific fields
// flattened alongside a uniform `children` map keyed by slot name, matching
// spec §6's `{id, kind, ...kind-specific fields, children{slot: [nodes]}}`.
type Node struct {
	ID         string               `json:"id"`
	Kind       string               `json:"kind"`
	Tickers    []string             `json:"tickers,omitempty"`
	Weighting  string               `json:"weighting,omitempty"`
	UserWeights map[string]float64  `json:"userWeights,omitempty"`
	Conditions []Condition          `json:"conditions,omitempty"`
	FuncName   string               `json:"funcName,omitempty"`
	FuncParams map[string]float64   `json:"funcParams,omitempty"`
	Children   map[string][]*Node   `json:"children,omitempty"`
}

// Condition mirrors tree.Condition in the wire shape.
type Condition struct {
	Left       IndicatorRef `json:"left"`
	Comparator string       `json:"comparator"`
	RHSLiteral *float64     `json:"rhsLiteral,omitempty"`
	RHSIndicator *IndicatorRef `json:"rhsIndicator,omitempty"`
	ORGroup    int          `json:"orGroup,omitempty"`
}

// IndicatorRef mirrors tree.IndicatorRef in the wire shape.
type IndicatorRef struct {
	Name   string             `json:"name"`
	Ticker string             `json:"ticker,omitempty"`
	Branch string             `json:"branch,omitempty"`
	Params map[string]float64 `json:"params,omitempty"`
}

// FromTree converts an in-memory tree.Node into its canonical payload
// shape.
func FromTree(n *tree.Node) *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		ID:          n.ID,
		Kind:        string(n.Kind),
		Tickers:     n.Tickers,
		Weighting:   string(n.Weighting),
		UserWeights: n.UserWeights,
		FuncName:    n.FuncName,
		FuncParams:  n.FuncParams,
	}
	for _, c := range n.Conditions {
		out.Conditions = append(out.Conditions, conditionFromTree(c))
	}

	children := map[string][]*Node{}
	switch n.Kind {
	case tree.KindBasic:
		for _, c := range n.Next {
			children["next"] = append(children["next"], FromTree(c))
		}
	case tree.KindIndicator:
		if n.Then != nil {
			children["then"] = []*Node{FromTree(n.Then)}
		}
		if n.Else != nil {
			children["else"] = []*Node{FromTree(n.Else)}
		}
	case tree.KindFunction:
		if n.Child != nil {
			children["next"] = []*Node{FromTree(n.Child)}
		}
	}
	if len(children) > 0 {
		out.Children = children
	}
	return out
}

func conditionFromTree(c tree.Condition) Condition {
	out := Condition{
		Left:       indicatorRefFromTree(c.Left),
		Comparator: string(c.Comparator),
		RHSLiteral: c.RHSLiteral,
		ORGroup:    c.ORGroup,
	}
	if c.RHSIndicator != nil {
		ref := indicatorRefFromTree(*c.RHSIndicator)
		out.RHSIndicator = &ref
	}
	return out
}

func indicatorRefFromTree(r tree.IndicatorRef) IndicatorRef {
	return IndicatorRef{Name: r.Name, Ticker: r.Ticker, Branch: r.Branch, Params: r.Params}
}

// ToTree converts a canonical payload node back into an in-memory
// tree.Node, assigning a synthetic id (via google/uuid) to any node whose
// id is empty -- the shape a strategy round-tripping through compression
// and storage can end up in if a new branch was spliced in without an id.
func ToTree(n *Node) *tree.Node {
	if n == nil {
		return nil
	}
	id := n.ID
	if id == "" {
		id = uuid.NewString()
	}

	out := &tree.Node{
		ID:          id,
		Kind:        tree.Kind(n.Kind),
		Tickers:     n.Tickers,
		Weighting:   tree.Weighting(n.Weighting),
		UserWeights: n.UserWeights,
		FuncName:    n.FuncName,
		FuncParams:  n.FuncParams,
	}
	for _, c := range n.Conditions {
		out.Conditions = append(out.Conditions, conditionToTree(c))
	}

	switch out.Kind {
	case tree.KindBasic:
		for _, c := range n.Children["next"] {
			out.Next = append(out.Next, ToTree(c))
		}
	case tree.KindIndicator:
		if kids := n.Children["then"]; len(kids) > 0 {
			out.Then = ToTree(kids[0])
		}
		if kids := n.Children["else"]; len(kids) > 0 {
			out.Else = ToTree(kids[0])
		}
	case tree.KindFunction:
		if kids := n.Children["next"]; len(kids) > 0 {
			out.Child = ToTree(kids[0])
		}
	}
	return out
}

func conditionToTree(c Condition) tree.Condition {
	out := tree.Condition{
		Left:       indicatorRefToTree(c.Left),
		Comparator: tree.Comparator(c.Comparator),
		RHSLiteral: c.RHSLiteral,
		ORGroup:    c.ORGroup,
	}
	if c.RHSIndicator != nil {
		ref := indicatorRefToTree(*c.RHSIndicator)
		out.RHSIndicator = &ref
	}
	return out
}

func indicatorRefToTree(r IndicatorRef) tree.IndicatorRef {
	return tree.IndicatorRef{Name: r.Name, Ticker: r.Ticker, Branch: r.Branch, Params: r.Params}
}

// Marshal renders a canonical payload node as JSON. Map keys in Go's
// encoding/json are already serialized in sorted order, which is what
// makes this canonical: two equal trees always produce byte-identical
// output.
func Marshal(n *Node) ([]byte, error) {
	return json.Marshal(n)
}

// Unmarshal parses a strategy payload. Per spec §6, "the evaluator
// requires uncompressed input" -- a gzip-magic-byte prefix is rejected as
// a config error rather than silently decompressed.
func Unmarshal(data []byte) (*Node, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		return nil, engineerr.New(engineerr.KindConfig, "payload is gzip-compressed; caller must decompress before evaluation")
	}
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, engineerr.Wrap(engineerr.KindConfig, "failed to parse strategy payload", err)
	}
	return &n, nil
}

// BacktestHash computes the result cache's backtest payload hash: a stable
// hash of the canonicalized payload plus {mode, costBps}.
func BacktestHash(payloadJSON []byte, mode string, costBps float64) (string, error) {
	return hashWithSettings("backtest", payloadJSON, mode, costBps)
}

// SanityHash computes the sanity report's payload hash. It is
// deliberately namespaced apart from BacktestHash (a distinct prefix, not
// just distinct inputs) so a backtest entry and a sanity entry for the
// same strategy+settings can never collide or be reused for each other,
// per the resolved open question on hash sharing.
func SanityHash(payloadJSON []byte, mode string, costBps float64) (string, error) {
	return hashWithSettings("sanity", payloadJSON, mode, costBps)
}

func hashWithSettings(namespace string, payloadJSON []byte, mode string, costBps float64) (string, error) {
	if len(payloadJSON) == 0 {
		return "", engineerr.New(engineerr.KindConfig, "cannot hash an empty payload")
	}
	h := sha256.New()
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	h.Write(payloadJSON)
	h.Write([]byte(fmt.Sprintf("|%s|%.10f", mode, costBps)))
	return hex.EncodeToString(h.Sum(nil)), nil
}
