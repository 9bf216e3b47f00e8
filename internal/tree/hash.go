package tree

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// structuralHash computes a deterministic hash over (kind, positions,
// weighting, conditions, child hashes by slot, order-sensitive), used by
// the gate-chain merger to decide whether two `then` subtrees are
// semantically equivalent. Grounded in the teacher's habit (e.g.
// optimization/risk.go's hashISINs) of sorting, joining, and sha256-hashing
// a canonical string rather than reaching for a general object hasher.
func structuralHash(n *Node) string {
	var b strings.Builder
	writeHash(&b, n)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeHash(b *strings.Builder, n *Node) {
	if n == nil {
		b.WriteString("nil;")
		return
	}
	fmt.Fprintf(b, "kind=%s;weighting=%s;", n.Kind, n.Weighting)

	switch n.Kind {
	case KindPosition:
		tickers := append([]string(nil), n.Tickers...)
		sort.Strings(tickers)
		fmt.Fprintf(b, "tickers=%s;", strings.Join(tickers, ","))
		writeWeightMap(b, n.UserWeights)
	case KindBasic:
		b.WriteString("next=[")
		for _, c := range n.Next {
			writeHash(b, c)
		}
		b.WriteString("];")
	case KindIndicator:
		b.WriteString("conditions=[")
		for _, c := range n.Conditions {
			writeCondition(b, c)
		}
		b.WriteString("];then=")
		writeHash(b, n.Then)
		b.WriteString("else=")
		writeHash(b, n.Else)
	case KindFunction:
		fmt.Fprintf(b, "func=%s;", n.FuncName)
		writeWeightMap(b, n.FuncParams)
		b.WriteString("child=")
		writeHash(b, n.Child)
	}
}

func writeCondition(b *strings.Builder, c Condition) {
	fmt.Fprintf(b, "(left=%s;cmp=%s;orgroup=%d;", indicatorRefString(c.Left), c.Comparator, c.ORGroup)
	if c.RHSLiteral != nil {
		fmt.Fprintf(b, "rhslit=%v;", *c.RHSLiteral)
	}
	if c.RHSIndicator != nil {
		fmt.Fprintf(b, "rhsind=%s;", indicatorRefString(*c.RHSIndicator))
	}
	b.WriteString(")")
}

func indicatorRefString(ref IndicatorRef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s@%s%s(", ref.Name, ref.Ticker, ref.Branch)
	writeWeightMap(&b, ref.Params)
	b.WriteString(")")
	return b.String()
}

func writeWeightMap(b *strings.Builder, m map[string]float64) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s=%v,", k, m[k])
	}
}
