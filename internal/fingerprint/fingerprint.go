// Package fingerprint derives deterministic cache keys from generation requests.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/blueberrycongee/genmux/pkg/types"
)

// Generator computes request fingerprints.
type Generator struct {
	// Prefix is prepended to all generated keys.
	Prefix string
}

// New creates a Generator with an optional prefix.
func New(prefix string) *Generator {
	return &Generator{Prefix: prefix}
}

// Compute returns the fingerprint of req using a generator without prefix.
func Compute(req *types.GenerationRequest) string {
	return New("").Compute(req)
}

// Compute returns the hex SHA-256 of the canonical form of req.
// The key format is: [prefix:]sha256(canonical)
func (g *Generator) Compute(req *types.GenerationRequest) string {
	hash := sha256.Sum256([]byte(Canonical(req)))
	hashHex := hex.EncodeToString(hash[:])

	if g.Prefix == "" {
		return hashHex
	}
	return g.Prefix + ":" + hashHex
}

// Canonical renders the fields that determine a result in a fixed order.
// Strength is rounded to two decimals and guidance to one. The seed only
// participates when it is pinned (>= 0).
func Canonical(req *types.GenerationRequest) string {
	var sb strings.Builder

	sb.WriteString("image:")
	sb.WriteString(digest(req.Image))
	sb.WriteString("|mask:")
	sb.WriteString(digest(req.Mask))
	sb.WriteString("|prompt:")
	sb.WriteString(strconv.Quote(strings.TrimSpace(req.Prompt)))
	sb.WriteString("|negative:")
	sb.WriteString(strconv.Quote(strings.TrimSpace(req.NegativePrompt)))
	sb.WriteString("|style:")
	sb.WriteString(strconv.Quote(req.StylePreset))

	p := req.Params
	fmt.Fprintf(&sb, "|strength:%.2f", p.Strength)
	fmt.Fprintf(&sb, "|steps:%d", p.Steps)
	fmt.Fprintf(&sb, "|guidance:%.1f", p.Guidance)
	if p.Seed >= 0 {
		fmt.Fprintf(&sb, "|seed:%d", p.Seed)
	} else {
		sb.WriteString("|seed:any")
	}
	fmt.Fprintf(&sb, "|size:%dx%d", p.Width, p.Height)

	sb.WriteString("|format:")
	sb.WriteString(format(req.Format))
	sb.WriteString("|provider:")
	sb.WriteString(strconv.Quote(req.Provider))

	return sb.String()
}

func digest(data []byte) string {
	if len(data) == 0 {
		return "-"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func format(f string) string {
	switch f {
	case "", "png":
		return "png"
	case "jpg", "jpeg":
		return "jpeg"
	default:
		return f
	}
}
