// Package dedup collapses redundant data commands before they reach the
// provider. Order is preserved: the first occurrence of a command wins,
// which keeps prompt prefixes stable for provider-side caching.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"assistant/pkg/session"
)

// Rule reports whether general makes specific redundant. Rules are only
// consulted for commands of the same type.
type Rule func(general, specific session.DataCommand) bool

// Deduplicator removes identical and included commands.
type Deduplicator struct {
	rules map[string]Rule
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithRule overrides the inclusion rule for one command type.
func WithRule(commandType string, rule Rule) Option {
	return func(d *Deduplicator) {
		d.rules[commandType] = rule
	}
}

// New creates a Deduplicator with the default range-aware inclusion rule.
func New(opts ...Option) *Deduplicator {
	d := &Deduplicator{rules: make(map[string]Rule)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Hash returns a deterministic digest of (type, params, isRelative). The
// command ID is not part of the identity.
func Hash(cmd session.DataCommand) (string, error) {
	raw, err := json.Marshal(struct {
		Type       string         `json:"type"`
		Params     map[string]any `json:"params"`
		IsRelative bool           `json:"isRelative"`
	}{cmd.Type, cmd.Params, cmd.IsRelative})
	if err != nil {
		return "", fmt.Errorf("encode command %s: %w", cmd.Type, err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize command %s: %w", cmd.Type, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Deduplicate runs both phases: identical removal, then inclusion pruning.
func (d *Deduplicator) Deduplicate(cmds []session.DataCommand) []session.DataCommand {
	return d.RemoveIncludedCommands(RemoveIdenticalCommands(cmds))
}

// RemoveIdenticalCommands drops commands whose hash was already seen.
// Commands that cannot be hashed are kept.
func RemoveIdenticalCommands(cmds []session.DataCommand) []session.DataCommand {
	seen := make(map[string]bool, len(cmds))
	out := make([]session.DataCommand, 0, len(cmds))
	for _, cmd := range cmds {
		h, err := Hash(cmd)
		if err != nil {
			out = append(out, cmd)
			continue
		}
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, cmd)
	}
	return out
}

// RemoveIncludedCommands drops every command covered by an earlier kept one.
func (d *Deduplicator) RemoveIncludedCommands(cmds []session.DataCommand) []session.DataCommand {
	out := make([]session.DataCommand, 0, len(cmds))
	for _, cmd := range cmds {
		covered := false
		for _, kept := range out {
			if d.Covers(kept, cmd) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, cmd)
		}
	}
	return out
}

// Covers reports whether general makes specific redundant.
func (d *Deduplicator) Covers(general, specific session.DataCommand) bool {
	if general.Type != specific.Type || general.IsRelative != specific.IsRelative {
		return false
	}
	if rule, ok := d.rules[general.Type]; ok {
		return rule(general, specific)
	}
	return RangeRule(general, specific)
}
