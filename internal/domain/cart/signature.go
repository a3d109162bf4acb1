// internal/domain/cart/signature.go
package cart

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// NoModifiers is the modifier part of a signature with an empty modifier list.
const NoModifiers = "∅"

const hydratedDisambiguator = "hydrated"

// ModifierRef is the part of a modifier that takes part in identity.
type ModifierRef struct {
	ModifierID string
	Count      int
}

// RefsOf projects modifiers onto their identity part.
func RefsOf(mods []Modifier) []ModifierRef {
	refs := make([]ModifierRef, 0, len(mods))
	for _, m := range mods {
		refs = append(refs, ModifierRef{ModifierID: m.ModifierID, Count: m.Count})
	}
	return refs
}

var sigEscaper = strings.NewReplacer(`%`, `%25`, `|`, `%7C`, `,`, `%2C`, `:`, `%3A`)

// Signature returns itemId + "|" + the canonical modifier multiset.
// Modifier order does not matter; the same id listed twice is summed and
// non-positive counts are dropped.
func Signature(itemID string, mods []ModifierRef) string {
	item := sigEscaper.Replace(strings.TrimSpace(itemID))

	counts := map[string]int{}
	for _, m := range mods {
		id := strings.TrimSpace(m.ModifierID)
		if id == "" || m.Count <= 0 {
			continue
		}
		counts[id] += m.Count
	}
	if len(counts) == 0 {
		return item + "|" + NoModifiers
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, sigEscaper.Replace(id)+":"+strconv.Itoa(counts[id]))
	}
	return item + "|" + strings.Join(parts, ",")
}

// NewLineID derives the id of a locally created line.
// The disambiguator keeps a re-added signature from reusing a removed line's id.
func NewLineID(restaurantID, itemID, signature, disambiguator string) string {
	return "ln_" + digest(restaurantID, itemID, signature, disambiguator)
}

// HydratedLineID derives the id of a line materialized from a remote snapshot.
// Same inputs always give the same id, so repeated hydration never forks a line.
func HydratedLineID(restaurantID, itemID, signature string) string {
	return "hy_" + digest(restaurantID, itemID, signature, hydratedDisambiguator)
}

// Resolve returns (signature, lineId) for a new local line.
func Resolve(restaurantID string, c Candidate, disambiguator string) (string, string) {
	sig := Signature(c.ItemID, RefsOf(c.Modifiers))
	return sig, NewLineID(restaurantID, strings.TrimSpace(c.ItemID), sig, disambiguator)
}

// ResolveHydrated returns (signature, lineId) for a remote line.
func ResolveHydrated(restaurantID string, rl RemoteLine) (string, string) {
	sig := Signature(rl.ItemID, RefsOf(rl.Modifications))
	return sig, HydratedLineID(restaurantID, strings.TrimSpace(rl.ItemID), sig)
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strings.TrimSpace(p)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:24]
}
