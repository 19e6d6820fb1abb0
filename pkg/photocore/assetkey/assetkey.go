// Package assetkey defines the naming strategy that maps a primary asset
// key to its derivative keys. Derivative naming is a pure function of the
// primary key and a variant label, which makes re-derivation idempotent
// and lets the web layer compute derivative URLs by the same substitution
// without calling the pipeline.
package assetkey

import "strings"

// Variant describes one derivative rendition: its path label and the
// bounding box (in pixels) the source is resized to fit inside.
type Variant struct {
	Label string
	Size  int
}

// Strategy maps primary keys to derivative keys.
type Strategy interface {
	// DerivativeKey returns the storage key for the given variant, or ""
	// when the primary key does not belong to this strategy's layout.
	DerivativeKey(primaryKey string, variant Variant) string

	// Variants returns the configured renditions.
	Variants() []Variant
}

// Substitution derives keys by replacing a path segment of the primary
// key with the variant label, e.g. "/file/" -> "/thumb/". The same
// substitution applies to public URLs since keys appear verbatim in them.
type Substitution struct {
	segment  string
	variants []Variant
}

// NewSubstitution builds a substitution strategy over the given primary
// path segment (including surrounding slashes, e.g. "/file/").
func NewSubstitution(segment string, variants ...Variant) *Substitution {
	return &Substitution{segment: segment, variants: variants}
}

func (s *Substitution) DerivativeKey(primaryKey string, variant Variant) string {
	if primaryKey == "" || !strings.Contains(primaryKey, s.segment) {
		return ""
	}
	return strings.Replace(primaryKey, s.segment, "/"+variant.Label+"/", 1)
}

func (s *Substitution) Variants() []Variant {
	return s.variants
}

// DerivativeKeys returns all derivative keys for a primary key, skipping
// variants the key does not map to.
func DerivativeKeys(strategy Strategy, primaryKey string) []string {
	var keys []string
	for _, v := range strategy.Variants() {
		if k := strategy.DerivativeKey(primaryKey, v); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Photo assets live under "/file/" and get a 600px thumbnail plus a
// 1500px large rendition. User pictures live under "/picture/" and get a
// single 500px thumbnail.
func PhotoProfile() *Substitution {
	return NewSubstitution("/file/",
		Variant{Label: "thumb", Size: 600},
		Variant{Label: "large", Size: 1500},
	)
}

func PictureProfile() *Substitution {
	return NewSubstitution("/picture/",
		Variant{Label: "thumb", Size: 500},
	)
}
