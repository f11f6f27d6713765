package schema

import "strings"

// NameTransform maps an envelope discriminator value to a candidate
// schema type name. The rule is specific to one observed schema family
// and deliberately lives in configuration rather than the unwrapper:
// strip a fixed prefix, convert underscore-delimited tokens to
// CamelCase, append a fixed suffix. Whether the candidate exists is the
// registry's call, not this function's.
type NameTransform struct {
	StripPrefix string `mapstructure:"strip_prefix"`
	Suffix      string `mapstructure:"suffix"`
}

// Apply transforms a discriminator such as "EVT_FIRE_BOLT" into
// "FireBoltEvent" (with StripPrefix "EVT_" and Suffix "Event").
// An empty or prefix-only discriminator yields "".
func (t NameTransform) Apply(disc string) string {
	disc = strings.TrimPrefix(disc, t.StripPrefix)
	if disc == "" {
		return ""
	}
	var b strings.Builder
	for _, tok := range strings.Split(disc, "_") {
		if tok == "" {
			continue
		}
		b.WriteString(strings.ToUpper(tok[:1]))
		b.WriteString(strings.ToLower(tok[1:]))
	}
	if b.Len() == 0 {
		return ""
	}
	b.WriteString(t.Suffix)
	return b.String()
}
