package differ

// Option is a functional option for configuring a Differ.
type Option func(*differ)

// WithIgnoredProperties sets resource properties to ignore during comparison.
func WithIgnoredProperties(names ...string) Option {
	return func(d *differ) {
		for _, name := range names {
			d.ignoreProperties[name] = true
		}
	}
}

// WithByteComparison compares canonical JSON encodings of the payloads
// instead of walking the property values.
func WithByteComparison() Option {
	return func(d *differ) {
		d.byteComparison = true
	}
}
