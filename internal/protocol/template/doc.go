// Package template owns the message schema.
//
// Ownership boundary:
// - message/block/variable descriptions and their wire widths
// - frequency class -> message id encoding width
// - template file parsing and the built-in template set
//
// A Registry is immutable once built and is shared by every circuit for the
// process lifetime.
package template
