// Package codec reads and builds message payloads against a template.
//
// InMessage walks a received payload with a cursor that always rests on a
// variable boundary. OutMessage appends variables in template order and
// freezes once finished. Both sides share the little-endian value encodings
// in values.go.
package codec
