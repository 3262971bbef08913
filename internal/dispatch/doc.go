// Package dispatch routes decoded inbound messages to registered listeners.
// A Dispatcher is driven from a single consumer goroutine and holds no locks.
package dispatch
