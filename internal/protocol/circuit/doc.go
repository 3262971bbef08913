// Package circuit runs one UDP circuit to a simulator: sequence numbering,
// acks, retransmission of reliable messages, duplicate suppression and ping
// replies.
//
// A reader goroutine only pumps raw datagrams. Everything else, including the
// resend table, the dedupe window and the pending ack list, belongs to the
// loop goroutine and is never touched from outside it.
package circuit
