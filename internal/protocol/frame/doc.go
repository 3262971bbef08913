// Package frame owns the datagram layout of a circuit: the flag byte, the
// big-endian sequence number, the extra header, the message id prefix, the
// zerocoded body and the trailing ack block.
package frame
