// Package protocol implements the datagram format used by remote microphones.
// Every packet starts with an 8-byte big-endian header; hello packets announce the
// sample format and audio packets carry a sequence number followed by 16-bit
// little-endian PCM.
package protocol
