// Package lnet contains the networked engine of the stream layer.
//
// An [Engine] owns two UDP sockets.
// The discovery socket answers queries from resolvers
// (multicast, broadcast or unicast from known peers)
// with the short declaration of each matching hosted stream.
// The data socket carries one QUIC listener;
// inlets dial it to fetch full declarations,
// subscribe to sample feeds and exchange time probes.
//
// Engines are independent of each other and
// several engines may run in one process, which is how the tests run.
package lnet
