// Package lsl is a typed client API for a lab streaming layer:
// a peer-to-peer publish/subscribe system that exchanges multi-channel,
// time-synchronized sample streams between processes on a local network.
//
// Streams are declared with a [StreamInfo] and published through a [StreamOutlet].
// Subscribers find streams with [ResolveStreams], [ResolveByProp], [ResolveByPred]
// or a [ContinuousResolver], and receive samples through a [StreamInlet].
//
// Every endpoint is created on an [lengine.Engine].
// [DefaultEngine] returns the networked engine of package lnet,
// configured from the file named by the LSLAPICFG environment variable.
//
// Push and pull operations are generic over the closed set of [Value] types;
// values are converted to and from the stream's declared [ChannelFormat].
package lsl
