// Package lformat contains the channel value formats of a stream,
// and the [Sample] type that holds one sample's channel values
// in the stream's declared format.
//
// The set of value types that can be pushed to or pulled from a stream is closed;
// see [Value].
// Conversion between a [Value] type and a [ChannelFormat]
// goes through a fixed dispatch table indexed by format.
package lformat
