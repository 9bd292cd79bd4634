package lproto

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Probe is a time probe sent by an inlet.
// T0 is the inlet's local clock when sending.
type Probe struct {
	ID uint32
	T0 float64
}

// ProbeReply echoes a [Probe].
// T1 is the outlet's clock when the probe arrived,
// T2 the outlet's clock when the reply was sent.
type ProbeReply struct {
	ID     uint32
	T0     float64
	T1, T2 float64
}

const (
	probeSize      = 1 + 4 + 8
	probeReplySize = 1 + 4 + 3*8
)

func (p Probe) Bytes() []byte {
	out := make([]byte, 0, probeSize)
	out = append(out, byte(ProbeDatagramType))
	out = binary.LittleEndian.AppendUint32(out, p.ID)
	out = binary.LittleEndian.AppendUint64(out, math.Float64bits(p.T0))
	return out
}

func (r ProbeReply) Bytes() []byte {
	out := make([]byte, 0, probeReplySize)
	out = append(out, byte(ProbeReplyDatagramType))
	out = binary.LittleEndian.AppendUint32(out, r.ID)
	out = binary.LittleEndian.AppendUint64(out, math.Float64bits(r.T0))
	out = binary.LittleEndian.AppendUint64(out, math.Float64bits(r.T1))
	out = binary.LittleEndian.AppendUint64(out, math.Float64bits(r.T2))
	return out
}

// ParseProbe decodes a datagram produced by [Probe.Bytes].
func ParseProbe(b []byte) (Probe, error) {
	if len(b) != probeSize || DatagramType(b[0]) != ProbeDatagramType {
		return Probe{}, fmt.Errorf("malformed probe datagram of %d bytes", len(b))
	}
	return Probe{
		ID: binary.LittleEndian.Uint32(b[1:]),
		T0: math.Float64frombits(binary.LittleEndian.Uint64(b[5:])),
	}, nil
}

// ParseProbeReply decodes a datagram produced by [ProbeReply.Bytes].
func ParseProbeReply(b []byte) (ProbeReply, error) {
	if len(b) != probeReplySize || DatagramType(b[0]) != ProbeReplyDatagramType {
		return ProbeReply{}, fmt.Errorf("malformed probe reply datagram of %d bytes", len(b))
	}
	return ProbeReply{
		ID: binary.LittleEndian.Uint32(b[1:]),
		T0: math.Float64frombits(binary.LittleEndian.Uint64(b[5:])),
		T1: math.Float64frombits(binary.LittleEndian.Uint64(b[13:])),
		T2: math.Float64frombits(binary.LittleEndian.Uint64(b[21:])),
	}, nil
}

// Estimate derives the clock offset from a completed probe,
// where t3 is the inlet's clock when the reply arrived.
//
// Offset is added to remote timestamps to obtain local time.
// RTT excludes the outlet's processing time.
func (r ProbeReply) Estimate(t3 float64) (offset, remoteTime, rtt float64) {
	offset = ((r.T0 + t3) - (r.T1 + r.T2)) / 2
	remoteTime = (r.T1 + r.T2) / 2
	rtt = (t3 - r.T0) - (r.T2 - r.T1)
	return offset, remoteTime, rtt
}
