package lnet

import (
	"context"
	"errors"
	"net"
	"os"

	"github.com/gordian-engine/lsl/internal/lproto"
	"github.com/gordian-engine/lsl/linfo"
)

// answerQueries reads discovery queries and answers
// with every matching hosted stream.
func (e *Engine) answerQueries(ctx context.Context) {
	defer e.wg.Done()

	buf := make([]byte, lproto.MaxDatagramSize)

	// Compiled predicates are cached;
	// resolvers repeat the same query in every wave.
	queries := make(map[string]*linfo.Query)

	for {
		n, from, err := e.discoveryConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
				e.log.Info("Discovery socket closed; no longer answering queries", "err", err)
				return
			}

			e.log.Debug("Failed to read discovery datagram", "err", err)
			continue
		}

		q, _, err := lproto.ParseDiscovery(buf[:n])
		if err != nil {
			// Debug-level because anything can arrive on a well-known port.
			e.log.Debug("Ignoring malformed discovery datagram", "from", from, "err", err)
			continue
		}
		if q == nil || q.SessionID != e.cfg.SessionID {
			continue
		}

		cq, ok := queries[q.Predicate]
		if !ok {
			cq, err = linfo.CompileQuery(q.Predicate)
			if err != nil {
				e.log.Debug("Ignoring query with invalid predicate", "from", from, "err", err)
				continue
			}
			if len(queries) > 256 {
				clear(queries)
			}
			queries[q.Predicate] = cq
		}

		e.answerQuery(q.ID, cq, from)
	}
}

func (e *Engine) answerQuery(id uint64, q *linfo.Query, to *net.UDPAddr) {
	for _, o := range e.hostedOutlets() {
		if !q.Matches(o.info) {
			continue
		}

		b, err := lproto.AppendResponse(nil, lproto.Response{
			QueryID:   id,
			ShortInfo: o.info.ShortXML(),
		})
		if err != nil {
			e.log.Warn("Failed to encode discovery response", "uid", o.info.UID, "err", err)
			continue
		}

		if _, err := e.discoveryConn.WriteToUDP(b, to); err != nil {
			e.log.Debug("Failed to send discovery response", "to", to, "err", err)
			continue
		}
		e.metrics.QueriesAnswered.Inc()
	}
}

// queryTargets returns every address a query wave is sent to.
func (e *Engine) queryTargets() []*net.UDPAddr {
	var out []*net.UDPAddr

	if e.cfg.MulticastGroup != "" {
		out = append(out, &net.UDPAddr{
			IP:   net.ParseIP(e.cfg.MulticastGroup),
			Port: e.cfg.DiscoveryPort,
		})
	}
	if e.cfg.Broadcast {
		out = append(out, &net.UDPAddr{
			IP:   net.IPv4bcast,
			Port: e.cfg.DiscoveryPort,
		})
	}

	for _, p := range e.cfg.KnownPeers {
		a, err := net.ResolveUDPAddr("udp4", p)
		if err != nil {
			e.log.Debug("Failed to resolve known peer", "peer", p, "err", err)
			continue
		}
		out = append(out, a)
	}

	// Streams hosted by this engine are always visible to it.
	self := e.DiscoveryAddr()
	if self.IP == nil || self.IP.IsUnspecified() {
		self = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: self.Port}
	}
	out = append(out, self)

	return out
}

// sendQueryWave sends q once to every target from conn.
func (e *Engine) sendQueryWave(conn *net.UDPConn, datagram []byte, targets []*net.UDPAddr) {
	for _, a := range targets {
		if _, err := conn.WriteToUDP(datagram, a); err != nil {
			// Multicast and broadcast fail routinely on hosts without a route for them.
			e.log.Debug("Failed to send discovery query", "to", a, "err", err)
			continue
		}
		e.metrics.ResolveQueries.Inc()
	}
}

// readResponses reads discovery responses for queryID from conn,
// calling fn with each parsed stream declaration,
// until fn returns false or reading fails.
//
// Declarations whose data address is unspecified
// are completed with the address the response came from.
func (e *Engine) readResponses(conn *net.UDPConn, queryID uint64, fn func(*linfo.Info) bool) error {
	buf := make([]byte, lproto.MaxDatagramSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}

		_, r, err := lproto.ParseDiscovery(buf[:n])
		if err != nil || r == nil || r.QueryID != queryID {
			continue
		}

		info, err := linfo.Parse(r.ShortInfo)
		if err != nil {
			e.log.Debug("Ignoring discovery response with malformed stream info", "from", from, "err", err)
			continue
		}
		if info.UID == "" {
			continue
		}
		if info.V4Address == "" {
			info.V4Address = from.IP.String()
		}

		if !fn(info) {
			return nil
		}
	}
}
