package clusterd

import "net"

// remoteAddrKey returns the byte-string key the balancer hashes for sticky
// routing: the connection's remote IP only, matching spec.md's
// socket.remoteAddress (host, no port). Including the ephemeral source port
// would hash every connection from the same client differently, breaking
// the sticky law that repeated connections from one remoteAddress always
// land on the same worker. Falls back to the literal "127.0.0.1" if the
// listener reports no address, or one with no parseable host (spec.md §4.5
// step 1).
func remoteAddrKey(conn *net.TCPConn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return "127.0.0.1"
	}
	if tcpAddr, ok := addr.(*net.TCPAddr); ok && tcpAddr.IP != nil {
		return tcpAddr.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil || host == "" {
		return "127.0.0.1"
	}
	return host
}
