package clusterd

import "testing"

func TestRemoteAddrKeyStripsPort(t *testing.T) {
	conn, cleanup := loopbackConn(t)
	defer cleanup()

	key := remoteAddrKey(conn)
	if key != "127.0.0.1" {
		t.Errorf("expected remoteAddrKey to strip the ephemeral port, got %q", key)
	}
}

func TestRemoteAddrKeyStableAcrossEphemeralPorts(t *testing.T) {
	var keys []string
	for i := 0; i < 3; i++ {
		conn, cleanup := loopbackConn(t)
		keys = append(keys, remoteAddrKey(conn))
		cleanup()
	}
	for _, k := range keys {
		if k != keys[0] {
			t.Errorf("expected remoteAddrKey to be stable across distinct ephemeral source ports, got %v", keys)
		}
	}
}
