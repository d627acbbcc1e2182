package clusterd

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// SocketSecurityConfig defines security settings for the Unix domain
// control-channel sockets used for master/worker handoff.
type SocketSecurityConfig struct {
	// SocketDir is the directory where control-channel socket files live.
	SocketDir string
	// SocketPerms defines the permissions for socket files.
	SocketPerms os.FileMode
	// DirPerms defines the permissions for the socket directory.
	DirPerms os.FileMode
	// RequireSameUser, if true, only allows connections from the same
	// effective UID as the master. A worker is always forked by the
	// master, so this is true by default and exists mainly as a guard
	// against another local process connecting to a stale socket path.
	RequireSameUser bool
}

// DefaultSocketSecurityConfig returns the default security configuration.
func DefaultSocketSecurityConfig(dir string) SocketSecurityConfig {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "clusterd")
	}
	return SocketSecurityConfig{
		SocketDir:       dir,
		SocketPerms:     0600,
		DirPerms:        0750,
		RequireSameUser: true,
	}
}

// SecureSocketPath creates (if needed) the control-channel socket directory
// with proper permissions and returns the path for socketName, removing any
// stale socket file left over from a previous run.
func SecureSocketPath(config SocketSecurityConfig, socketName string) (string, error) {
	if err := os.MkdirAll(config.SocketDir, config.DirPerms); err != nil {
		return "", fmt.Errorf("failed to create socket directory %s: %w", config.SocketDir, err)
	}
	if err := os.Chmod(config.SocketDir, config.DirPerms); err != nil {
		return "", fmt.Errorf("failed to set permissions on socket directory: %w", err)
	}

	socketPath := filepath.Join(config.SocketDir, socketName)

	if err := os.RemoveAll(socketPath); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to remove existing socket file: %w", err)
	}

	return socketPath, nil
}

// VerifyPeerCredentials verifies the credentials of a peer connection using
// SO_PEERCRED (or the platform equivalent).
func VerifyPeerCredentials(conn net.Conn, config SocketSecurityConfig) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return errors.New("connection is not a Unix domain socket")
	}

	rawConn, err := unixConn.SyscallConn()
	if err != nil {
		return fmt.Errorf("failed to get raw connection: %w", err)
	}

	var peerCreds *PeerCredentials
	var credErr error

	err = rawConn.Control(func(fd uintptr) {
		peerCreds, credErr = getPeerCredentials(int(fd))
	})
	if err != nil {
		return fmt.Errorf("failed to control connection: %w", err)
	}
	if credErr != nil {
		return fmt.Errorf("failed to get peer credentials: %w", credErr)
	}
	if peerCreds == nil {
		return errors.New("peer credentials are nil")
	}

	if config.RequireSameUser {
		currentUID := uint32(os.Geteuid())
		if peerCreds.UID != currentUID {
			return fmt.Errorf("peer UID %d does not match master UID %d", peerCreds.UID, currentUID)
		}
	}

	return nil
}

// SecureListener is a Unix domain socket listener that verifies peer
// credentials on every accepted connection.
type SecureListener struct {
	net.Listener
	config SocketSecurityConfig
}

// NewSecureListener creates a new secure control-channel listener.
func NewSecureListener(socketPath string, config SocketSecurityConfig) (*SecureListener, error) {
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	if err := os.Chmod(socketPath, config.SocketPerms); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	return &SecureListener{Listener: listener, config: config}, nil
}

// Accept accepts a connection and verifies peer credentials.
func (l *SecureListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	if err := VerifyPeerCredentials(conn, l.config); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("peer verification failed: %w", err)
	}

	return conn, nil
}
