package clusterd

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"time"
)

// controlSecretEnv carries the per-master HMAC secret to every forked
// worker. SO_PEERCRED/LOCAL_PEERCRED already bind the control socket to the
// master's own UID; this challenge-response layer additionally guards
// against another local process that has somehow obtained the (normally
// 0600, freshly-created) socket path before the real worker connects.
const controlSecretEnv = "CLUSTERD_CONTROL_SECRET"

// ControlAuth performs an HMAC-SHA256 challenge/response handshake over a
// freshly accepted or dialed control-channel connection.
type ControlAuth struct {
	secret []byte
}

// NewControlAuth builds an authenticator from a raw secret.
func NewControlAuth(secret []byte) *ControlAuth {
	return &ControlAuth{secret: secret}
}

// GenerateControlSecret draws a fresh 32-byte secret for one master
// instance's lifetime.
func GenerateControlSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate control secret: %w", err)
	}
	return secret, nil
}

// ControlSecretToHex and ControlSecretFromHex move the secret across the
// environment-variable boundary to a forked child.
func ControlSecretToHex(secret []byte) string { return hex.EncodeToString(secret) }

func ControlSecretFromHex(s string) ([]byte, error) { return hex.DecodeString(s) }

// AuthenticateClient runs the worker side of the handshake: read the
// master's challenge, return its HMAC, then wait for the accept/reject byte.
func (a *ControlAuth) AuthenticateClient(conn net.Conn) error {
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return fmt.Errorf("set auth deadline: %w", err)
	}
	defer conn.SetDeadline(time.Time{})

	challenge := make([]byte, 32)
	if _, err := io.ReadFull(conn, challenge); err != nil {
		return fmt.Errorf("read challenge: %w", err)
	}

	mac := hmac.New(sha256.New, a.secret)
	mac.Write(challenge)
	if _, err := conn.Write(mac.Sum(nil)); err != nil {
		return fmt.Errorf("write response: %w", err)
	}

	result := make([]byte, 1)
	if _, err := io.ReadFull(conn, result); err != nil {
		return fmt.Errorf("read auth result: %w", err)
	}
	if result[0] != 1 {
		return fmt.Errorf("control channel authentication rejected")
	}
	return nil
}

// AuthenticateServer runs the master side of the handshake against a newly
// accepted control-channel connection.
func (a *ControlAuth) AuthenticateServer(conn net.Conn) error {
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return fmt.Errorf("set auth deadline: %w", err)
	}
	defer conn.SetDeadline(time.Time{})

	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return fmt.Errorf("generate challenge: %w", err)
	}
	if _, err := conn.Write(challenge); err != nil {
		return fmt.Errorf("write challenge: %w", err)
	}

	response := make([]byte, sha256.Size)
	if _, err := io.ReadFull(conn, response); err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	mac := hmac.New(sha256.New, a.secret)
	mac.Write(challenge)
	expected := mac.Sum(nil)

	if !hmac.Equal(response, expected) {
		_, _ = conn.Write([]byte{0})
		return fmt.Errorf("control channel HMAC mismatch")
	}
	_, err := conn.Write([]byte{1})
	return err
}
