package clusterd

import (
	"sync"
	"testing"
)

func TestControlAuthHandshakeSucceeds(t *testing.T) {
	server, client, cleanup := controlPair(t)
	defer cleanup()

	secret, err := GenerateControlSecret()
	if err != nil {
		t.Fatalf("GenerateControlSecret: %v", err)
	}
	auth := NewControlAuth(secret)

	var wg sync.WaitGroup
	wg.Add(1)
	var serverErr error
	go func() {
		defer wg.Done()
		serverErr = auth.AuthenticateServer(server)
	}()

	if err := auth.AuthenticateClient(client); err != nil {
		t.Fatalf("AuthenticateClient: %v", err)
	}
	wg.Wait()
	if serverErr != nil {
		t.Fatalf("AuthenticateServer: %v", serverErr)
	}
}

func TestControlAuthRejectsWrongSecret(t *testing.T) {
	server, client, cleanup := controlPair(t)
	defer cleanup()

	serverSecret, _ := GenerateControlSecret()
	clientSecret, _ := GenerateControlSecret()

	var wg sync.WaitGroup
	wg.Add(1)
	var serverErr error
	go func() {
		defer wg.Done()
		serverErr = NewControlAuth(serverSecret).AuthenticateServer(server)
	}()

	clientErr := NewControlAuth(clientSecret).AuthenticateClient(client)
	wg.Wait()

	if clientErr == nil {
		t.Error("expected client to observe a rejected handshake")
	}
	if serverErr == nil {
		t.Error("expected server to reject a mismatched HMAC")
	}
}

func TestControlSecretHexRoundTrip(t *testing.T) {
	secret, err := GenerateControlSecret()
	if err != nil {
		t.Fatalf("GenerateControlSecret: %v", err)
	}

	hexStr := ControlSecretToHex(secret)
	back, err := ControlSecretFromHex(hexStr)
	if err != nil {
		t.Fatalf("ControlSecretFromHex: %v", err)
	}

	if string(back) != string(secret) {
		t.Error("secret did not round-trip through hex encoding")
	}
}
