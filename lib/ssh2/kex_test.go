package ssh2

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestKexAlgorithms(t *testing.T) {
	magics := &handshakeMagics{
		clientVersion: []byte("SSH-2.0-client"),
		serverVersion: []byte("SSH-2.0-server"),
		clientKexInit: []byte("client-kexinit-payload"),
		serverKexInit: []byte("server-kexinit-payload"),
	}

	hostKey := testECDSASigner(t)

	for name := range kexAlgoMap {
		name := name
		t.Run(name, func(t *testing.T) {
			kex := kexAlgoMap[name].GetNew(name)

			a, b := memPipe()

			serverDone := make(chan *kexResult, 1)
			errc := make(chan error, 1)
			go func() {
				srvKex := kexAlgoMap[name].GetNew(name)
				res, err := srvKex.Server(b, rand.Reader, magics, hostKey, &Config{
					GexMinBits: 1024, GexPreferredBits: 2048, GexMaxBits: 8192,
				})
				errc <- err
				serverDone <- res
			}()

			clientRes, err := kex.Client(a, rand.Reader, magics, &Config{
				GexMinBits: 1024, GexPreferredBits: 2048, GexMaxBits: 8192,
			})
			if err != nil {
				t.Fatalf("client: %v", err)
			}
			if err := <-errc; err != nil {
				t.Fatalf("server: %v", err)
			}
			serverRes := <-serverDone

			if !bytes.Equal(clientRes.H, serverRes.H) {
				t.Error("exchange hashes differ")
			}
			if !bytes.Equal(clientRes.K, serverRes.K) {
				t.Error("shared secrets differ")
			}

			// The server proves possession of the host key by
			// signing H; the client must be able to verify it.
			pub, err := ParsePublicKey(clientRes.HostKey)
			if err != nil {
				t.Fatalf("ParsePublicKey: %v", err)
			}
			if err := verifyHostKeySignature(pub, clientRes); err != nil {
				t.Errorf("host key signature: %v", err)
			}
		})
	}
}

func TestFindAgreedAlgorithms(t *testing.T) {
	client := &KexInitMsg{
		KexAlgos:                []string{kexAlgoCurve25519SHA256, kexAlgoDH14SHA1},
		ServerHostKeyAlgos:      []string{KeyAlgoED25519, KeyAlgoRSA},
		CiphersClientServer:     []string{"aes256-ctr", "aes128-ctr"},
		CiphersServerClient:     []string{"aes128-ctr"},
		MACsClientServer:        []string{"hmac-sha2-256"},
		MACsServerClient:        []string{"hmac-sha2-256", "hmac-sha1"},
		CompressionClientServer: []string{"none"},
		CompressionServerClient: []string{"none"},
	}
	server := &KexInitMsg{
		KexAlgos:                []string{kexAlgoDH14SHA1, kexAlgoCurve25519SHA256},
		ServerHostKeyAlgos:      []string{KeyAlgoRSA, KeyAlgoED25519},
		CiphersClientServer:     []string{"aes128-ctr", "aes256-ctr"},
		CiphersServerClient:     []string{"aes128-ctr"},
		MACsClientServer:        []string{"hmac-sha1", "hmac-sha2-256"},
		MACsServerClient:        []string{"hmac-sha2-256"},
		CompressionClientServer: []string{"none"},
		CompressionServerClient: []string{"none"},
	}

	algs, err := findAgreedAlgorithms(client, server)
	if err != nil {
		t.Fatalf("findAgreedAlgorithms: %v", err)
	}
	// The first client choice present on the server list wins.
	if algs.Kex != kexAlgoCurve25519SHA256 {
		t.Errorf("kex = %q", algs.Kex)
	}
	if algs.HostKey != KeyAlgoED25519 {
		t.Errorf("hostkey = %q", algs.HostKey)
	}
	if algs.W.Cipher != "aes256-ctr" || algs.R.Cipher != "aes128-ctr" {
		t.Errorf("ciphers = %q / %q", algs.W.Cipher, algs.R.Cipher)
	}
}

func TestFindAgreedAlgorithmsMismatch(t *testing.T) {
	client := &KexInitMsg{
		KexAlgos:           []string{kexAlgoCurve25519SHA256},
		ServerHostKeyAlgos: []string{KeyAlgoED25519},
	}
	server := &KexInitMsg{
		KexAlgos:           []string{kexAlgoDH1SHA1},
		ServerHostKeyAlgos: []string{KeyAlgoED25519},
	}
	if _, err := findAgreedAlgorithms(client, server); err == nil {
		t.Error("expected negotiation failure for disjoint kex lists")
	}
}
