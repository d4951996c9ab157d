package msgbus

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/big"
	"time"

	"github.com/overlaynet/storenode/foundation/storenode/hashing"
	"github.com/overlaynet/storenode/foundation/storenode/signature"
)

// alpn identifies the message bus protocol during the TLS handshake.
const alpn = "storenode-bus"

// transportIdentity derives the node's deterministic transport signing
// key from its long term keypair. The transport key, not the legacy
// key, is what remotes observe on the bus.
func transportIdentity(kp signature.Keypair) ed25519.PrivateKey {
	seed := hashing.Data(kp.Private[:])
	return ed25519.NewKeyFromSeed(seed[:])
}

// TransportPublicKey returns the bus identity a remote observes for the
// specified keypair.
func TransportPublicKey(kp signature.Keypair) signature.PublicKey {
	priv := transportIdentity(kp)

	var pub signature.PublicKey
	copy(pub[:], priv.Public().(ed25519.PublicKey))

	return pub
}

// identityCert wraps the transport key in a self signed certificate so
// the TLS layer carries the curve identity. Authenticity comes from the
// key itself, never from a chain.
func identityCert(kp signature.Keypair) (tls.Certificate, error) {
	priv := transportIdentity(kp)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"storenode"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("creating identity certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}, nil
}

// peerIdentity extracts the remote's transport public key from its
// handshake certificate.
func peerIdentity(certs []*x509.Certificate) (signature.PublicKey, error) {
	if len(certs) == 0 {
		return signature.PublicKey{}, fmt.Errorf("no peer certificate")
	}

	edPub, ok := certs[0].PublicKey.(ed25519.PublicKey)
	if !ok || len(edPub) != signature.KeyLength {
		return signature.PublicKey{}, fmt.Errorf("peer certificate key is not ed25519")
	}

	var pub signature.PublicKey
	copy(pub[:], edPub)

	return pub, nil
}

// verifyAnyPeer accepts any well formed ed25519 identity. Capability
// binding happens above the transport.
func verifyAnyPeer(rawCerts [][]byte) ([]*x509.Certificate, error) {
	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing peer certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	if _, err := peerIdentity(certs); err != nil {
		return nil, err
	}

	return certs, nil
}

// serverTLSConfig builds the listening side configuration: our identity
// certificate plus a mandatory, identity-only check of the client
// certificate.
func serverTLSConfig(kp signature.Keypair) (*tls.Config, error) {
	cert, err := identityCert(kp)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAnyClientCert,
		NextProtos:   []string{alpn},
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			_, err := verifyAnyPeer(rawCerts)
			return err
		},
	}, nil
}

// clientTLSConfig builds the dialing side configuration, pinning the
// expected remote identity.
func clientTLSConfig(kp signature.Keypair, remote signature.PublicKey) (*tls.Config, error) {
	cert, err := identityCert(kp)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpn},

		// Chain validation is meaningless for self signed identity
		// certificates; the pinned key check below is the authentication.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			certs, err := verifyAnyPeer(rawCerts)
			if err != nil {
				return err
			}
			pub, err := peerIdentity(certs)
			if err != nil {
				return err
			}
			if pub != remote {
				return fmt.Errorf("remote identity mismatch")
			}
			return nil
		},
	}, nil
}
