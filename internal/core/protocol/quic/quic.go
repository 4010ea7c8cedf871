// Package quic carries replinet sessions over QUIC. Reliable traffic uses
// unidirectional streams, one per ordered channel, and unreliable traffic
// uses datagrams.
package quic

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"time"

	"github.com/zeusync/replinet/internal/core/protocol"
)

const Name = "quic"

// ALPN is the application protocol negotiated during the TLS handshake.
const ALPN = "replinet"

const (
	DefaultIdleTimeout = 30 * time.Second
	DefaultKeepAlive   = 5 * time.Second
	// DefaultLinger bounds how long a disconnecting side waits for the peer
	// to read its goodbye before closing the connection.
	DefaultLinger = 2 * time.Second
)

func init() {
	protocol.RegisterProvider(Name, func() protocol.Provider {
		return New(DefaultConfig(), nil)
	})
}

// GenerateSelfSignedTLS generates a self-signed certificate for localhost.
func GenerateSelfSignedTLS() (*tls.Config, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{Organization: []string{"replinet"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{certDER}, PrivateKey: privateKey}},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// clientTLS is used when Config.ClientTLS is nil. It trusts any server
// certificate, which matches the self-signed default of the listener.
func clientTLS() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
	}
}
