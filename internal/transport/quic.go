package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// alpnProtocol identifies the copy protocol during the QUIC handshake.
const alpnProtocol = "hpnscp/1"

// DialQUIC connects to a serving peer at addr and opens the single
// bidirectional stream the copy protocol runs over.
func DialQUIC(ctx context.Context, addr string, logger *slog.Logger) (Pair, error) {
	tlsConf := &tls.Config{
		// The listener's certificate is self-signed and is not verified.
		// The keystream cipher is layered above this stream by Secure only
		// when a pre-shared key is configured.
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProtocol},
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("quic stream: %w", err)
	}
	// A fresh stream is invisible to the acceptor until bytes flow, and
	// the copy protocol may want the acceptor to speak first; one
	// preamble byte materialises the stream on the far side.
	if _, err := stream.Write([]byte{0}); err != nil {
		conn.CloseWithError(0, "preamble failed")
		return nil, fmt.Errorf("quic preamble: %w", err)
	}
	logger.Debug("quic connection established", "remote_addr", conn.RemoteAddr())
	return quicPair(conn, stream), nil
}

// QUICListener accepts direct peer connections.
type QUICListener struct {
	ln *quic.Listener
}

// ListenQUIC binds addr for direct-mode serving.
func ListenQUIC(addr string) (*QUICListener, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("quic certificate: %w", err)
	}
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
	}
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quic listen %s: %w", addr, err)
	}
	return &QUICListener{ln: ln}, nil
}

// Addr returns the bound address.
func (l *QUICListener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting.
func (l *QUICListener) Close() error { return l.ln.Close() }

// AcceptPair takes one peer connection and returns its stream pair.
func (l *QUICListener) AcceptPair(ctx context.Context, logger *slog.Logger) (Pair, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("quic accept: %w", err)
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "accept stream failed")
		return nil, fmt.Errorf("quic accept stream: %w", err)
	}
	var preamble [1]byte
	if _, err := io.ReadFull(stream, preamble[:]); err != nil {
		conn.CloseWithError(0, "preamble failed")
		return nil, fmt.Errorf("quic preamble: %w", err)
	}
	logger.Debug("quic connection accepted", "remote_addr", conn.RemoteAddr())
	return quicPair(conn, stream), nil
}

func quicPair(conn *quic.Conn, stream *quic.Stream) Pair {
	return NewPair(stream, stream,
		func() error {
			stream.Close()
			return conn.CloseWithError(0, "done")
		},
		func() error {
			stream.Close()
			return nil
		})
}

func quicConfig() *quic.Config {
	return buildQUICConfig(4*DefaultStreamWindow, DefaultStreamWindow)
}

func quicConfigBase() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 10 * time.Second,
		MaxIdleTimeout:  30 * time.Second,
	}
}

// selfSignedCert generates the listener's throwaway certificate.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"hpnscp"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}, nil
}
