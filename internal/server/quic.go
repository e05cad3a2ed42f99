package server

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/aethersync/aethersync/internal/config"
	"github.com/aethersync/aethersync/internal/core/observability/log"
	"github.com/aethersync/aethersync/internal/core/protocol"
)

const quicNextProto = "aethersync"

// QUICTransport serves the same envelope protocol over a single bidirectional
// QUIC stream per client, newline-delimited JSON frames.
type QUICTransport struct {
	cfg    config.Config
	logger log.Log
	codec  *protocol.Codec

	listener *quic.Listener
	conns    chan ClientConn
	closed   int32
}

func NewQUICTransport(cfg config.Config, codec *protocol.Codec, logger log.Log) *QUICTransport {
	return &QUICTransport{
		cfg:    cfg,
		logger: logger.With(log.String("component", "quic")),
		codec:  codec,
		conns:  make(chan ClientConn, 64),
	}
}

func (t *QUICTransport) Start(ctx context.Context) error {
	tlsConfig, err := t.tlsConfig()
	if err != nil {
		return fmt.Errorf("load TLS config: %w", err)
	}

	listener, err := quic.ListenAddr(t.cfg.ListenAddr, tlsConfig, &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 15 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("listen on %s: %w", t.cfg.ListenAddr, err)
	}
	t.listener = listener

	go t.acceptLoop(ctx)

	t.logger.Info("QUIC transport listening", log.String("addr", listener.Addr().String()))
	return nil
}

func (t *QUICTransport) acceptLoop(ctx context.Context) {
	for {
		sess, err := t.listener.Accept(ctx)
		if err != nil {
			if atomic.LoadInt32(&t.closed) == 1 || ctx.Err() != nil {
				return
			}
			t.logger.Warn("Accept failed", log.Error(err))
			continue
		}

		go func() {
			stream, err := sess.AcceptStream(ctx)
			if err != nil {
				t.logger.Warn("Stream accept failed", log.Error(err))
				_ = sess.CloseWithError(0, "no stream")
				return
			}
			client := &quicConn{
				id:     uuid.NewString(),
				sess:   sess,
				stream: stream,
				reader: bufio.NewReaderSize(stream, t.cfg.MaxMessageSize),
				codec:  t.codec,
			}
			select {
			case t.conns <- client:
			default:
				t.logger.Warn("Accept backlog full, dropping connection",
					log.String("remote_addr", sess.RemoteAddr().String()))
				_ = sess.CloseWithError(0, "backlog full")
			}
		}()
	}
}

func (t *QUICTransport) Accept(ctx context.Context) (ClientConn, error) {
	select {
	case conn, ok := <-t.conns:
		if !ok {
			return nil, ErrServerClosed
		}
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *QUICTransport) Close() error {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return nil
	}
	if t.listener == nil {
		return nil
	}
	return t.listener.Close()
}

func (t *QUICTransport) tlsConfig() (*tls.Config, error) {
	if t.cfg.TLSCertFile != "" && t.cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.cfg.TLSCertFile, t.cfg.TLSKeyFile)
		if err != nil {
			return nil, err
		}
		return &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{quicNextProto},
		}, nil
	}
	// No certificate configured; generate a self-signed one so local
	// development does not need TLS setup.
	return generateTLSConfig()
}

func generateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"AetherSync"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{quicNextProto},
	}, nil
}

// quicConn adapts a QUIC session with one bidirectional stream to ClientConn.
type quicConn struct {
	id     string
	sess   *quic.Conn
	stream *quic.Stream
	reader *bufio.Reader
	codec  *protocol.Codec

	writeMu sync.Mutex
	userID  atomic.Value // string
	closed  int32
}

func (c *quicConn) ID() string {
	return c.id
}

func (c *quicConn) RemoteAddr() string {
	return c.sess.RemoteAddr().String()
}

func (c *quicConn) UserID() string {
	if v, ok := c.userID.Load().(string); ok {
		return v
	}
	return ""
}

func (c *quicConn) SetUser(userID string) {
	c.userID.Store(userID)
}

func (c *quicConn) Authenticated() bool {
	return c.UserID() != ""
}

func (c *quicConn) Send(env protocol.Envelope) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrConnClosed
	}
	data, err := c.codec.Encode(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	// Codec output is already newline-terminated, which is the frame
	// delimiter on the stream.
	if _, err := c.stream.Write(data); err != nil {
		return err
	}
	return nil
}

func (c *quicConn) Receive(_ context.Context) (protocol.Envelope, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return protocol.Envelope{}, err
	}
	return c.codec.Decode(line[:len(line)-1])
}

func (c *quicConn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	_ = c.stream.Close()
	return c.sess.CloseWithError(0, "closed")
}
