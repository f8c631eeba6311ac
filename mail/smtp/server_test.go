package smtp

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeServer is a minimal SMTP relay for tests.
type fakeServer struct {
	listener net.Listener
	cert     *tls.Certificate

	// authReply is sent in response to AUTH. Defaults to 235.
	authReply string
	// rejectRcpt gets a 550 reply on RCPT.
	rejectRcpt string

	mx       sync.Mutex
	messages []string
	rcpts    []string
	authed   bool
	tls      bool
}

type fakeServerOption func(*fakeServer)

func withSTARTTLS(t *testing.T) fakeServerOption {
	cert, err := generateTestCert()
	require.NoError(t, err, "failed to generate cert")
	return func(s *fakeServer) { s.cert = &cert }
}

func withAuthReply(reply string) fakeServerOption {
	return func(s *fakeServer) { s.authReply = reply }
}

func withRejectedRcpt(addr string) fakeServerOption {
	return func(s *fakeServer) { s.rejectRcpt = addr }
}

func startFakeServer(t *testing.T, opts ...fakeServerOption) *fakeServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "failed to start SMTP server")

	s := &fakeServer{listener: listener, authReply: "235 2.7.0 Accepted"}
	for _, opt := range opts {
		opt(s)
	}

	go s.serve()
	t.Cleanup(func() { _ = listener.Close() })

	return s
}

func (s *fakeServer) config() Config {
	addr := s.listener.Addr().(*net.TCPAddr)
	return Config{
		Host:    "127.0.0.1",
		Port:    addr.Port,
		TLS:     true,
		Timeout: 5 * time.Second,
	}
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	reply := func(line string) {
		_, _ = w.WriteString(line + "\r\n")
		_ = w.Flush()
	}

	secure := false
	reply("220 localhost ESMTP fake")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		cmd := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			ext := []string{"250-localhost", "250-AUTH PLAIN"}
			if s.cert != nil && !secure {
				ext = append(ext, "250-STARTTLS")
			}
			ext = append(ext, "250 HELP")
			reply(strings.Join(ext, "\r\n"))
		case cmd == "STARTTLS" && s.cert != nil:
			reply("220 Ready to start TLS")
			tlsConn := tls.Server(conn, &tls.Config{
				Certificates: []tls.Certificate{*s.cert},
				MinVersion:   tls.VersionTLS12,
			})
			if err := tlsConn.Handshake(); err != nil {
				return
			}
			secure = true
			s.mx.Lock()
			s.tls = true
			s.mx.Unlock()
			conn = tlsConn
			r = bufio.NewReader(conn)
			w = bufio.NewWriter(conn)
		case strings.HasPrefix(cmd, "AUTH"):
			if strings.HasPrefix(s.authReply, "235") {
				s.mx.Lock()
				s.authed = true
				s.mx.Unlock()
			}
			reply(s.authReply)
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			reply("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			addr := strings.Trim(line[len("RCPT TO:"):], "<> ")
			if s.rejectRcpt != "" && addr == s.rejectRcpt {
				reply("550 5.1.1 No such user")
				continue
			}
			s.mx.Lock()
			s.rcpts = append(s.rcpts, addr)
			s.mx.Unlock()
			reply("250 OK")
		case cmd == "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var msg strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				msg.WriteString(l)
			}
			s.mx.Lock()
			s.messages = append(s.messages, msg.String())
			s.mx.Unlock()
			reply("250 OK: queued")
		case cmd == "NOOP", cmd == "RSET":
			reply("250 OK")
		case cmd == "QUIT":
			reply("221 Bye")
			return
		default:
			reply("500 Syntax error")
		}
	}
}

func (s *fakeServer) usedTLS() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.tls
}

func (s *fakeServer) received() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.messages...)
}

func (s *fakeServer) recipients() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.rcpts...)
}

func (s *fakeServer) authenticated() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.authed
}

// generateTestCert generates a self-signed certificate for 127.0.0.1.
func generateTestCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"Test SMTP"}, CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}),
	)
}

func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return p
}
