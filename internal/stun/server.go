// internal/stun/server.go
package stun

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/peslobby/teamplay/internal/auth"
)

// Config carries the responder's tunables.
type Config struct {
	Addr              string
	Realm             string
	MaxRequestsPerMin int
}

// bindingSession tracks one peer's authentication progress. A session is
// created when a challenge is issued; secret is set once the digest
// response checks out.
type bindingSession struct {
	nonce     string
	realm     string
	secret    []byte
	createdAt time.Time
}

// Server answers address-discovery requests over UDP. Each datagram is
// handled on its own goroutine; the session and counter tables are the
// only shared state.
type Server struct {
	cfg      Config
	verifier auth.CredentialVerifier
	limiter  *RateLimiter
	logger   *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*bindingSession

	conn *net.UDPConn
}

// NewServer wires the responder to its credential verifier.
func NewServer(cfg Config, verifier auth.CredentialVerifier, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		cfg:      cfg,
		verifier: verifier,
		limiter:  NewRateLimiter(cfg.MaxRequestsPerMin),
		logger:   logger,
		sessions: make(map[string]*bindingSession),
	}
}

// ListenAndServe binds the UDP socket and serves until ctx is cancelled.
// A bind failure is returned to the caller; it is the one fatal error.
func (s *Server) ListenAndServe(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp4", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to resolve binding address %s: %w", s.cfg.Addr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to bind binding responder on %s: %w", s.cfg.Addr, err)
	}
	s.conn = conn
	s.logger.WithField("addr", s.cfg.Addr).Info("binding responder listening")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 1024)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.WithError(err).Warn("binding read error")
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		go s.handleDatagram(data, peer)
	}
}

func (s *Server) handleDatagram(data []byte, peer *net.UDPAddr) {
	key := peer.String()
	var zeroTx [16]byte

	if !s.limiter.Allow(key) {
		s.send(ErrorResponse(CodeTooManyRequests, zeroTx), peer)
		return
	}

	if len(data) < HeaderSize {
		s.logger.WithField("peer", key).Debug("short binding packet")
		s.send(ErrorResponse(CodeBadRequest, zeroTx), peer)
		return
	}

	var txID [16]byte
	copy(txID[:], data[4:HeaderSize])

	msg, err := Parse(data)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"peer": key, "err": err}).Debug("malformed binding packet")
		s.send(ErrorResponse(CodeBadRequest, txID), peer)
		return
	}

	if msg.Type != TypeBindingRequest {
		s.logger.WithFields(logrus.Fields{
			"peer": key, "type": fmt.Sprintf("%04x", msg.Type),
		}).Debug("unsupported binding message type")
		return
	}

	secret, ok := s.authorize(data, msg, key)
	if !ok {
		s.send(s.challenge(key, txID), peer)
		return
	}

	resp, err := s.bindingResponse(txID, peer, secret)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"peer": key, "err": err}).Warn("mapped address self-check failed")
		s.send(ErrorResponse(CodeBadRequest, txID), peer)
		return
	}
	s.send(resp, peer)
}

// authorize resolves the peer's authentication state. It returns the
// cached shared secret for signed responses, or ok=false when a challenge
// must be (re)issued. Failures never reveal which part of the chain broke.
func (s *Server) authorize(data []byte, msg *Message, key string) ([]byte, bool) {
	s.mu.Lock()
	sess := s.sessions[key]
	var cached []byte
	if sess != nil {
		// Copied under the lock; a concurrent retry from the same peer
		// writes sess.secret once it authenticates.
		cached = sess.secret
	}
	if len(s.sessions) > cleanupTrigger {
		s.evictSessionsUnsafe(time.Now())
	}
	s.mu.Unlock()

	if cached != nil {
		if msg.IntegrityOffset < 0 {
			return cached, true
		}
		mac, _ := msg.Attr(AttrMessageIntegrity)
		expected := hmacSHA1(cached, data[:msg.IntegrityOffset])
		if subtle.ConstantTimeCompare(expected, mac) != 1 {
			s.logger.WithField("peer", key).Debug("message integrity mismatch")
			return nil, false
		}
		return cached, true
	}

	username, hasUser := msg.Attr(AttrUsername)
	realm, hasRealm := msg.Attr(AttrRealm)
	nonce, hasNonce := msg.Attr(AttrNonce)
	response, hasResponse := msg.Attr(AttrMessageIntegrity)
	if !hasUser || !hasRealm || !hasNonce || !hasResponse || sess == nil {
		return nil, false
	}

	// The retry must present the exact realm and nonce we issued.
	if string(realm) != sess.realm || string(nonce) != sess.nonce {
		s.logger.WithField("peer", key).Debug("stale or foreign challenge in binding retry")
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sharedSecret, err := s.verifier.VerifyDigest(ctx, string(username), sess.realm, sess.nonce, hex.EncodeToString(response))
	if err != nil {
		s.logger.WithField("peer", key).Debug("binding authentication failed")
		return nil, false
	}

	secret := []byte(sharedSecret)
	s.mu.Lock()
	sess.secret = secret
	s.mu.Unlock()
	s.logger.WithField("peer", key).Debug("binding authentication succeeded")
	return secret, true
}

// challenge issues a fresh realm/nonce pair and records the pending
// session so the retry can be checked against it.
func (s *Server) challenge(key string, txID [16]byte) []byte {
	nonce := generateNonce()
	s.mu.Lock()
	s.sessions[key] = &bindingSession{
		nonce:     nonce,
		realm:     s.cfg.Realm,
		createdAt: time.Now(),
	}
	s.mu.Unlock()

	m := NewMessage(TypeBindingError, txID)
	m.Add(AttrRealm, []byte(s.cfg.Realm))
	m.Add(AttrNonce, []byte(nonce))
	m.Add(AttrErrorCode, ErrorCodeValue(CodeUnauthorized))
	return m.Encode()
}

// bindingResponse builds the success response. The integrity digest is
// computed with the header length field zeroed, before the integrity
// attribute itself is appended; clients verify it the same way. The
// freshly encoded mapped address is decoded back and compared against the
// peer before anything is sent.
func (s *Server) bindingResponse(txID [16]byte, peer *net.UDPAddr, secret []byte) ([]byte, error) {
	xorValue, err := XORMappedAddress(peer)
	if err != nil {
		return nil, err
	}

	ip, port, err := DecodeXORMappedAddress(xorValue)
	if err != nil {
		return nil, err
	}
	if !ip.Equal(peer.IP.To4()) || port != peer.Port {
		return nil, fmt.Errorf("mapped address round-trip produced %s:%d for peer %s", ip, port, peer)
	}

	m := NewMessage(TypeBindingSuccess, txID)
	m.Add(AttrXORMappedAddress, xorValue)
	m.Add(AttrSoftware, []byte(Software))
	buf := m.Encode()

	if len(secret) > 0 {
		unsigned := make([]byte, len(buf))
		copy(unsigned, buf)
		binary.BigEndian.PutUint16(unsigned[2:4], 0)
		mac := hmacSHA1(secret, unsigned)

		var hdr [4]byte
		binary.BigEndian.PutUint16(hdr[0:2], AttrMessageIntegrity)
		binary.BigEndian.PutUint16(hdr[2:4], uint16(len(mac)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, mac...)
		binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)-HeaderSize))
	}
	return buf, nil
}

func (s *Server) send(resp []byte, peer *net.UDPAddr) {
	if _, err := s.conn.WriteToUDP(resp, peer); err != nil {
		s.logger.WithFields(logrus.Fields{"peer": peer.String(), "err": err}).Warn("binding write error")
	}
}

func (s *Server) evictSessionsUnsafe(now time.Time) {
	for key, sess := range s.sessions {
		if now.Sub(sess.createdAt) > cleanupThreshold {
			delete(s.sessions, key)
		}
	}
}

func hmacSHA1(key, message []byte) []byte {
	h := hmac.New(sha1.New, key)
	h.Write(message)
	return h.Sum(nil)
}

func generateNonce() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%s-%d", hex.EncodeToString(b), time.Now().Unix())
}
