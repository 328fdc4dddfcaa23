package server

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/unityext/core/clock"
	"github.com/unityext/core/logging"
)

// DefaultCertCheckInterval is how often CertLoader looks for changed files.
const DefaultCertCheckInterval = time.Minute

// CertLoader serves a TLS certificate from disk and reloads it when the
// certificate or key file changes. Files are checked at most once per check
// interval, on the handshake path.
type CertLoader struct {
	certFile      string
	keyFile       string
	logger        *slog.Logger
	now           clock.Clock
	checkInterval time.Duration

	mu        sync.RWMutex
	cert      *tls.Certificate
	loadedAt  time.Time
	lastCheck time.Time
}

// NewCertLoader loads the key pair and returns a loader for it.
func NewCertLoader(certFile, keyFile string, logger *slog.Logger) (*CertLoader, error) {
	l := &CertLoader{
		certFile:      certFile,
		keyFile:       keyFile,
		logger:        logger,
		now:           clock.System,
		checkInterval: DefaultCertCheckInterval,
	}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// TLSConfig returns a server TLS configuration backed by the loader.
func (l *CertLoader) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: l.GetCertificate,
	}
}

// GetCertificate is a callback for tls.Config.GetCertificate. A failed reload
// keeps serving the previous certificate.
func (l *CertLoader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	l.mu.RLock()
	if l.now.Since(l.lastCheck) < l.checkInterval {
		defer l.mu.RUnlock()
		return l.cert, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.now.Since(l.lastCheck) < l.checkInterval {
		return l.cert, nil
	}
	l.lastCheck = l.now()

	changed, err := l.changed()
	if err != nil {
		l.logger.Error("failed to stat certificate files", logging.Error(err))
		return l.cert, nil
	}
	if changed {
		if err := l.reload(); err != nil {
			l.logger.Error("failed to reload certificate", logging.Error(err))
		}
	}
	return l.cert, nil
}

func (l *CertLoader) changed() (bool, error) {
	for _, path := range []string{l.certFile, l.keyFile} {
		st, err := os.Stat(path)
		if err != nil {
			return false, err
		}
		if st.ModTime().After(l.loadedAt) {
			return true, nil
		}
	}
	return false, nil
}

// reload must be called with l.mu held or before the loader is shared.
func (l *CertLoader) reload() error {
	cert, err := tls.LoadX509KeyPair(l.certFile, l.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load key pair: %w", err)
	}

	l.cert = &cert
	l.loadedAt = time.Now()
	l.logger.Info("loaded tls certificate", "cert", l.certFile, "key", l.keyFile)
	return nil
}
