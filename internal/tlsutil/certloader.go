// Package tlsutil serves TLS certificates that reload themselves when the
// files on disk are rotated, so certificate renewal needs no restart.
package tlsutil

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 300 * time.Millisecond

// CertLoader holds the active certificate and swaps it when the cert or key
// file changes on disk. Wire GetCertificate into tls.Config.GetCertificate.
type CertLoader struct {
	cert     atomic.Pointer[tls.Certificate]
	certFile string
	keyFile  string
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
}

// New loads the pair at certFile/keyFile and begins watching both paths.
// A failed initial load is fatal; later reload failures keep the previous
// certificate in service.
func New(certFile, keyFile string, logger *slog.Logger) (*CertLoader, error) {
	cl := &CertLoader{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	if err := cl.load(); err != nil {
		return nil, fmt.Errorf("initial certificate load: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	for _, path := range []string{certFile, keyFile} {
		if err := w.Add(path); err != nil {
			w.Close()
			return nil, fmt.Errorf("watching %s: %w", path, err)
		}
	}
	cl.watcher = w
	go cl.watchLoop()

	logger.Info("TLS certificate loaded, watching for rotation",
		"cert_file", certFile, "key_file", keyFile)
	return cl, nil
}

// GetCertificate is invoked on every TLS handshake, so it is a single
// atomic load.
func (cl *CertLoader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return cl.cert.Load(), nil
}

// Reload re-reads the pair from disk. On failure the certificate already
// in service stays active.
func (cl *CertLoader) Reload() error {
	if err := cl.load(); err != nil {
		cl.logger.Error("TLS certificate reload failed, keeping current",
			"error", err, "cert_file", cl.certFile)
		return err
	}
	cl.logger.Info("TLS certificate reloaded", "cert_file", cl.certFile)
	return nil
}

// Stop shuts down the file watcher.
func (cl *CertLoader) Stop() {
	close(cl.stopCh)
	if cl.watcher != nil {
		cl.watcher.Close()
	}
}

func (cl *CertLoader) load() error {
	pair, err := tls.LoadX509KeyPair(cl.certFile, cl.keyFile)
	if err != nil {
		return err
	}
	cl.cert.Store(&pair)
	return nil
}

func (cl *CertLoader) watchLoop() {
	var pending *time.Timer

	for {
		select {
		case ev, ok := <-cl.watcher.Events:
			if !ok {
				return
			}
			// Cert managers typically rewrite both files; debounce so a
			// rotation triggers one reload, not one per file event.
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(reloadDebounce, func() {
					cl.Reload() //nolint:errcheck
				})
			}
		case err, ok := <-cl.watcher.Errors:
			if !ok {
				return
			}
			cl.logger.Error("TLS cert watcher error", "error", err)
		case <-cl.stopCh:
			if pending != nil {
				pending.Stop()
			}
			return
		}
	}
}
