package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeSelfSigned writes a fresh self-signed pair into dir and returns the
// certificate serial it used.
func writeSelfSigned(t *testing.T, dir string, serial int64) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}

	certFile = filepath.Join(dir, "tls.crt")
	keyFile = filepath.Join(dir, "tls.key")

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certFile, keyFile
}

func serialOf(t *testing.T, cert *tls.Certificate) int64 {
	t.Helper()
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse leaf: %v", err)
	}
	return leaf.SerialNumber.Int64()
}

func TestCertLoader_ServesInitialCertificate(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeSelfSigned(t, dir, 1)

	cl, err := New(certFile, keyFile, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Stop()

	cert, err := cl.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if cert == nil {
		t.Fatal("expected a certificate")
	}
	if got := serialOf(t, cert); got != 1 {
		t.Errorf("serial = %d, want 1", got)
	}
}

func TestCertLoader_RejectsGarbageFiles(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls.crt")
	keyFile := filepath.Join(dir, "tls.key")
	os.WriteFile(certFile, []byte("not a cert"), 0o644)
	os.WriteFile(keyFile, []byte("not a key"), 0o600)

	if _, err := New(certFile, keyFile, quietLogger()); err == nil {
		t.Fatal("expected error for unparseable pair")
	}
}

func TestCertLoader_ReloadSwapsCertificate(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeSelfSigned(t, dir, 1)

	cl, err := New(certFile, keyFile, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Stop()

	writeSelfSigned(t, dir, 2)
	if err := cl.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	cert, _ := cl.GetCertificate(&tls.ClientHelloInfo{})
	if got := serialOf(t, cert); got != 2 {
		t.Errorf("serial after reload = %d, want 2", got)
	}
}

func TestCertLoader_FailedReloadKeepsCurrent(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeSelfSigned(t, dir, 7)

	cl, err := New(certFile, keyFile, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Stop()

	os.WriteFile(certFile, []byte("corrupted"), 0o644)
	if err := cl.Reload(); err == nil {
		t.Fatal("expected reload to fail on corrupted cert")
	}

	cert, _ := cl.GetCertificate(&tls.ClientHelloInfo{})
	if got := serialOf(t, cert); got != 7 {
		t.Errorf("serial after failed reload = %d, want 7", got)
	}
}
