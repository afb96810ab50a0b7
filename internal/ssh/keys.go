// Package ssh wraps the outbound SSH client: connection setup with
// the configured algorithm preset, shell and exec channels, keepalive
// probes, algorithm-negotiation capture, and error classification.
package ssh

import (
	"encoding/pem"
	"strings"
)

// recognizedKeyHeaders are the PEM type headers accepted as private
// key material.
var recognizedKeyHeaders = []string{
	"OPENSSH PRIVATE KEY",
	"RSA PRIVATE KEY",
	"EC PRIVATE KEY",
	"DSA PRIVATE KEY",
	"PRIVATE KEY",
	"ENCRYPTED PRIVATE KEY",
}

// IsValidPrivateKey reports whether the text is a PEM-framed private
// key with a recognized header.
func IsValidPrivateKey(key string) bool {
	block, _ := pem.Decode([]byte(strings.TrimSpace(key)))
	if block == nil {
		return false
	}
	for _, h := range recognizedKeyHeaders {
		if block.Type == h {
			return true
		}
	}
	return false
}

// IsEncryptedPrivateKey reports whether the key needs a passphrase:
// a legacy Proc-Type encryption header, a PKCS#8 ENCRYPTED PRIVATE
// KEY envelope, or an OpenSSH key whose body names a KDF or cipher.
func IsEncryptedPrivateKey(key string) bool {
	trimmed := strings.TrimSpace(key)
	block, _ := pem.Decode([]byte(trimmed))
	if block == nil {
		return false
	}
	if block.Type == "ENCRYPTED PRIVATE KEY" {
		return true
	}
	if proc, ok := block.Headers["Proc-Type"]; ok && strings.Contains(proc, "4,ENCRYPTED") {
		return true
	}
	if block.Type == "OPENSSH PRIVATE KEY" {
		body := string(block.Bytes)
		for _, marker := range []string{"bcrypt", "aes", "3des"} {
			if strings.Contains(body, marker) {
				return true
			}
		}
	}
	return false
}
