package auth

import (
	"encoding/pem"
	"errors"
	"reflect"
	"testing"

	sshsvc "github.com/rjsadow/webssh2/internal/ssh"
)

func testKey() string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: []byte("fake-material"),
	}))
}

func encryptedTestKey() string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type: "RSA PRIVATE KEY",
		Headers: map[string]string{
			"Proc-Type": "4,ENCRYPTED",
			"DEK-Info":  "AES-128-CBC,0102",
		},
		Bytes: []byte("ciphertext"),
	}))
}

func TestValidateCredentials(t *testing.T) {
	creds := &sshsvc.Credentials{Host: "target", Port: 22, Username: "alice", Password: "pw"}
	if err := ValidateCredentials(creds); err != nil {
		t.Fatalf("ValidateCredentials() error = %v", err)
	}

	bad := []sshsvc.Credentials{
		{Port: 22, Username: "a", Password: "p"},                  // no host
		{Host: "h", Port: 0, Username: "a", Password: "p"},        // bad port
		{Host: "h", Port: 22, Password: "p"},                      // no username
		{Host: "h", Port: 22, Username: "a"},                      // no secret
		{Host: "h", Port: 22, Username: "a", PrivateKey: "junk"},  // bad key
	}
	for i, c := range bad {
		c := c
		err := ValidateCredentials(&c)
		var invalid *ErrInvalidCredentials
		if !errors.As(err, &invalid) {
			t.Errorf("case %d: error = %v, want ErrInvalidCredentials", i, err)
		}
		if err != nil && err.Error() != "Invalid credentials" {
			t.Errorf("case %d: message = %q, want %q", i, err.Error(), "Invalid credentials")
		}
	}
}

func TestValidateCredentials_PassphraseRetention(t *testing.T) {
	// Unencrypted key: the passphrase is dropped.
	creds := &sshsvc.Credentials{
		Host: "h", Port: 22, Username: "a",
		PrivateKey: testKey(), Passphrase: "secret",
	}
	if err := ValidateCredentials(creds); err != nil {
		t.Fatalf("ValidateCredentials() error = %v", err)
	}
	if creds.Passphrase != "" {
		t.Error("passphrase retained for unencrypted key")
	}

	// Encrypted key: retained.
	creds = &sshsvc.Credentials{
		Host: "h", Port: 22, Username: "a",
		PrivateKey: encryptedTestKey(), Passphrase: "secret",
	}
	if err := ValidateCredentials(creds); err != nil {
		t.Fatalf("ValidateCredentials() error = %v", err)
	}
	if creds.Passphrase != "secret" {
		t.Error("passphrase dropped for encrypted key")
	}
}

func TestResolveRequestedMethods(t *testing.T) {
	tests := []struct {
		name     string
		creds    sshsvc.Credentials
		explicit bool
		want     []string
	}{
		{"password only", sshsvc.Credentials{Password: "p"}, false, []string{"password"}},
		{"key only", sshsvc.Credentials{PrivateKey: testKey()}, false, []string{"publickey"}},
		{"key and password", sshsvc.Credentials{PrivateKey: testKey(), Password: "p"}, false, []string{"publickey", "password"}},
		{"explicit ki", sshsvc.Credentials{Password: "p"}, true, []string{"password", "keyboard-interactive"}},
		{"invalid key ignored", sshsvc.Credentials{PrivateKey: "junk", Password: "p"}, false, []string{"password"}},
		{"nothing", sshsvc.Credentials{}, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveRequestedMethods(tt.creds, tt.explicit)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ResolveRequestedMethods() = %v, want %v", got, tt.want)
			}
			// Idempotent: the same inputs yield the same output.
			again := ResolveRequestedMethods(tt.creds, tt.explicit)
			if !reflect.DeepEqual(got, again) {
				t.Errorf("not idempotent: %v then %v", got, again)
			}
		})
	}
}

func TestCheckPolicy(t *testing.T) {
	if err := CheckPolicy([]string{"password", "publickey"}, []string{"password"}); err != nil {
		t.Errorf("CheckPolicy() error = %v", err)
	}

	err := CheckPolicy([]string{"publickey"}, []string{"password"})
	var pe *PolicyError
	if !errors.As(err, &pe) {
		t.Fatalf("CheckPolicy() error = %v, want PolicyError", err)
	}
	if pe.Method != "password" {
		t.Errorf("PolicyError.Method = %q, want password", pe.Method)
	}

	if err := CheckPolicy([]string{"publickey"}, nil); err != nil {
		t.Errorf("CheckPolicy() with no requested methods error = %v", err)
	}
}
