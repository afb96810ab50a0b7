package ssh

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestCapture_FirstOccurrenceWins(t *testing.T) {
	c := NewCapture()
	c.RecordLine("Handshake: remote KEX method: diffie-hellman-group14-sha1,curve25519-sha256")
	c.RecordLine("Handshake: remote KEX method: something-else")

	want := []string{"diffie-hellman-group14-sha1", "curve25519-sha256"}
	if got := c.Server(CategoryKex); !reflect.DeepEqual(got, want) {
		t.Errorf("Server(kex) = %v, want %v", got, want)
	}
}

func TestCapture_ParsesBothSidesAndCategories(t *testing.T) {
	c := NewCapture()
	c.RecordLine("Handshake: local KEX method: curve25519-sha256")
	c.RecordLine("Handshake: remote Host key format: ssh-rsa,ssh-dss")
	c.RecordLine("Handshake: local C->S cipher: aes128-ctr, aes256-ctr")
	c.RecordLine("Handshake: remote C->S MAC: hmac-sha1")
	c.RecordLine("Handshake: remote C->S compression: none")

	if got := c.Client(CategoryKex); !reflect.DeepEqual(got, []string{"curve25519-sha256"}) {
		t.Errorf("Client(kex) = %v", got)
	}
	if got := c.Server(CategoryHostKey); !reflect.DeepEqual(got, []string{"ssh-rsa", "ssh-dss"}) {
		t.Errorf("Server(hostkey) = %v", got)
	}
	if got := c.Client(CategoryCipher); !reflect.DeepEqual(got, []string{"aes128-ctr", "aes256-ctr"}) {
		t.Errorf("Client(cipher) = %v", got)
	}
}

func TestCapture_IgnoresGarbage(t *testing.T) {
	c := NewCapture()
	c.RecordLine("not a handshake line")
	c.RecordLine("Handshake: sideways KEX method: x")
	c.RecordLine("Handshake: local Unknown category: x")
	if c.Client(CategoryKex) != nil {
		t.Error("garbage lines were recorded")
	}
}

func TestAnalyze_MismatchSuggestsLegacyPreset(t *testing.T) {
	c := NewCapture()
	c.RecordLine("Handshake: local KEX method: curve25519-sha256")
	c.RecordLine("Handshake: remote KEX method: diffie-hellman-group14-sha1")

	analysis := c.Analyze()
	if !analysis.HasAnyMismatch {
		t.Fatal("HasAnyMismatch = false, want true")
	}
	if len(analysis.Mismatches) != 1 || analysis.Mismatches[0].Category != CategoryKex {
		t.Errorf("Mismatches = %+v", analysis.Mismatches)
	}
	found := false
	for _, s := range analysis.EnvSuggestions {
		if s == "WEBSSH2_SSH_ALGORITHMS_KEX=diffie-hellman-group14-sha1" {
			found = true
		}
	}
	if !found {
		t.Errorf("EnvSuggestions = %v, want KEX suggestion with first server algorithm", analysis.EnvSuggestions)
	}
	if analysis.SuggestedPreset != PresetLegacy {
		t.Errorf("SuggestedPreset = %q, want legacy", analysis.SuggestedPreset)
	}
}

func TestAnalyze_NoMismatchWhenIntersecting(t *testing.T) {
	c := NewCapture()
	c.RecordLine("Handshake: local KEX method: curve25519-sha256,ecdh-sha2-nistp256")
	c.RecordLine("Handshake: remote KEX method: ecdh-sha2-nistp256")
	analysis := c.Analyze()
	if analysis.HasAnyMismatch {
		t.Errorf("Analyze() = %+v, want no mismatch", analysis)
	}
}

func TestAnalyze_EmptySideIsNotAMismatch(t *testing.T) {
	c := NewCapture()
	c.RecordLine("Handshake: local KEX method: curve25519-sha256")
	if c.Analyze().HasAnyMismatch {
		t.Error("mismatch reported with no server data")
	}
}

func TestCapture_RecordHandshakeError(t *testing.T) {
	c := NewCapture()
	err := errors.New("ssh: handshake failed: ssh: no common algorithm for key exchange; client offered: [curve25519-sha256], server offered: [diffie-hellman-group14-sha1]")
	c.RecordHandshakeError(err)

	if got := c.Client(CategoryKex); !reflect.DeepEqual(got, []string{"curve25519-sha256"}) {
		t.Errorf("Client(kex) = %v", got)
	}
	if got := c.Server(CategoryKex); !reflect.DeepEqual(got, []string{"diffie-hellman-group14-sha1"}) {
		t.Errorf("Server(kex) = %v", got)
	}
	if preset := c.Analyze().SuggestedPreset; preset != PresetLegacy {
		t.Errorf("SuggestedPreset = %q, want legacy", preset)
	}
}

func TestPresetAlgorithms(t *testing.T) {
	strict := PresetAlgorithms(PresetStrict)
	legacy := PresetAlgorithms(PresetLegacy)
	if len(strict.Kex) >= len(legacy.Kex) {
		t.Error("legacy should offer more KEX algorithms than strict")
	}
	for _, alg := range legacy.Cipher {
		if strings.Contains(alg, "cbc") {
			return
		}
	}
	t.Error("legacy preset should include a CBC cipher")
}

func TestPresetAlgorithms_UnknownFallsBackToModern(t *testing.T) {
	got := PresetAlgorithms("nonsense")
	want := PresetAlgorithms(PresetModern)
	if !reflect.DeepEqual(got, want) {
		t.Error("unknown preset did not fall back to modern")
	}
}

func TestCapture_RecordLocalConfig(t *testing.T) {
	c := NewCapture()
	c.RecordLocalConfig(PresetAlgorithms(PresetStrict))
	if got := c.Client(CategoryKex); len(got) == 0 {
		t.Error("local config not captured")
	}
	if got := c.Client(CategoryCompress); !reflect.DeepEqual(got, []string{"none"}) {
		t.Errorf("Client(compress) = %v", got)
	}
}
