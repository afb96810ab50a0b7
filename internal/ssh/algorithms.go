package ssh

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// AlgorithmSet is one side's ordered preference lists, one per
// negotiation category.
type AlgorithmSet struct {
	Kex           []string
	ServerHostKey []string
	Cipher        []string
	MAC           []string
	Compress      []string
}

// Preset names, ordered strongest first.
const (
	PresetStrict = "strict"
	PresetModern = "modern"
	PresetLegacy = "legacy"
)

// presetOrder ranks presets for the "strongest covering preset"
// suggestion.
var presetOrder = []string{PresetStrict, PresetModern, PresetLegacy}

// presets are the algorithm bundles offered to servers. Each weaker
// preset is a superset of the stronger ones, so legacy reaches the
// widest set of servers.
var presets = map[string]AlgorithmSet{
	PresetStrict: {
		Kex:           []string{"curve25519-sha256", "curve25519-sha256@libssh.org"},
		ServerHostKey: []string{"ssh-ed25519", "rsa-sha2-512"},
		Cipher:        []string{"chacha20-poly1305@openssh.com", "aes256-gcm@openssh.com", "aes128-gcm@openssh.com"},
		MAC:           []string{"hmac-sha2-512-etm@openssh.com", "hmac-sha2-256-etm@openssh.com"},
		Compress:      []string{"none"},
	},
	PresetModern: {
		Kex: []string{
			"curve25519-sha256", "curve25519-sha256@libssh.org",
			"ecdh-sha2-nistp256", "ecdh-sha2-nistp384", "ecdh-sha2-nistp521",
			"diffie-hellman-group16-sha512", "diffie-hellman-group14-sha256",
		},
		ServerHostKey: []string{
			"ssh-ed25519", "rsa-sha2-512", "rsa-sha2-256",
			"ecdsa-sha2-nistp256", "ecdsa-sha2-nistp384", "ecdsa-sha2-nistp521",
		},
		Cipher: []string{
			"chacha20-poly1305@openssh.com", "aes256-gcm@openssh.com", "aes128-gcm@openssh.com",
			"aes256-ctr", "aes192-ctr", "aes128-ctr",
		},
		MAC: []string{
			"hmac-sha2-512-etm@openssh.com", "hmac-sha2-256-etm@openssh.com",
			"hmac-sha2-512", "hmac-sha2-256",
		},
		Compress: []string{"none"},
	},
	PresetLegacy: {
		Kex: []string{
			"curve25519-sha256", "curve25519-sha256@libssh.org",
			"ecdh-sha2-nistp256", "ecdh-sha2-nistp384", "ecdh-sha2-nistp521",
			"diffie-hellman-group16-sha512", "diffie-hellman-group14-sha256",
			"diffie-hellman-group14-sha1", "diffie-hellman-group1-sha1",
		},
		ServerHostKey: []string{
			"ssh-ed25519", "rsa-sha2-512", "rsa-sha2-256",
			"ecdsa-sha2-nistp256", "ecdsa-sha2-nistp384", "ecdsa-sha2-nistp521",
			"ssh-rsa", "ssh-dss",
		},
		Cipher: []string{
			"chacha20-poly1305@openssh.com", "aes256-gcm@openssh.com", "aes128-gcm@openssh.com",
			"aes256-ctr", "aes192-ctr", "aes128-ctr",
			"aes128-cbc", "3des-cbc",
		},
		MAC: []string{
			"hmac-sha2-512-etm@openssh.com", "hmac-sha2-256-etm@openssh.com",
			"hmac-sha2-512", "hmac-sha2-256", "hmac-sha1",
		},
		Compress: []string{"none"},
	},
}

// PresetAlgorithms returns the algorithm set for a preset name,
// defaulting to modern.
func PresetAlgorithms(name string) AlgorithmSet {
	if set, ok := presets[name]; ok {
		return set
	}
	return presets[PresetModern]
}

// Category names as they appear in handshake debug lines.
const (
	CategoryKex      = "KEX method"
	CategoryHostKey  = "Host key format"
	CategoryCipher   = "C->S cipher"
	CategoryMAC      = "C->S MAC"
	CategoryCompress = "C->S compression"
)

var captureCategories = []string{
	CategoryKex, CategoryHostKey, CategoryCipher, CategoryMAC, CategoryCompress,
}

// envSuffix maps a category to its WEBSSH2_SSH_ALGORITHMS_* suffix.
var envSuffix = map[string]string{
	CategoryKex:      "KEX",
	CategoryHostKey:  "SERVER_HOST_KEY",
	CategoryCipher:   "CIPHER",
	CategoryMAC:      "MAC",
	CategoryCompress: "COMPRESS",
}

// debugLine matches "Handshake: local KEX method: a,b,c".
var debugLine = regexp.MustCompile(`^Handshake: (local|remote) (.+?): (.*)$`)

// noCommonError matches the handshake failure text the client library
// produces when negotiation fails, which carries both offers.
var noCommonError = regexp.MustCompile(
	`no common algorithm for ([^;]+); client offered: \[([^\]]*)\], server offered: \[([^\]]*)\]`)

// errorCategory maps the library's failure phrasing onto capture
// categories.
var errorCategory = map[string]string{
	"key exchange":    CategoryKex,
	"host key":        CategoryHostKey,
	"client to server cipher": CategoryCipher,
	"server to client cipher": CategoryCipher,
	"client to server MAC":    CategoryMAC,
	"server to client MAC":    CategoryMAC,
}

// Capture observes algorithm lists during a handshake. The first
// occurrence per (source, category) wins; later lines are ignored.
type Capture struct {
	mu     sync.Mutex
	client map[string][]string // category -> algorithms
	server map[string][]string
}

// NewCapture creates an empty capture.
func NewCapture() *Capture {
	return &Capture{
		client: make(map[string][]string),
		server: make(map[string][]string),
	}
}

// RecordLine parses one debug line of the form
// "Handshake: (local|remote) <category>: <csv>". Unparseable lines
// and repeat categories are ignored.
func (c *Capture) RecordLine(line string) {
	m := debugLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return
	}
	category := strings.TrimSpace(m[2])
	known := false
	for _, cat := range captureCategories {
		if category == cat {
			known = true
			break
		}
	}
	if !known {
		return
	}
	algos := splitCSV(m[3])
	c.record(m[1] == "local", category, algos)
}

// RecordLocalConfig seeds the local side from the algorithm set the
// client will offer.
func (c *Capture) RecordLocalConfig(set AlgorithmSet) {
	c.record(true, CategoryKex, set.Kex)
	c.record(true, CategoryHostKey, set.ServerHostKey)
	c.record(true, CategoryCipher, set.Cipher)
	c.record(true, CategoryMAC, set.MAC)
	c.record(true, CategoryCompress, set.Compress)
}

// RecordHandshakeError extracts both sides' offers from a negotiation
// failure message.
func (c *Capture) RecordHandshakeError(err error) {
	if err == nil {
		return
	}
	m := noCommonError.FindStringSubmatch(err.Error())
	if m == nil {
		return
	}
	category, ok := errorCategory[strings.TrimSpace(m[1])]
	if !ok {
		return
	}
	c.record(true, category, splitList(m[2]))
	c.record(false, category, splitList(m[3]))
}

func (c *Capture) record(local bool, category string, algos []string) {
	if len(algos) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	side := c.server
	if local {
		side = c.client
	}
	if _, exists := side[category]; exists {
		return
	}
	side[category] = algos
}

// Client returns the captured client-side list for a category.
func (c *Capture) Client(category string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client[category]
}

// Server returns the captured server-side list for a category.
func (c *Capture) Server(category string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server[category]
}

// Mismatch describes one category with no overlap.
type Mismatch struct {
	Category string
	Client   []string
	Server   []string
}

// Analysis is the product of a failed or suspect negotiation.
type Analysis struct {
	HasAnyMismatch  bool
	Mismatches      []Mismatch
	SuggestedPreset string
	EnvSuggestions  []string
}

// Analyze diagnoses the capture: a category mismatches when both
// sides produced non-empty lists that do not intersect. For each
// mismatched category an env-var suggestion names the server's first
// choice; the suggested preset is the strongest one whose offer
// intersects the server in every captured category.
func (c *Capture) Analyze() Analysis {
	c.mu.Lock()
	defer c.mu.Unlock()

	var analysis Analysis
	for _, category := range captureCategories {
		client, server := c.client[category], c.server[category]
		if len(client) == 0 || len(server) == 0 {
			continue
		}
		if intersects(client, server) {
			continue
		}
		analysis.HasAnyMismatch = true
		analysis.Mismatches = append(analysis.Mismatches, Mismatch{
			Category: category,
			Client:   append([]string(nil), client...),
			Server:   append([]string(nil), server...),
		})
		analysis.EnvSuggestions = append(analysis.EnvSuggestions,
			fmt.Sprintf("WEBSSH2_SSH_ALGORITHMS_%s=%s", envSuffix[category], server[0]))
	}
	if !analysis.HasAnyMismatch {
		return analysis
	}

	sort.Strings(analysis.EnvSuggestions)
	for _, name := range presetOrder {
		if presetCoversServer(presets[name], c.server) {
			analysis.SuggestedPreset = name
			break
		}
	}
	return analysis
}

// presetCoversServer reports whether the preset intersects the server
// offer in every category the server produced.
func presetCoversServer(set AlgorithmSet, server map[string][]string) bool {
	byCategory := map[string][]string{
		CategoryKex:      set.Kex,
		CategoryHostKey:  set.ServerHostKey,
		CategoryCipher:   set.Cipher,
		CategoryMAC:      set.MAC,
		CategoryCompress: set.Compress,
	}
	for category, offered := range server {
		if len(offered) == 0 {
			continue
		}
		if !intersects(byCategory[category], offered) {
			return false
		}
	}
	return true
}

func intersects(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if set[v] {
			return true
		}
	}
	return false
}

func splitCSV(s string) []string {
	return splitOn(s, ",")
}

// splitList handles the bracketed space-separated form used in
// handshake error messages.
func splitList(s string) []string {
	if strings.Contains(s, ",") {
		return splitOn(s, ",")
	}
	return splitOn(s, " ")
}

func splitOn(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
