package access

import (
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"
)

// KeyTable is the static access-control table for the SSH front door.
// It maps public key fingerprints to named identities, and identities to
// the set of cluster names they may reach. The name a client connects as
// is irrelevant: the key alone determines who the caller really is.
//
// The table is immutable after load; reloading means building a new one.
type KeyTable struct {
	byFingerprint map[string]string           // SHA256 fingerprint → identity name
	identities    map[string]keyTableIdentity // identity name → record
}

type keyTableIdentity struct {
	id      Identity
	targets map[string]bool
}

type keyTableFile struct {
	Keys []struct {
		Fingerprint string `yaml:"fingerprint"`
		Identity    string `yaml:"identity"`
	} `yaml:"keys"`
	Identities map[string]struct {
		UserID  uint     `yaml:"user_id"`
		OrgID   uint     `yaml:"org_id"`
		Targets []string `yaml:"targets"`
	} `yaml:"identities"`
}

// LoadKeyTable reads the YAML key table from disk.
func LoadKeyTable(path string) (*KeyTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key table: %w", err)
	}
	return ParseKeyTable(data)
}

// ParseKeyTable builds a KeyTable from YAML bytes. Entries referencing an
// identity that is not declared are rejected rather than silently dropped.
func ParseKeyTable(data []byte) (*KeyTable, error) {
	var file keyTableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse key table: %w", err)
	}

	kt := &KeyTable{
		byFingerprint: make(map[string]string),
		identities:    make(map[string]keyTableIdentity),
	}

	for name, rec := range file.Identities {
		targets := make(map[string]bool, len(rec.Targets))
		for _, t := range rec.Targets {
			targets[t] = true
		}
		kt.identities[name] = keyTableIdentity{
			id:      Identity{UserID: rec.UserID, OrgID: rec.OrgID},
			targets: targets,
		}
	}

	for _, k := range file.Keys {
		if k.Fingerprint == "" || k.Identity == "" {
			return nil, fmt.Errorf("key table entry missing fingerprint or identity")
		}
		if _, ok := kt.identities[k.Identity]; !ok {
			return nil, fmt.Errorf("key table references unknown identity %q", k.Identity)
		}
		kt.byFingerprint[k.Fingerprint] = k.Identity
	}

	return kt, nil
}

// Authorize resolves the presented public key to a real identity and checks
// that identity's allow-list for the requested target. Unknown keys and
// targets outside the allow-list both return ErrDenied. Matching is exact;
// there is no wildcarding.
func (kt *KeyTable) Authorize(key ssh.PublicKey, target string) (string, Identity, error) {
	if key == nil || target == "" {
		return "", Identity{}, ErrDenied
	}
	name, ok := kt.byFingerprint[ssh.FingerprintSHA256(key)]
	if !ok {
		return "", Identity{}, ErrDenied
	}
	rec, ok := kt.identities[name]
	if !ok {
		return "", Identity{}, ErrDenied
	}
	if !rec.targets[target] {
		return "", Identity{}, ErrDenied
	}
	return name, rec.id, nil
}

// Len reports how many keys are registered, for startup logging.
func (kt *KeyTable) Len() int {
	return len(kt.byFingerprint)
}
