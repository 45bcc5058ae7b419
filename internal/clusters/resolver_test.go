package clusters

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/arcten/shellgate/internal/access"
	"github.com/arcten/shellgate/internal/database"
	"github.com/arcten/shellgate/internal/sshkeys"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	database.DB = db
	t.Cleanup(func() { database.DB = nil })
}

func testKeyPEM(t *testing.T) []byte {
	t.Helper()
	_, privPEM, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return privPEM
}

func TestRegisterAndResolve(t *testing.T) {
	setupTestDB(t)
	owner := access.Identity{UserID: 3, OrgID: 7}

	c, err := Register("node-1", "10.0.0.5", 2022, "deploy", testKeyPEM(t), owner)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	r := NewResolver()
	params, err := r.Resolve(c.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if params.Host != "10.0.0.5" || params.Port != 2022 || params.User != "deploy" {
		t.Fatalf("params = %+v", params)
	}
	if params.Signer == nil {
		t.Fatal("signer missing")
	}
	if params.Addr() != "10.0.0.5:2022" {
		t.Fatalf("addr = %q", params.Addr())
	}

	byName, err := r.ResolveByName("node-1")
	if err != nil {
		t.Fatalf("resolve by name: %v", err)
	}
	if byName.ClusterID != c.ID {
		t.Fatalf("resolved cluster %d, want %d", byName.ClusterID, c.ID)
	}

	id, err := r.Owner(c.ID)
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if id != owner {
		t.Fatalf("owner = %+v, want %+v", id, owner)
	}
}

func TestResolveUnknown(t *testing.T) {
	setupTestDB(t)
	r := NewResolver()

	if _, err := r.Resolve(999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("resolve: err = %v, want ErrNotFound", err)
	}
	if _, err := r.ResolveByName("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("resolve by name: err = %v, want ErrNotFound", err)
	}
	if _, err := r.Owner(999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("owner: err = %v, want ErrNotFound", err)
	}
}

func TestResolveIncompleteRecord(t *testing.T) {
	setupTestDB(t)

	// A record written without connection details must never resolve.
	c := &database.Cluster{Name: "broken", Port: 22, SSHUser: "root", PrivateKeyEnc: "x"}
	if err := database.CreateCluster(c); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := NewResolver().Resolve(c.ID); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestResolveCorruptKey(t *testing.T) {
	setupTestDB(t)

	c := &database.Cluster{Name: "corrupt", Host: "10.0.0.5", Port: 22, SSHUser: "root", PrivateKeyEnc: "not-fernet"}
	if err := database.CreateCluster(c); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := NewResolver().Resolve(c.ID); err == nil {
		t.Fatal("expected error for undecryptable key")
	}
}

func TestRegisterValidation(t *testing.T) {
	setupTestDB(t)
	owner := access.Identity{UserID: 1, OrgID: 1}
	key := testKeyPEM(t)

	cases := []struct {
		name string
		err  error
		call func() error
	}{
		{"empty name", ErrInvalid, func() error {
			_, err := Register("", "h", 22, "u", key, owner)
			return err
		}},
		{"empty host", ErrInvalid, func() error {
			_, err := Register("n", "", 22, "u", key, owner)
			return err
		}},
		{"bad port", ErrInvalid, func() error {
			_, err := Register("n", "h", 0, "u", key, owner)
			return err
		}},
		{"bad key", ErrInvalid, func() error {
			_, err := Register("n", "h", 22, "u", []byte("junk"), owner)
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.Is(err, tc.err) {
				t.Fatalf("err = %v, want %v", err, tc.err)
			}
		})
	}
}

func TestWriteIdentityFile(t *testing.T) {
	dir := t.TempDir()
	p := &ConnParams{ClusterID: 4, KeyPEM: []byte("key material")}

	path, err := p.WriteIdentityFile(filepath.Join(dir, "ids"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("mode = %o, want 0600", info.Mode().Perm())
	}

	empty := &ConnParams{ClusterID: 5}
	if _, err := empty.WriteIdentityFile(dir); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid for empty key", err)
	}
}
