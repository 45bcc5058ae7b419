// Package clusters resolves target identifiers to SSH connection
// parameters and exposes cluster ownership for authorization. Connection
// parameters always come from the registry database, never from request
// input.
package clusters

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arcten/shellgate/internal/access"
	"github.com/arcten/shellgate/internal/crypto"
	"github.com/arcten/shellgate/internal/database"
	"github.com/arcten/shellgate/internal/sshkeys"
	"golang.org/x/crypto/ssh"
)

var (
	// ErrNotFound means the target identifier is not registered.
	ErrNotFound = errors.New("cluster not found")
	// ErrInvalid means the stored connection record is incomplete.
	ErrInvalid = errors.New("cluster record invalid")
)

// ConnParams holds everything needed to reach a cluster node over SSH.
// KeyPEM is decrypted credential material: it must never be logged or
// included in any response body.
type ConnParams struct {
	ClusterID uint
	Name      string
	Host      string
	Port      int
	User      string
	Signer    ssh.Signer
	KeyPEM    []byte
}

// Addr returns the host:port dial address.
func (p *ConnParams) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// WriteIdentityFile materializes the private key as a 0600 file under dir
// for use by an external ssh client process, returning its path.
func (p *ConnParams) WriteIdentityFile(dir string) (string, error) {
	if len(p.KeyPEM) == 0 {
		return "", ErrInvalid
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create identity dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("cluster-%d.key", p.ClusterID))
	if err := os.WriteFile(path, p.KeyPEM, 0600); err != nil {
		return "", fmt.Errorf("write identity file: %w", err)
	}
	return path, nil
}

// Resolver looks up connection parameters and ownership in the registry.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the connection parameters for a cluster id.
func (r *Resolver) Resolve(clusterID uint) (*ConnParams, error) {
	c, err := database.GetClusterByID(clusterID)
	if err != nil {
		return nil, ErrNotFound
	}
	return paramsFromRecord(c)
}

// ResolveByName returns the connection parameters for a cluster name.
// The SSH front door addresses targets by name.
func (r *Resolver) ResolveByName(name string) (*ConnParams, error) {
	c, err := database.GetClusterByName(name)
	if err != nil {
		return nil, ErrNotFound
	}
	return paramsFromRecord(c)
}

// Owner returns the recorded owner identity of a cluster. Errors are
// surfaced so the access layer can fail closed.
func (r *Resolver) Owner(clusterID uint) (access.Identity, error) {
	c, err := database.GetClusterByID(clusterID)
	if err != nil {
		return access.Identity{}, ErrNotFound
	}
	return access.Identity{UserID: c.OwnerUserID, OrgID: c.OwnerOrgID}, nil
}

func paramsFromRecord(c *database.Cluster) (*ConnParams, error) {
	if c.Host == "" || c.Port <= 0 || c.SSHUser == "" || c.PrivateKeyEnc == "" {
		return nil, ErrInvalid
	}

	keyPEM, err := crypto.Decrypt(c.PrivateKeyEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt cluster key: %w", err)
	}
	signer, err := sshkeys.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: bad private key", ErrInvalid)
	}

	return &ConnParams{
		ClusterID: c.ID,
		Name:      c.Name,
		Host:      c.Host,
		Port:      c.Port,
		User:      c.SSHUser,
		Signer:    signer,
		KeyPEM:    keyPEM,
	}, nil
}

// Register encrypts the private key and stores a new cluster record.
func Register(name, host string, port int, sshUser string, keyPEM []byte, owner access.Identity) (*database.Cluster, error) {
	if name == "" || host == "" || port <= 0 || sshUser == "" {
		return nil, ErrInvalid
	}
	if _, err := sshkeys.ParsePrivateKey(keyPEM); err != nil {
		return nil, fmt.Errorf("%w: bad private key", ErrInvalid)
	}
	enc, err := crypto.Encrypt(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("encrypt cluster key: %w", err)
	}
	c := &database.Cluster{
		Name:          name,
		Host:          host,
		Port:          port,
		SSHUser:       sshUser,
		PrivateKeyEnc: enc,
		OwnerUserID:   owner.UserID,
		OwnerOrgID:    owner.OrgID,
	}
	if err := database.CreateCluster(c); err != nil {
		return nil, fmt.Errorf("create cluster: %w", err)
	}
	return c, nil
}
