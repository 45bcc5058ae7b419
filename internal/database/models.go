package database

import "time"

// Organization groups users. Cluster ownership is bound to a specific
// user within an organization, never to the organization as a whole.
type Organization struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null;size:128" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type User struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username       string    `gorm:"uniqueIndex;not null;size:64" json:"username"`
	PasswordHash   string    `gorm:"not null" json:"-"`
	Role           string    `gorm:"not null;default:user" json:"role"`
	OrganizationID uint      `gorm:"not null;index" json:"organization_id"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Cluster is a registered compute node reachable over SSH. Connection
// parameters are generated server-side when the cluster is registered;
// they are never taken from terminal requests, so a caller cannot point
// the gateway at an arbitrary host.
type Cluster struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string    `gorm:"uniqueIndex;not null;size:128" json:"name"`
	Host          string    `gorm:"not null" json:"host"`
	Port          int       `gorm:"not null;default:22" json:"port"`
	SSHUser       string    `gorm:"not null" json:"ssh_user"`
	PrivateKeyEnc string    `json:"-"` // Fernet-encrypted PEM
	OwnerUserID   uint      `gorm:"not null;index" json:"owner_user_id"`
	OwnerOrgID    uint      `gorm:"not null;index" json:"owner_org_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
