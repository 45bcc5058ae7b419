package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/arcten/shellgate/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := Migrate(DB); err != nil {
		return err
	}

	return nil
}

// Migrate runs auto-migration for all models on the given handle.
// Split out from Init so tests can migrate an in-memory database.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Organization{}, &User{}, &Cluster{}, &Setting{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

// User helpers

func GetUserByUsername(username string) (*User, error) {
	var u User
	if err := DB.Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func GetUserByID(id uint) (*User, error) {
	var u User
	if err := DB.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func CreateUser(user *User) error {
	return DB.Create(user).Error
}

func UpdateUserPassword(id uint, hash string) error {
	return DB.Model(&User{}).Where("id = ?", id).Update("password_hash", hash).Error
}

// GetOrCreateOrganization returns the organization with the given name,
// creating it if absent.
func GetOrCreateOrganization(name string) (*Organization, error) {
	var org Organization
	if err := DB.Where("name = ?", name).FirstOrCreate(&org, Organization{Name: name}).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

// Cluster helpers

func GetClusterByID(id uint) (*Cluster, error) {
	var c Cluster
	if err := DB.First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func GetClusterByName(name string) (*Cluster, error) {
	var c Cluster
	if err := DB.Where("name = ?", name).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func CreateCluster(c *Cluster) error {
	return DB.Create(c).Error
}

func DeleteCluster(id uint) error {
	return DB.Delete(&Cluster{}, id).Error
}

// ListClustersForOwner returns clusters owned by the given user.
func ListClustersForOwner(userID uint) ([]Cluster, error) {
	var cs []Cluster
	if err := DB.Where("owner_user_id = ?", userID).Order("id").Find(&cs).Error; err != nil {
		return nil, err
	}
	return cs, nil
}
