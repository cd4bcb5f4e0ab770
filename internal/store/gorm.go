package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Room mirrors the room/forum records owned by the main application backend.
// The realtime core only reads existence and touches activity.
type Room struct {
	ID           string    `gorm:"primaryKey;column:id"`
	Name         string    `gorm:"column:name"`
	IsActive     bool      `gorm:"column:is_active"`
	LastActivity time.Time `gorm:"column:last_activity"`
}

func (Room) TableName() string { return "rooms" }

// User mirrors the user records owned by the main application backend.
type User struct {
	ID       string    `gorm:"primaryKey;column:id"`
	Name     string    `gorm:"column:name"`
	Email    string    `gorm:"column:email"`
	IsOnline bool      `gorm:"column:is_online"`
	LastSeen time.Time `gorm:"column:last_seen"`
}

func (User) TableName() string { return "users" }

// GormCatalog implements RoomCatalog and UserDirectory against the main
// application's SQL database.
type GormCatalog struct {
	db *gorm.DB
}

// NewGormCatalog wraps an open GORM connection.
func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

func (c *GormCatalog) RoomExists(ctx context.Context, roomID string) (bool, error) {
	var room Room
	err := c.db.WithContext(ctx).
		Select("id", "is_active").
		First(&room, "id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return room.IsActive, nil
}

func (c *GormCatalog) TouchActivity(ctx context.Context, roomID string, at time.Time) error {
	return c.db.WithContext(ctx).
		Model(&Room{}).
		Where("id = ?", roomID).
		Update("last_activity", at).Error
}

func (c *GormCatalog) ResolveProfile(ctx context.Context, userID string) (*Profile, error) {
	var user User
	err := c.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Deleted users still need a sender block on their old messages.
		return &Profile{ID: userID, Name: "Unknown user"}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Profile{ID: user.ID, Name: user.Name, Email: user.Email}, nil
}

func (c *GormCatalog) SetOnlineStatus(ctx context.Context, userID string, isOnline bool, lastSeen time.Time) error {
	return c.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"is_online": isOnline,
			"last_seen": lastSeen,
		}).Error
}

var _ RoomCatalog = (*GormCatalog)(nil)
var _ UserDirectory = (*GormCatalog)(nil)
