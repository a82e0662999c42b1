package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/kivumarket/fishstock_backend/config"
	"bitbucket.org/kivumarket/fishstock_backend/utils"
	"gorm.io/gorm"
)

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;uniqueIndex" json:"username"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Password  string    `gorm:"size:100;not null" json:"-"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

var ErrorInvalidCredentials = errors.New("invalid username or password")

// Authenticate checks credentials and returns a signed token plus the user.
func Authenticate(ctx context.Context, username, password string) (string, *User, error) {
	db := config.GetDB()
	var user User
	err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil, ErrorInvalidCredentials
		}
		return "", nil, err
	}
	if user.IsActive != nil && !*user.IsActive {
		return "", nil, ErrorInvalidCredentials
	}
	if err := utils.ComparePassword(user.Password, password); err != nil {
		return "", nil, ErrorInvalidCredentials
	}

	token, err := utils.JwtGenerate(user.ID, user.Name)
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}
