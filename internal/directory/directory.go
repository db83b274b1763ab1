// Package directory abstracts the identity stores that hold user accounts.
package directory

import (
	"context"
	"errors"
	"time"

	"github.com/yuu551/cognito-mfa-migration/internal/model"
)

var (
	// ErrUserNotFound is returned when the account does not exist in the store
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when creating an account that already exists
	ErrUserExists = errors.New("user already exists")
	// ErrStoreNotFound is returned for an unknown store id
	ErrStoreNotFound = errors.New("store not found")
)

// DefaultPageSize is the listing page size used by adapters that let us choose it
const DefaultPageSize = 60

// MFA factor names reported by GetUser
const (
	FactorSMS  = "SMS_MFA"
	FactorTOTP = "SOFTWARE_TOKEN_MFA"
)

// User is an account as seen by the directory
type User struct {
	Username   string
	Attributes map[string]string
	MFAFactors []string
	Enabled    bool
	Status     string
	CreatedAt  time.Time
}

// Attr returns an attribute value or ""
func (u *User) Attr(name string) string {
	if u.Attributes == nil {
		return ""
	}
	return u.Attributes[name]
}

// UserPage is one page of a listing
type UserPage struct {
	Users         []*User
	NextPageToken string
}

// StoreInfo describes a store's MFA mode
type StoreInfo struct {
	StoreID          string
	MFAConfiguration model.MFAConfiguration
}

// Directory is the identity directory collaborator
type Directory interface {
	GetUser(ctx context.Context, storeID, userID string) (*User, error)
	CreateUser(ctx context.Context, storeID, userID string, attributes map[string]string, tempCredential string) error
	SetPermanentCredential(ctx context.Context, storeID, userID, credential string) error
	DisableUser(ctx context.Context, storeID, userID string) error
	DeleteUser(ctx context.Context, storeID, userID string) error
	UpdateAttributes(ctx context.Context, storeID, userID string, attributes map[string]string) error
	ListUsers(ctx context.Context, storeID, pageToken string) (*UserPage, error)
	ListGroupsForUser(ctx context.Context, storeID, userID string) ([]string, error)
	AddUserToGroup(ctx context.Context, storeID, userID, group string) error
	DescribeStore(ctx context.Context, storeID string) (*StoreInfo, error)
}

func copyAttributes(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
