package directory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/yuu551/cognito-mfa-migration/internal/model"
)

// Operation names a Directory method for failure injection
type Operation string

const (
	OpGetUser                Operation = "GetUser"
	OpCreateUser             Operation = "CreateUser"
	OpSetPermanentCredential Operation = "SetPermanentCredential"
	OpDisableUser            Operation = "DisableUser"
	OpDeleteUser             Operation = "DeleteUser"
	OpUpdateAttributes       Operation = "UpdateAttributes"
	OpListUsers              Operation = "ListUsers"
	OpListGroupsForUser      Operation = "ListGroupsForUser"
	OpAddUserToGroup         Operation = "AddUserToGroup"
	OpDescribeStore          Operation = "DescribeStore"
)

type memoryUser struct {
	user                *User
	credential          string
	credentialPermanent bool
	groups              []string
}

type memoryStore struct {
	mfa   model.MFAConfiguration
	users map[string]*memoryUser
}

type failureKey struct {
	op      Operation
	storeID string
	userID  string
}

// MemoryDirectory is an in-process Directory used for local runs and tests.
// Failures can be injected per operation, store and user.
type MemoryDirectory struct {
	mu       sync.RWMutex
	stores   map[string]*memoryStore
	failures map[failureKey]error
	calls    map[Operation]int
	pageSize int
}

// NewMemoryDirectory creates an empty MemoryDirectory
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		stores:   make(map[string]*memoryStore),
		failures: make(map[failureKey]error),
		calls:    make(map[Operation]int),
		pageSize: DefaultPageSize,
	}
}

// SetPageSize changes the listing page size
func (d *MemoryDirectory) SetPageSize(size int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if size > 0 {
		d.pageSize = size
	}
}

// AddStore registers a store with its MFA mode
func (d *MemoryDirectory) AddStore(storeID string, mfa model.MFAConfiguration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.stores[storeID]; ok {
		s.mfa = mfa
		return
	}
	d.stores[storeID] = &memoryStore{mfa: mfa, users: make(map[string]*memoryUser)}
}

// SeedUser inserts an account directly, bypassing failure injection
func (d *MemoryDirectory) SeedUser(storeID string, user *User, groups ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.stores[storeID]
	if !ok {
		s = &memoryStore{mfa: model.MFAConfigurationOptional, users: make(map[string]*memoryUser)}
		d.stores[storeID] = s
	}
	u := *user
	u.Attributes = copyAttributes(user.Attributes)
	u.MFAFactors = append([]string(nil), user.MFAFactors...)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	s.users[user.Username] = &memoryUser{user: &u, groups: append([]string(nil), groups...)}
}

// FailOn makes op fail with err for the given store and user.
// An empty userID matches every user. For OpAddUserToGroup a single
// membership can be targeted with userID "user/group".
func (d *MemoryDirectory) FailOn(op Operation, storeID, userID string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[failureKey{op: op, storeID: storeID, userID: userID}] = err
}

// ClearFailures removes all injected failures
func (d *MemoryDirectory) ClearFailures() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = make(map[failureKey]error)
}

// Calls returns how many times op was invoked
func (d *MemoryDirectory) Calls(op Operation) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.calls[op]
}

// Exists reports whether the account is present
func (d *MemoryDirectory) Exists(storeID, userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.stores[storeID]
	if !ok {
		return false
	}
	_, ok = s.users[userID]
	return ok
}

// Credential returns the stored credential and whether it is permanent
func (d *MemoryDirectory) Credential(storeID, userID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.stores[storeID]
	if !ok {
		return "", false
	}
	u, ok := s.users[userID]
	if !ok {
		return "", false
	}
	return u.credential, u.credentialPermanent
}

// enter records the call and returns an injected failure, if any. Caller holds mu.
func (d *MemoryDirectory) enter(op Operation, storeID, userID string) error {
	d.calls[op]++
	if err, ok := d.failures[failureKey{op: op, storeID: storeID, userID: userID}]; ok {
		return err
	}
	if err, ok := d.failures[failureKey{op: op, storeID: storeID}]; ok {
		return err
	}
	return nil
}

func (d *MemoryDirectory) lookup(storeID, userID string) (*memoryStore, *memoryUser, error) {
	s, ok := d.stores[storeID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrStoreNotFound, storeID)
	}
	u, ok := s.users[userID]
	if !ok {
		return s, nil, ErrUserNotFound
	}
	return s, u, nil
}

func cloneUser(u *User) *User {
	c := *u
	c.Attributes = copyAttributes(u.Attributes)
	c.MFAFactors = append([]string(nil), u.MFAFactors...)
	return &c
}

// GetUser implements Directory
func (d *MemoryDirectory) GetUser(ctx context.Context, storeID, userID string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpGetUser, storeID, userID); err != nil {
		return nil, err
	}
	_, u, err := d.lookup(storeID, userID)
	if err != nil {
		return nil, err
	}
	return cloneUser(u.user), nil
}

// CreateUser implements Directory
func (d *MemoryDirectory) CreateUser(ctx context.Context, storeID, userID string, attributes map[string]string, tempCredential string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpCreateUser, storeID, userID); err != nil {
		return err
	}
	s, ok := d.stores[storeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStoreNotFound, storeID)
	}
	if _, exists := s.users[userID]; exists {
		return ErrUserExists
	}
	s.users[userID] = &memoryUser{
		user: &User{
			Username:   userID,
			Attributes: copyAttributes(attributes),
			Enabled:    true,
			Status:     "FORCE_CHANGE_PASSWORD",
			CreatedAt:  time.Now(),
		},
		credential: tempCredential,
	}
	return nil
}

// SetPermanentCredential implements Directory
func (d *MemoryDirectory) SetPermanentCredential(ctx context.Context, storeID, userID, credential string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpSetPermanentCredential, storeID, userID); err != nil {
		return err
	}
	_, u, err := d.lookup(storeID, userID)
	if err != nil {
		return err
	}
	u.credential = credential
	u.credentialPermanent = true
	u.user.Status = "CONFIRMED"
	return nil
}

// DisableUser implements Directory
func (d *MemoryDirectory) DisableUser(ctx context.Context, storeID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpDisableUser, storeID, userID); err != nil {
		return err
	}
	_, u, err := d.lookup(storeID, userID)
	if err != nil {
		return err
	}
	u.user.Enabled = false
	return nil
}

// DeleteUser implements Directory
func (d *MemoryDirectory) DeleteUser(ctx context.Context, storeID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpDeleteUser, storeID, userID); err != nil {
		return err
	}
	s, _, err := d.lookup(storeID, userID)
	if err != nil {
		return err
	}
	delete(s.users, userID)
	return nil
}

// UpdateAttributes implements Directory
func (d *MemoryDirectory) UpdateAttributes(ctx context.Context, storeID, userID string, attributes map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpUpdateAttributes, storeID, userID); err != nil {
		return err
	}
	_, u, err := d.lookup(storeID, userID)
	if err != nil {
		return err
	}
	if u.user.Attributes == nil {
		u.user.Attributes = make(map[string]string)
	}
	for k, v := range attributes {
		u.user.Attributes[k] = v
	}
	return nil
}

// ListUsers implements Directory. Page tokens are offsets into the sorted usernames.
func (d *MemoryDirectory) ListUsers(ctx context.Context, storeID, pageToken string) (*UserPage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpListUsers, storeID, ""); err != nil {
		return nil, err
	}
	s, ok := d.stores[storeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, storeID)
	}

	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid page token %q", pageToken)
		}
		offset = n
	}

	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)

	page := &UserPage{}
	end := offset + d.pageSize
	if end > len(names) {
		end = len(names)
	}
	for i := offset; i < end; i++ {
		page.Users = append(page.Users, cloneUser(s.users[names[i]].user))
	}
	if end < len(names) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

// ListGroupsForUser implements Directory
func (d *MemoryDirectory) ListGroupsForUser(ctx context.Context, storeID, userID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpListGroupsForUser, storeID, userID); err != nil {
		return nil, err
	}
	_, u, err := d.lookup(storeID, userID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), u.groups...), nil
}

// AddUserToGroup implements Directory
func (d *MemoryDirectory) AddUserToGroup(ctx context.Context, storeID, userID, group string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpAddUserToGroup, storeID, userID); err != nil {
		return err
	}
	// per-group failures are keyed "user/group"
	if err, ok := d.failures[failureKey{op: OpAddUserToGroup, storeID: storeID, userID: userID + "/" + group}]; ok {
		return err
	}
	_, u, err := d.lookup(storeID, userID)
	if err != nil {
		return err
	}
	for _, g := range u.groups {
		if g == group {
			return nil
		}
	}
	u.groups = append(u.groups, group)
	return nil
}

// DescribeStore implements Directory
func (d *MemoryDirectory) DescribeStore(ctx context.Context, storeID string) (*StoreInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpDescribeStore, storeID, ""); err != nil {
		return nil, err
	}
	s, ok := d.stores[storeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, storeID)
	}
	return &StoreInfo{StoreID: storeID, MFAConfiguration: s.mfa}, nil
}
