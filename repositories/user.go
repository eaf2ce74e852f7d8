package repositories

import (
	"dm-relay/domain"
	"dm-relay/errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

// IUserRepository stores the part of a user record the relay needs:
// display name, last seen timestamp and push subscriptions.
// Accounts themselves are managed elsewhere; records are created lazily.
type IUserRepository interface {
	GetUser(id domain.UserID) (User, error)
	SaveName(id domain.UserID, name string) error
	SaveLastSeen(id domain.UserID, at time.Time) error
	AddPushSubscription(id domain.UserID, sub domain.PushSubscription) (bool, error)
	RemovePushSubscription(id domain.UserID, endpoint string) (bool, error)
	PushSubscriptions(id domain.UserID) ([]domain.PushSubscription, error)
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) IUserRepository {
	return &UserRepository{db: db}
}

// User is the domain-friendly representation of a user in the repository layer.
type User struct {
	ID            domain.UserID
	Name          string
	LastSeenAt    *time.Time
	Subscriptions []domain.PushSubscription
}

type diskUser struct {
	ID            string             `cbor:"id"`
	Name          string             `cbor:"name,omitempty"`
	LastSeenAt    int64              `cbor:"last_seen,omitempty"`
	Subscriptions []diskSubscription `cbor:"subscriptions,omitempty"`
}

type diskSubscription struct {
	Endpoint string `cbor:"endpoint"`
	P256dh   string `cbor:"p256dh"`
	Auth     string `cbor:"auth"`
}

func userKey(id domain.UserID) []byte {
	return []byte("user:" + escape(string(id)))
}

// GetUser returns ErrUserNotFound when nothing was ever recorded for id.
func (u *UserRepository) GetUser(id domain.UserID) (User, error) {
	var du diskUser
	var found bool
	err := u.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getValue(txn, userKey(id), &du)
		return err
	})
	if err != nil {
		return User{}, err
	}
	if !found {
		return User{}, errors.ErrUserNotFound
	}
	return toUser(du), nil
}

func (u *UserRepository) SaveName(id domain.UserID, name string) error {
	return u.mutate(id, func(du *diskUser) bool {
		if du.Name == name {
			return false
		}
		du.Name = name
		return true
	})
}

func (u *UserRepository) SaveLastSeen(id domain.UserID, at time.Time) error {
	return u.mutate(id, func(du *diskUser) bool {
		du.LastSeenAt = at.UnixNano()
		return true
	})
}

// AddPushSubscription registers a device. A subscription whose endpoint is
// already known is not added twice; the call then reports false.
func (u *UserRepository) AddPushSubscription(id domain.UserID, sub domain.PushSubscription) (bool, error) {
	var added bool
	err := u.mutate(id, func(du *diskUser) bool {
		added = false
		if lo.ContainsBy(du.Subscriptions, func(s diskSubscription) bool { return s.Endpoint == sub.Endpoint }) {
			return false
		}
		du.Subscriptions = append(du.Subscriptions, diskSubscription{
			Endpoint: sub.Endpoint,
			P256dh:   sub.Keys.P256dh,
			Auth:     sub.Keys.Auth,
		})
		added = true
		return true
	})
	return added, err
}

// RemovePushSubscription prunes a device and reports whether it was registered.
func (u *UserRepository) RemovePushSubscription(id domain.UserID, endpoint string) (bool, error) {
	var removed bool
	err := u.mutate(id, func(du *diskUser) bool {
		before := len(du.Subscriptions)
		du.Subscriptions = lo.Reject(du.Subscriptions, func(s diskSubscription, _ int) bool {
			return s.Endpoint == endpoint
		})
		removed = len(du.Subscriptions) != before
		return removed
	})
	return removed, err
}

func (u *UserRepository) PushSubscriptions(id domain.UserID) ([]domain.PushSubscription, error) {
	user, err := u.GetUser(id)
	if errors.Is(err, errors.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user.Subscriptions, nil
}

// mutate is an atomic read-modify-write of one user record.
// fn reports whether the record changed and must be written back.
func (u *UserRepository) mutate(id domain.UserID, fn func(du *diskUser) bool) error {
	return update(u.db, func(txn *badger.Txn) error {
		du := diskUser{ID: string(id)}
		if _, err := getValue(txn, userKey(id), &du); err != nil {
			return err
		}
		if !fn(&du) {
			return nil
		}
		return setValue(txn, userKey(id), du)
	})
}

func toUser(du diskUser) User {
	user := User{
		ID:   domain.UserID(du.ID),
		Name: du.Name,
		Subscriptions: lo.Map(du.Subscriptions, func(s diskSubscription, _ int) domain.PushSubscription {
			return domain.PushSubscription{
				Endpoint: s.Endpoint,
				Keys:     domain.PushKeys{P256dh: s.P256dh, Auth: s.Auth},
			}
		}),
	}
	if du.LastSeenAt != 0 {
		user.LastSeenAt = lo.ToPtr(time.Unix(0, du.LastSeenAt).UTC())
	}
	return user
}
