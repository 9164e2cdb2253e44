package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sakif/chatcode/internal/apperror"
	"github.com/sakif/chatcode/internal/auth"
	"github.com/sakif/chatcode/internal/model"
	"github.com/sakif/chatcode/internal/repository"
)

// =========================================================================
// FAKE STORE
// =========================================================================

// fakeStore is an in-memory repository.Store. InTx snapshots the maps and
// restores them when fn fails, which is all the rollback the services
// rely on.
type fakeStore struct {
	mu     sync.Mutex
	users  map[string]*model.User
	qr     map[string]*model.QRRecord
	nextID int

	// set to a non-nil error to simulate a database failure
	createErr error
	upsertErr error
}

var _ repository.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  make(map[string]*model.User),
		qr:     make(map[string]*model.QRRecord),
		nextID: 1,
	}
}

func (f *fakeStore) InTx(ctx context.Context, fn func(repository.Store) error) error {
	f.mu.Lock()
	users := make(map[string]*model.User, len(f.users))
	for k, u := range f.users {
		c := *u
		users[k] = &c
	}
	qr := make(map[string]*model.QRRecord, len(f.qr))
	for k, r := range f.qr {
		c := *r
		qr[k] = &c
	}
	nextID := f.nextID
	f.mu.Unlock()

	if err := fn(f); err != nil {
		f.mu.Lock()
		f.users, f.qr, f.nextID = users, qr, nextID
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeStore) CreateUser(ctx context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return f.createErr
	}
	for _, u := range f.users {
		if u.Username == user.Username {
			return apperror.Conflict("user", user.Username)
		}
		if user.SocialProvider != "" && u.SocialProvider == user.SocialProvider && u.SocialID == user.SocialID {
			return apperror.Conflict("user", user.Username)
		}
	}

	// IDs sort in creation order, like xid.
	user.ID = fmt.Sprintf("user-%04d", f.nextID)
	f.nextID++
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	c := *user
	f.users[user.ID] = &c
	return nil
}

func (f *fakeStore) get(match func(*model.User) bool, what string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range f.sortedIDs() {
		if u := f.users[id]; match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, apperror.NotFound("user", what)
}

func (f *fakeStore) sortedIDs() []string {
	ids := make([]string, 0, len(f.users))
	for id := range f.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return f.get(func(u *model.User) bool { return u.ID == id }, id)
}

func (f *fakeStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return f.get(func(u *model.User) bool { return u.Username == username }, username)
}

func (f *fakeStore) GetUserBySocialIdentity(ctx context.Context, provider, socialID string) (*model.User, error) {
	return f.get(func(u *model.User) bool {
		return u.SocialProvider == provider && u.SocialID == socialID
	}, provider+":"+socialID)
}

func (f *fakeStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return f.get(func(u *model.User) bool { return u.Email == email }, email)
}

func (f *fakeStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := f.GetUserByUsername(ctx, username)
	return err == nil, nil
}

func (f *fakeStore) LinkSocialIdentity(ctx context.Context, userID, provider, socialID, displayName, avatarURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	if u.SocialProvider != "" {
		return apperror.Conflict("user", userID)
	}
	u.SocialProvider, u.SocialID = provider, socialID
	if u.DisplayName == "" {
		u.DisplayName = displayName
	}
	if u.AvatarURL == "" {
		u.AvatarURL = avatarURL
	}
	return nil
}

func (f *fakeStore) update(userID string, fn func(*model.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	fn(u)
	return nil
}

func (f *fakeStore) UpdatePhone(ctx context.Context, userID, phone string) error {
	return f.update(userID, func(u *model.User) { u.PhoneNumber = phone })
}

func (f *fakeStore) TouchLastLogin(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	return f.update(userID, func(u *model.User) { u.LastLoginAt = &now })
}

func (f *fakeStore) SetAdmin(ctx context.Context, username string, isAdmin bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Username == username {
			u.IsAdmin = isAdmin
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListUsers(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := f.sortedIDs()
	out := []model.User{}
	for i := len(ids) - 1 - opts.Offset; i >= 0 && len(out) < opts.Limit; i-- {
		out = append(out, *f.users[ids[i]])
	}
	return out, nil
}

func (f *fakeStore) CountUsers(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), nil
}

func (f *fakeStore) UpsertQRRecord(ctx context.Context, rec *model.QRRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.upsertErr != nil {
		return f.upsertErr
	}
	if _, ok := f.users[rec.OwnerID]; !ok {
		return apperror.NotFound("user", rec.OwnerID)
	}
	rec.UpdatedAt = time.Now().UTC()
	c := *rec
	f.qr[rec.OwnerID] = &c
	return nil
}

func (f *fakeStore) GetQRRecord(ctx context.Context, ownerID string) (*model.QRRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.qr[ownerID]
	if !ok {
		return nil, apperror.NotFound("qr code", ownerID)
	}
	c := *r
	return &c, nil
}

func (f *fakeStore) userCount() int {
	n, _ := f.CountUsers(context.Background())
	return n
}

// =========================================================================
// HELPERS
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// newTestAuthService returns an AuthService wired with fake dependencies.
func newTestAuthService(t *testing.T, store *fakeStore) *AuthService {
	t.Helper()
	// Cost 4 is the bcrypt minimum, which keeps tests fast.
	return NewAuthService(store, newTestTokens(t), auth.NewPasswordServiceForTest(4), testLogger())
}
