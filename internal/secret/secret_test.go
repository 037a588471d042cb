package secret

import (
	"context"
	"errors"
	"sort"
	"testing"

	"gateway/internal/crypto"
	"gateway/internal/domain"
)

type fakeSecretRepo struct {
	keys map[string]*domain.UserKey
}

func newFakeSecretRepo() *fakeSecretRepo {
	return &fakeSecretRepo{keys: make(map[string]*domain.UserKey)}
}

func secretKey(userID, provider string) string { return userID + "/" + provider }

func (f *fakeSecretRepo) PutSecret(ctx context.Context, userID, provider string, ciphertext, nonce []byte) error {
	f.keys[secretKey(userID, provider)] = &domain.UserKey{UserID: userID, Provider: provider, Ciphertext: ciphertext, Nonce: nonce}
	return nil
}

func (f *fakeSecretRepo) GetSecret(ctx context.Context, userID, provider string) (*domain.UserKey, error) {
	k, ok := f.keys[secretKey(userID, provider)]
	if !ok {
		return nil, errors.New("not found")
	}
	return k, nil
}

func (f *fakeSecretRepo) ListSecretProviders(ctx context.Context, userID string) ([]string, error) {
	var out []string
	for _, k := range f.keys {
		if k.UserID == userID {
			out = append(out, k.Provider)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeSecretRepo) DeleteSecret(ctx context.Context, userID, provider string) error {
	delete(f.keys, secretKey(userID, provider))
	return nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	enc, err := crypto.NewService(make([]byte, 32))
	if err != nil {
		t.Fatalf("crypto.NewService: %v", err)
	}
	return New(newFakeSecretRepo(), enc)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "user-1", "openai", "sk-abc123"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "user-1", "openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "sk-abc123" {
		t.Errorf("expected sk-abc123, got %q", got)
	}
}

func TestPutRequiresUserID(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(context.Background(), "", "openai", "sk-abc"); err == nil {
		t.Error("expected an error when user_id is empty")
	}
}

func TestRotateOverwritesPriorKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, "user-1", "openai", "sk-old")
	if err := s.Rotate(ctx, "user-1", "openai", "sk-new"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	got, err := s.Get(ctx, "user-1", "openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "sk-new" {
		t.Errorf("expected rotated key sk-new, got %q", got)
	}
}

func TestListProvidersAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, "user-1", "openai", "sk-1")
	_ = s.Put(ctx, "user-1", "anthropic", "sk-2")

	providers, err := s.ListProviders(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListProviders: %v", err)
	}
	if len(providers) != 2 {
		t.Fatalf("expected 2 providers, got %v", providers)
	}

	if err := s.Delete(ctx, "user-1", "openai"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "user-1", "openai"); err == nil {
		t.Error("expected Get to fail after Delete")
	}
}
