package authclient

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/wolfeidau/authkeeper/internal/models"
)

// fakeTokens hands out token until refreshed, after which it hands out next.
type fakeTokens struct {
	mu      sync.Mutex
	token   string
	next    string
	err     error
	refresh atomic.Int64
}

func (f *fakeTokens) GetAccessToken(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

func (f *fakeTokens) RefreshToken(ctx context.Context) *models.Session {
	f.refresh.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next == "" {
		return nil
	}
	f.token = f.next
	return &models.Session{AccessToken: f.next, RefreshToken: "refresh-" + f.next}
}
