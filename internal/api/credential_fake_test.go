package api

import (
	"context"
	"testing"
	"time"

	"github.com/roombus/roombus-server/internal/credential"
)

// fakeCredRepo implements credential.Repository in memory for handler tests, the same role the teacher's fakeRepo
// plays for user.Repository in auth_test.go.
type fakeCredRepo struct {
	byProject map[string]*credential.ApiKey
	nextID    int64
}

func newFakeCredRepo() *fakeCredRepo {
	return &fakeCredRepo{byProject: make(map[string]*credential.ApiKey)}
}

func (r *fakeCredRepo) Create(_ context.Context, k credential.ApiKey) (*credential.ApiKey, error) {
	if existing, ok := r.byProject[k.ProjectID]; ok && existing.IsActive {
		return nil, credential.ErrAlreadyActive
	}
	r.nextID++
	k.ID = r.nextID
	k.IsActive = true
	k.CreatedAt = time.Now()
	row := k
	r.byProject[k.ProjectID] = &row
	return &row, nil
}

func (r *fakeCredRepo) Get(_ context.Context, projectID string) (*credential.ApiKey, error) {
	k, ok := r.byProject[projectID]
	if !ok {
		return nil, credential.ErrNotFound
	}
	return k, nil
}

func (r *fakeCredRepo) List(_ context.Context) ([]credential.ApiKey, error) {
	var out []credential.ApiKey
	for _, k := range r.byProject {
		if k.IsActive {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (r *fakeCredRepo) Revoke(_ context.Context, projectID string) error {
	k, ok := r.byProject[projectID]
	if !ok || !k.IsActive {
		return credential.ErrNotFound
	}
	k.IsActive = false
	return nil
}

func (r *fakeCredRepo) FindActiveByHash(_ context.Context, projectID, keyHash string) (*credential.ApiKey, error) {
	k, ok := r.byProject[projectID]
	if !ok || !k.IsActive || k.KeyHash != keyHash {
		return nil, credential.ErrNotFound
	}
	return k, nil
}

func (r *fakeCredRepo) TouchLastUsed(_ context.Context, id int64, at time.Time) error {
	for _, k := range r.byProject {
		if k.ID == id {
			k.LastUsedAt = &at
			return nil
		}
	}
	return nil
}

// seedActiveKey inserts an active key for projectID directly into the fake store and returns the plaintext.
func (r *fakeCredRepo) seedActiveKey(t *testing.T, projectID string) string {
	t.Helper()
	plaintext, err := credential.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	r.nextID++
	r.byProject[projectID] = &credential.ApiKey{
		ID:        r.nextID,
		ProjectID: projectID,
		KeyHash:   credential.HashKey(plaintext),
		KeyPrefix: credential.Prefix(plaintext),
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	return plaintext
}
