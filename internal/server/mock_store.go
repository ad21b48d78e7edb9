package server

import (
	"context"

	"github.com/stretchr/testify/mock"

	"setlist-service/internal/remote"
	"setlist-service/internal/setlist"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) SaveSnapshot(ctx context.Context, snap *remote.Snapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

func (m *MockStore) LoadSnapshot(ctx context.Context, setlistID string) (*remote.Snapshot, error) {
	args := m.Called(ctx, setlistID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.Snapshot), args.Error(1)
}

func (m *MockStore) ListSetlists(ctx context.Context, userID string) ([]setlist.Setlist, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]setlist.Setlist), args.Error(1)
}

func (m *MockStore) DeleteSetlist(ctx context.Context, setlistID string) error {
	args := m.Called(ctx, setlistID)
	return args.Error(0)
}

func (m *MockStore) SaveJoke(ctx context.Context, j *setlist.Joke) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

func (m *MockStore) LoadJoke(ctx context.Context, id string) (*setlist.Joke, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*setlist.Joke), args.Error(1)
}

func (m *MockStore) ListJokes(ctx context.Context, ownerID string, includeArchived bool) ([]setlist.Joke, error) {
	args := m.Called(ctx, ownerID, includeArchived)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]setlist.Joke), args.Error(1)
}

func (m *MockStore) SetJokeArchived(ctx context.Context, id string, archived bool) error {
	args := m.Called(ctx, id, archived)
	return args.Error(0)
}
