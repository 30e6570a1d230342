// Package testutil provides shared test doubles for the coordinator's
// external collaborators.
package testutil

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/poyrazK/xfrd/internal/core/domain"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) AppendTransfer(ctx context.Context, zone string, serial uint32, transferID string, payload []byte) error {
	args := m.Called(zone, serial, transferID, payload)
	return args.Error(0)
}

func (m *MockStore) Commit(ctx context.Context, zone string, serial uint32, transferID string, note string) error {
	args := m.Called(zone, serial, transferID, note)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) ZoneUpdated(ctx context.Context, zone string, serial uint32) error {
	args := m.Called(zone, serial)
	return args.Error(0)
}

func (m *MockNotifier) ZoneExpired(ctx context.Context, zone string, expired bool) error {
	args := m.Called(zone, expired)
	return args.Error(0)
}

type MockServing struct {
	mock.Mock
}

func (m *MockServing) CurrentSOA(ctx context.Context, zone string) (*domain.SOA, error) {
	args := m.Called(zone)
	soa, _ := args.Get(0).(*domain.SOA)
	return soa, args.Error(1)
}

// RecordingStore is a hand-rolled in-memory store for tests that only need
// to observe what was committed, without testify expectations.
type RecordingStore struct {
	mu sync.Mutex

	Appended  []RecordedTransfer
	Committed []RecordedTransfer
}

type RecordedTransfer struct {
	Zone       string
	Serial     uint32
	TransferID string
	Payload    []byte
	Note       string
}

func (s *RecordingStore) AppendTransfer(_ context.Context, zone string, serial uint32, transferID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Appended = append(s.Appended, RecordedTransfer{
		Zone: zone, Serial: serial, TransferID: transferID, Payload: payload,
	})
	return nil
}

func (s *RecordingStore) Commit(_ context.Context, zone string, serial uint32, transferID string, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Committed = append(s.Committed, RecordedTransfer{
		Zone: zone, Serial: serial, TransferID: transferID, Note: note,
	})
	return nil
}

// StaticServing reports fixed SOAs per zone, nil for unknown zones.
type StaticServing struct {
	SOAs map[string]*domain.SOA
}

func (s *StaticServing) CurrentSOA(_ context.Context, zone string) (*domain.SOA, error) {
	return s.SOAs[zone], nil
}
