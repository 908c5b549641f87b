package solves

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2024, 6, 3, 18, 0, 0, 0, time.UTC)

func TestCollectorRunSavesUniqueTitlesForToday(t *testing.T) {
	t.Parallel()

	today := NormalizeDay(testNow, time.UTC)
	source := &fakeSource{batch: Batch{Submissions: []Submission{
		{ID: "1", Title: "Two Sum", Timestamp: today.Add(10 * time.Hour).Unix()},
		{ID: "2", Title: "Two Sum", Timestamp: today.Add(14 * time.Hour).Unix()},
		{ID: "3", Title: "Valid Parens", Timestamp: today.Add(-time.Hour).Unix()},
	}}}
	store := newFakeStore()
	c := newTestCollector(defaultPolicy(), source, store, nil, nil)

	res, err := c.Run(context.Background(), "secret")
	require.NoError(t, err)
	require.Equal(t, StatusSaved, res.Status)
	require.Equal(t, []string{"Two Sum"}, res.Problems)
	require.Equal(t, "run-1", res.RunID)
	require.Equal(t, 1, store.merges)
	require.Equal(t, today, store.last.Day)
	require.Equal(t, "alice", store.last.Username)
}

func TestCollectorRunRejectsBadTokenBeforeFetching(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	store := newFakeStore()
	c := newTestCollector(defaultPolicy(), source, store, nil, nil)

	for _, token := range []string{"", "wrong", "secret "} {
		_, err := c.Run(context.Background(), token)
		require.ErrorIs(t, err, ErrUnauthorized)
	}
	require.Zero(t, source.calls)
	require.Zero(t, store.merges+store.inserts)
}

func TestCollectorRunWithoutAuthAcceptsAnyToken(t *testing.T) {
	t.Parallel()

	policy := defaultPolicy()
	policy.AuthRequired = false
	source := &fakeSource{}
	c := newTestCollector(policy, source, newFakeStore(), nil, nil)

	res, err := c.Run(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, StatusNone, res.Status)
	require.Equal(t, 1, source.calls)
}

func TestCollectorRunNoQualifyingSubmissions(t *testing.T) {
	t.Parallel()

	source := &fakeSource{batch: Batch{Submissions: []Submission{
		{ID: "1", Title: "Old", Timestamp: testNow.Add(-72 * time.Hour).Unix()},
	}}}
	store := newFakeStore()
	c := newTestCollector(defaultPolicy(), source, store, nil, nil)

	res, err := c.Run(context.Background(), "secret")
	require.NoError(t, err)
	require.Equal(t, StatusNone, res.Status)
	require.Equal(t, "No problems solved today.", res.Message)
	require.Zero(t, store.merges+store.inserts)

	policy := defaultPolicy()
	policy.Window = WindowRolling24h
	c = newTestCollector(policy, source, store, nil, nil)
	res, err = c.Run(context.Background(), "secret")
	require.NoError(t, err)
	require.Equal(t, "No problems solved in the last 24 hours.", res.Message)
}

func TestCollectorRunOnlyBlankTitlesIsNone(t *testing.T) {
	t.Parallel()

	source := &fakeSource{batch: Batch{Submissions: []Submission{
		{ID: "1", Title: "", Timestamp: testNow.Add(-time.Hour).Unix()},
		{ID: "2", Title: " ", Timestamp: testNow.Add(-2 * time.Hour).Unix()},
	}}}
	store := newFakeStore()
	c := newTestCollector(defaultPolicy(), source, store, nil, nil)

	res, err := c.Run(context.Background(), "secret")
	require.NoError(t, err)
	require.Equal(t, StatusNone, res.Status)
	require.Zero(t, store.merges+store.inserts)
}

func TestCollectorRunUpstreamFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	c := newTestCollector(defaultPolicy(), &fakeSource{err: errors.New("dial tcp: timeout")}, store, nil, nil)

	_, err := c.Run(context.Background(), "secret")
	require.ErrorIs(t, err, ErrUpstream)
	require.Zero(t, store.merges+store.inserts)
}

func TestCollectorRunPersistenceFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.err = errors.New("connection refused")
	source := &fakeSource{batch: Batch{Submissions: []Submission{
		{ID: "1", Title: "Two Sum", Timestamp: testNow.Add(-time.Hour).Unix()},
	}}}
	publisher := &fakePublisher{}
	c := newTestCollector(defaultPolicy(), source, store, publisher, nil)

	_, err := c.Run(context.Background(), "secret")
	require.ErrorIs(t, err, ErrPersistence)
	require.Empty(t, publisher.topics)
}

func TestCollectorRunInsertOnlyPolicy(t *testing.T) {
	t.Parallel()

	policy := defaultPolicy()
	policy.Window = WindowRolling24h
	policy.Persistence = PersistInsertOnly
	source := &fakeSource{batch: Batch{Submissions: []Submission{
		{ID: "1", Title: "Late Night", Timestamp: testNow.Add(-20 * time.Hour).Unix()},
	}}}
	store := newFakeStore()
	c := newTestCollector(policy, source, store, nil, nil)

	for i := 0; i < 2; i++ {
		res, err := c.Run(context.Background(), "secret")
		require.NoError(t, err)
		require.Equal(t, []string{"Late Night"}, res.Problems)
	}
	require.Equal(t, 2, store.inserts)
	require.Zero(t, store.merges)
	require.Equal(t, testNow, store.last.FetchedAt)
}

func TestCollectorRunReportsMergedState(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.existing = []string{"Earlier"}
	source := &fakeSource{batch: Batch{Submissions: []Submission{
		{ID: "1", Title: "Later", Timestamp: testNow.Add(-time.Hour).Unix()},
	}}}
	c := newTestCollector(defaultPolicy(), source, store, nil, nil)

	res, err := c.Run(context.Background(), "secret")
	require.NoError(t, err)
	require.Equal(t, []string{"Earlier", "Later"}, res.Problems)
}

func TestCollectorRunPublishesAndSnapshots(t *testing.T) {
	t.Parallel()

	source := &fakeSource{batch: Batch{
		Raw: []byte(`{"data":{}}`),
		Submissions: []Submission{
			{ID: "1", Title: "Two Sum", Timestamp: testNow.Add(-time.Hour).Unix()},
		},
	}}
	publisher := &fakePublisher{}
	blobs := &fakeBlobs{}
	c := NewCollector(
		CollectorConfig{
			Username:       "alice",
			Token:          "secret",
			Policy:         defaultPolicy(),
			Topic:          "daily-problems",
			SnapshotPrefix: "snapshots",
		},
		source, newFakeStore(), publisher, blobs, prefixHasher{},
		fixedClock{now: testNow}, &seqIDs{}, zap.NewNop(),
	)

	_, err := c.Run(context.Background(), "secret")
	require.NoError(t, err)
	require.Equal(t, []string{"daily-problems"}, publisher.topics)
	event, ok := publisher.payloads[0].(SavedEvent)
	require.True(t, ok)
	require.Equal(t, "2024-06-03", event.Day)
	require.Equal(t, []string{"Two Sum"}, event.Problems)
	require.Equal(t, "sha:11", event.PayloadSHA256)
	require.Equal(t, []string{"snapshots/alice/2024-06-03/run-1.json"}, blobs.paths)
}

func TestCollectorRunIgnoresSideChannelFailures(t *testing.T) {
	t.Parallel()

	source := &fakeSource{batch: Batch{
		Raw:         []byte(`{}`),
		Submissions: []Submission{{ID: "1", Title: "Two Sum", Timestamp: testNow.Unix()}},
	}}
	c := NewCollector(
		CollectorConfig{Username: "alice", Token: "secret", Policy: defaultPolicy(), Topic: "t"},
		source, newFakeStore(),
		&fakePublisher{err: errors.New("pubsub down")},
		&fakeBlobs{err: errors.New("bucket missing")},
		prefixHasher{err: errors.New("hash broken")},
		fixedClock{now: testNow}, &seqIDs{}, zap.NewNop(),
	)

	res, err := c.Run(context.Background(), "secret")
	require.NoError(t, err)
	require.Equal(t, StatusSaved, res.Status)
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, defaultPolicy().Validate())
	require.Error(t, Policy{Window: "weekly", Persistence: PersistInsertOnly}.Validate())
	require.Error(t, Policy{Window: WindowRolling24h, Persistence: "replace"}.Validate())
}

// --- helpers/fakes ---

func defaultPolicy() Policy {
	return Policy{
		Window:       WindowCalendarDay,
		Persistence:  PersistUpsertMerge,
		AuthRequired: true,
		Location:     time.UTC,
	}
}

func newTestCollector(policy Policy, source Source, store EntryStore, pub Publisher, blobs BlobStore) *Collector {
	return NewCollector(
		CollectorConfig{Username: "alice", Token: "secret", Policy: policy},
		source,
		store,
		pub,
		blobs,
		nil,
		fixedClock{now: testNow},
		&seqIDs{},
		zap.NewNop(),
	)
}

type prefixHasher struct{ err error }

func (h prefixHasher) Hash(data []byte) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	return "sha:" + strconv.Itoa(len(data)), nil
}

type fakeSource struct {
	mu    sync.Mutex
	batch Batch
	err   error
	calls int
}

func (f *fakeSource) RecentAccepted(_ context.Context, _ string) (Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return Batch{}, f.err
	}
	return f.batch, nil
}

type fakeStore struct {
	mu       sync.Mutex
	existing []string
	err      error
	merges   int
	inserts  int
	last     Entry
}

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

func (s *fakeStore) Insert(_ context.Context, entry Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Entry{}, s.err
	}
	s.inserts++
	s.last = entry.Clone()
	return entry, nil
}

func (s *fakeStore) Merge(_ context.Context, entry Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Entry{}, s.err
	}
	s.merges++
	s.existing = MergeTitles(s.existing, entry.Problems)
	entry.Problems = append([]string(nil), s.existing...)
	s.last = entry.Clone()
	return entry, nil
}

func (s *fakeStore) Find(_ context.Context, _ string, _ time.Time) ([]Entry, error) {
	return nil, nil
}

func (s *fakeStore) Ping(_ context.Context) error {
	return nil
}

type fakePublisher struct {
	err      error
	topics   []string
	payloads []any
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return "msg-1", nil
}

type fakeBlobs struct {
	err   error
	paths []string
}

func (b *fakeBlobs) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	b.paths = append(b.paths, path)
	return "memory://" + path, nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "run-" + strconv.Itoa(s.n), nil
}
