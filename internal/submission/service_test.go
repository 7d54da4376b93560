package submission_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fls-grading/portal/internal/artifact"
	"github.com/fls-grading/portal/internal/submission"
)

// --- In-memory repository ---

type memRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*submission.Submission
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[int64]*submission.Submission)}
}

func (m *memRepo) Create(_ context.Context, s *submission.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	s.Status = submission.StatusWaiting
	s.CreatedAt = time.Now().Add(time.Duration(m.nextID) * time.Millisecond)
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.rows[s.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id int64) (*submission.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, submission.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memRepo) ListPending(_ context.Context, arch submission.Arch, limit int) ([]submission.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []submission.Submission
	for _, s := range m.rows {
		if s.Status == submission.StatusWaiting && s.Arch == arch {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) transition(id int64, from, to submission.Status, miss error) (*submission.Submission, error) {
	s, ok := m.rows[id]
	if !ok || s.Status != from {
		return nil, miss
	}
	s.Status = to
	cp := *s
	return &cp, nil
}

func (m *memRepo) Claim(_ context.Context, id int64) (*submission.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(id, submission.StatusWaiting, submission.StatusGrading, submission.ErrAlreadyClaimed)
}

func (m *memRepo) CancelClaim(_ context.Context, id int64) (*submission.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(id, submission.StatusGrading, submission.StatusWaiting, submission.ErrNothingToCancel)
}

func (m *memRepo) Complete(_ context.Context, id int64, verdict submission.Verdict, logName string) (*submission.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.Status != submission.StatusGrading {
		return nil, submission.ErrNotGrading
	}
	s.Status = submission.StatusCompleted
	s.Verdict = verdict
	s.Logs = &logName
	cp := *s
	return &cp, nil
}

func (m *memRepo) Grade(_ context.Context, id int64, verdict submission.Verdict) (*submission.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, submission.ErrNotFound
	}
	if s.Status == submission.StatusWaiting {
		return nil, submission.ErrNotGrading
	}
	s.Status = submission.StatusCompleted
	s.Verdict = verdict
	cp := *s
	return &cp, nil
}

func (m *memRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]submission.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []submission.Submission
	for _, s := range m.rows {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memRepo) List(_ context.Context, _ submission.ListFilter) (*submission.ListResult, error) {
	return &submission.ListResult{}, nil
}

func (m *memRepo) CountWaiting(_ context.Context, _ uuid.UUID, _ submission.Arch) (int, error) {
	return 0, nil
}

func (m *memRepo) ListCompleted(_ context.Context, _ uuid.UUID, _ submission.Arch) ([]submission.Submission, error) {
	return nil, nil
}

func (m *memRepo) Delete(_ context.Context, id int64) (*submission.Artifacts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, submission.ErrNotFound
	}
	delete(m.rows, id)
	return &submission.Artifacts{ID: id, Tarball: s.Tarball, Logs: s.Logs}, nil
}

// --- Collaborator fakes ---

type passRecorder struct {
	mu     sync.Mutex
	passed []uuid.UUID
}

func (p *passRecorder) MarkPassed(_ context.Context, userID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.passed = append(p.passed, userID)
	return nil
}

type beat struct {
	keyID   string
	grading bool
}

type livenessRecorder struct {
	mu    sync.Mutex
	beats []beat
}

func (l *livenessRecorder) Heartbeat(_ context.Context, keyID string, grading bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.beats = append(l.beats, beat{keyID: keyID, grading: grading})
	return nil
}

func (l *livenessRecorder) last() beat {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.beats[len(l.beats)-1]
}

type fixture struct {
	svc      *submission.Service
	repo     *memRepo
	files    *artifact.Store
	passes   *passRecorder
	liveness *livenessRecorder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	files, err := artifact.New(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		repo:     newMemRepo(),
		files:    files,
		passes:   &passRecorder{},
		liveness: &livenessRecorder{},
	}
	f.svc = submission.NewService(f.repo, f.files, f.passes, f.liveness)
	return f
}

func (f *fixture) seed(t *testing.T, userID uuid.UUID, arch submission.Arch) *submission.Submission {
	t.Helper()
	name := "submission_" + uuid.NewString() + ".tar.gz"
	_, err := f.files.Create(artifact.Tarballs, name, strings.NewReader("archive"))
	require.NoError(t, err)

	s := &submission.Submission{UserID: userID, Arch: arch, Tarball: &name}
	require.NoError(t, f.repo.Create(context.Background(), s))
	return s
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

// --- Claim ---

func TestClaim_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	f := setup(t)
	s := f.seed(t, uuid.New(), submission.ArchX86_64)

	const workers = 16
	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Claim(context.Background(), "key", s.ID)
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, submission.ErrAlreadyClaimed):
				losses.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), losses.Load())

	got, err := f.repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusGrading, got.Status)
}

func TestClaim_MarksKeyGrading(t *testing.T) {
	f := setup(t)
	s := f.seed(t, uuid.New(), submission.ArchX86_64)

	_, err := f.svc.Claim(context.Background(), "abc123", s.ID)
	require.NoError(t, err)

	assert.Equal(t, beat{keyID: "abc123", grading: true}, f.liveness.last())
}

func TestClaim_Missing(t *testing.T) {
	f := setup(t)

	_, err := f.svc.Claim(context.Background(), "key", 999)
	assert.ErrorIs(t, err, submission.ErrAlreadyClaimed)
}

// --- ListPending ---

func TestListPending_FiltersByArchAndHeartbeats(t *testing.T) {
	f := setup(t)
	user := uuid.New()
	a := f.seed(t, user, submission.ArchX86_64)
	f.seed(t, user, submission.ArchAArch64)
	b := f.seed(t, user, submission.ArchX86_64)

	subs, err := f.svc.ListPending(context.Background(), "key", submission.ArchX86_64)
	require.NoError(t, err)

	require.Len(t, subs, 2)
	assert.Equal(t, a.ID, subs[0].ID)
	assert.Equal(t, b.ID, subs[1].ID)
	assert.Equal(t, beat{keyID: "key", grading: false}, f.liveness.last())
}

func TestListPending_CapsPageSize(t *testing.T) {
	f := setup(t)
	for i := 0; i < submission.PendingPageSize+3; i++ {
		f.seed(t, uuid.New(), submission.ArchAArch64)
	}

	subs, err := f.svc.ListPending(context.Background(), "key", submission.ArchAArch64)
	require.NoError(t, err)
	assert.Len(t, subs, submission.PendingPageSize)
}

// --- CancelClaim ---

func TestCancelClaim_ReturnsToQueue(t *testing.T) {
	f := setup(t)
	s := f.seed(t, uuid.New(), submission.ArchX86_64)
	_, err := f.svc.Claim(context.Background(), "key", s.ID)
	require.NoError(t, err)

	cancelled, err := f.svc.CancelClaim(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	got, err := f.repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusWaiting, got.Status)
}

func TestCancelClaim_NothingToCancel(t *testing.T) {
	f := setup(t)
	s := f.seed(t, uuid.New(), submission.ArchX86_64)

	cancelled, err := f.svc.CancelClaim(context.Background(), s.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

// --- Resolve ---

func TestResolve_PassStoresLogAndMarksPassed(t *testing.T) {
	f := setup(t)
	user := uuid.New()
	s := f.seed(t, user, submission.ArchX86_64)
	_, err := f.svc.Claim(context.Background(), "key", s.ID)
	require.NoError(t, err)

	got, err := f.svc.Resolve(context.Background(), "key", s.ID, submission.VerdictPass, strings.NewReader("all tests ok"))
	require.NoError(t, err)

	assert.Equal(t, submission.StatusCompleted, got.Status)
	assert.Equal(t, submission.VerdictPass, got.Verdict)
	require.NotNil(t, got.Logs)
	assert.Equal(t, artifact.LogName(s.ID), *got.Logs)
	assert.Equal(t, []uuid.UUID{user}, f.passes.passed)
	assert.Equal(t, beat{keyID: "key", grading: false}, f.liveness.last())

	rc, _, err := f.svc.OpenLogs(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "all tests ok", readAll(t, rc))
}

func TestResolve_FailDoesNotMarkPassed(t *testing.T) {
	f := setup(t)
	s := f.seed(t, uuid.New(), submission.ArchX86_64)
	_, err := f.svc.Claim(context.Background(), "key", s.ID)
	require.NoError(t, err)

	got, err := f.svc.Resolve(context.Background(), "key", s.ID, submission.VerdictFail, strings.NewReader("boot failed"))
	require.NoError(t, err)

	assert.Equal(t, submission.VerdictFail, got.Verdict)
	assert.Empty(t, f.passes.passed)
}

func TestResolve_WaitingSubmissionIsForbiddenWithoutMutation(t *testing.T) {
	f := setup(t)
	s := f.seed(t, uuid.New(), submission.ArchX86_64)

	_, err := f.svc.Resolve(context.Background(), "key", s.ID, submission.VerdictPass, strings.NewReader("log"))
	assert.ErrorIs(t, err, submission.ErrNotGrading)

	got, err := f.repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusWaiting, got.Status)
	assert.Equal(t, submission.VerdictUnset, got.Verdict)
	assert.Nil(t, got.Logs)
	assert.Empty(t, f.passes.passed)

	_, err = f.files.Open(artifact.Logs, artifact.LogName(s.ID))
	assert.ErrorIs(t, err, artifact.ErrNotFound, "orphaned log should be removed")
}

func TestResolve_SecondResolveIsForbidden(t *testing.T) {
	f := setup(t)
	s := f.seed(t, uuid.New(), submission.ArchX86_64)
	_, err := f.svc.Claim(context.Background(), "key", s.ID)
	require.NoError(t, err)
	_, err = f.svc.Resolve(context.Background(), "key", s.ID, submission.VerdictFail, strings.NewReader("first"))
	require.NoError(t, err)

	_, err = f.svc.Resolve(context.Background(), "key", s.ID, submission.VerdictPass, strings.NewReader("second"))
	assert.ErrorIs(t, err, submission.ErrNotGrading)

	got, err := f.repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.VerdictFail, got.Verdict)
	assert.Empty(t, f.passes.passed)

	rc, _, err := f.svc.OpenLogs(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", readAll(t, rc))
}

func TestResolve_ReplacesStaleLogWhileGrading(t *testing.T) {
	f := setup(t)
	s := f.seed(t, uuid.New(), submission.ArchX86_64)
	_, err := f.svc.Claim(context.Background(), "key", s.ID)
	require.NoError(t, err)
	_, err = f.files.Create(artifact.Logs, artifact.LogName(s.ID), strings.NewReader("stale"))
	require.NoError(t, err)

	_, err = f.svc.Resolve(context.Background(), "key", s.ID, submission.VerdictPass, strings.NewReader("fresh"))
	require.NoError(t, err)

	rc, _, err := f.svc.OpenLogs(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", readAll(t, rc))
}

// gatedRepo holds the first Complete call until release is closed.
type gatedRepo struct {
	*memRepo
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedRepo) Complete(ctx context.Context, id int64, verdict submission.Verdict, logName string) (*submission.Submission, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.memRepo.Complete(ctx, id, verdict, logName)
}

func TestResolve_LosingRacerKeepsWinnersLog(t *testing.T) {
	dir := t.TempDir()
	files, err := artifact.New(dir)
	require.NoError(t, err)
	repo := &gatedRepo{memRepo: newMemRepo(), entered: make(chan struct{}), release: make(chan struct{})}
	svc := submission.NewService(repo, files, &passRecorder{}, &livenessRecorder{})

	name := "t.tar.gz"
	s := &submission.Submission{UserID: uuid.New(), Arch: submission.ArchX86_64, Tarball: &name}
	require.NoError(t, repo.Create(context.Background(), s))
	_, err = svc.Claim(context.Background(), "k1", s.ID)
	require.NoError(t, err)

	slow := make(chan error, 1)
	go func() {
		_, err := svc.Resolve(context.Background(), "k1", s.ID, submission.VerdictFail, strings.NewReader("late"))
		slow <- err
	}()
	<-repo.entered

	_, err = svc.Resolve(context.Background(), "k2", s.ID, submission.VerdictPass, strings.NewReader("winner"))
	require.NoError(t, err)

	close(repo.release)
	assert.ErrorIs(t, <-slow, submission.ErrNotGrading)

	rc, _, err := svc.OpenLogs(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "winner", readAll(t, rc))

	entries, err := os.ReadDir(filepath.Join(dir, string(artifact.Logs)))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, artifact.LogName(s.ID), entries[0].Name())
}

func TestResolve_RejectsUnsetVerdict(t *testing.T) {
	f := setup(t)
	s := f.seed(t, uuid.New(), submission.ArchX86_64)
	_, err := f.svc.Claim(context.Background(), "key", s.ID)
	require.NoError(t, err)

	_, err = f.svc.Resolve(context.Background(), "key", s.ID, submission.VerdictUnset, strings.NewReader("x"))
	assert.ErrorIs(t, err, submission.ErrInvalidVerdict)
}

// A passing student whose later submission fails keeps their pass.
func TestResolve_FailAfterPassKeepsUserPassed(t *testing.T) {
	f := setup(t)
	user := uuid.New()
	first := f.seed(t, user, submission.ArchX86_64)
	second := f.seed(t, user, submission.ArchX86_64)

	for _, tc := range []struct {
		id      int64
		verdict submission.Verdict
	}{
		{first.ID, submission.VerdictPass},
		{second.ID, submission.VerdictFail},
	} {
		_, err := f.svc.Claim(context.Background(), "key", tc.id)
		require.NoError(t, err)
		_, err = f.svc.Resolve(context.Background(), "key", tc.id, tc.verdict, strings.NewReader("log"))
		require.NoError(t, err)
	}

	assert.Equal(t, []uuid.UUID{user}, f.passes.passed)
}

// --- AdminGrade ---

func TestAdminGrade_OverridesCompleted(t *testing.T) {
	f := setup(t)
	user := uuid.New()
	s := f.seed(t, user, submission.ArchX86_64)
	_, err := f.svc.Claim(context.Background(), "key", s.ID)
	require.NoError(t, err)
	_, err = f.svc.Resolve(context.Background(), "key", s.ID, submission.VerdictFail, strings.NewReader("log"))
	require.NoError(t, err)

	got, err := f.svc.AdminGrade(context.Background(), s.ID, true)
	require.NoError(t, err)

	assert.Equal(t, submission.VerdictPass, got.Verdict)
	assert.Equal(t, []uuid.UUID{user}, f.passes.passed)
}

func TestAdminGrade_RejectsWaiting(t *testing.T) {
	f := setup(t)
	s := f.seed(t, uuid.New(), submission.ArchX86_64)

	_, err := f.svc.AdminGrade(context.Background(), s.ID, true)
	assert.ErrorIs(t, err, submission.ErrNotGrading)
}

// --- Artifacts ---

func TestOpenTarball_StreamsArchive(t *testing.T) {
	f := setup(t)
	s := f.seed(t, uuid.New(), submission.ArchX86_64)

	rc, got, err := f.svc.OpenTarball(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, "archive", readAll(t, rc))
}

func TestOpenTarball_MissingFileIsNotFound(t *testing.T) {
	f := setup(t)
	s := f.seed(t, uuid.New(), submission.ArchX86_64)
	require.NoError(t, f.files.Remove(artifact.Tarballs, *s.Tarball))

	_, _, err := f.svc.OpenTarball(context.Background(), s.ID)
	assert.ErrorIs(t, err, submission.ErrNotFound)
}

func TestOpenLogs_UngradedIsNotFound(t *testing.T) {
	f := setup(t)
	s := f.seed(t, uuid.New(), submission.ArchX86_64)

	_, _, err := f.svc.OpenLogs(context.Background(), s.ID)
	assert.ErrorIs(t, err, submission.ErrNotFound)
}
