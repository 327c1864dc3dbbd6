package submission

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"dataportal/internal/apperr"
	"dataportal/internal/identity"
	"dataportal/internal/notify"
	"dataportal/internal/remote"
	"dataportal/internal/retry"
	"dataportal/internal/sqldb"
	"dataportal/internal/sqlexec"
	"dataportal/pkg/queryapi"
)

type instantTimer struct{ c chan time.Time }

func (t *instantTimer) Start(time.Duration)  { t.c <- time.Time{} }
func (t *instantTimer) Stop()                {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

func instantPoller(max int) *retry.Poller {
	return retry.New(max, false).WithTimer(func() backoff.Timer {
		return &instantTimer{c: make(chan time.Time, 1)}
	})
}

type captureNotifier struct {
	mu        sync.Mutex
	committed []notify.SubmissionEvent
	renamed   []notify.SubmissionEvent
}

func (c *captureNotifier) SubmissionCommitted(_ context.Context, ev notify.SubmissionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = append(c.committed, ev)
}

func (c *captureNotifier) SubmissionRenamed(_ context.Context, ev notify.SubmissionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renamed = append(c.renamed, ev)
}

// flakyRepo fails the transaction after fn ran so the rollback is real.
type flakyRepo struct {
	Repository
	txErr   error
	txCalls int
}

func (f *flakyRepo) WithTx(ctx context.Context, fn func(TxRepository) error) error {
	f.txCalls++
	return f.Repository.WithTx(ctx, func(tx TxRepository) error {
		if err := fn(tx); err != nil {
			return err
		}
		return f.txErr
	})
}

type fixture struct {
	pool     sqlexec.Pool
	store    *remote.MemoryStore
	repo     *flakyRepo
	notifier *captureNotifier
	svc      *Service
}

var (
	owner = identity.User{ID: 7, FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.org"}
	other = identity.User{ID: 8, FirstName: "Grace", Email: "grace@example.org"}
	admin = identity.User{ID: 1, FirstName: "Root", IsDataSubmissionAdmin: true}
)

func newFixture(t *testing.T, copyAttempts int) *fixture {
	t.Helper()
	ctx := context.Background()
	pool, err := sqldb.Open(ctx, sqldb.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })
	f := &fixture{
		pool:     pool,
		store:    remote.NewMemory(),
		repo:     &flakyRepo{Repository: NewSQLRepository(pool)},
		notifier: &captureNotifier{},
	}
	f.svc = NewService(Options{
		Remote:    f.store,
		Repo:      f.repo,
		Poller:    instantPoller(copyAttempts),
		Notifier:  f.notifier,
		Now:       func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
		NewSuffix: func() string { return "tmp" },
	})
	return f
}

// session starts an upload session holding data and returns its ref.
func (f *fixture) session(t *testing.T, data, fileName string) UploadRef {
	t.Helper()
	id, err := f.store.StartUploadSession(context.Background(), strings.NewReader(data))
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return UploadRef{SessionID: id, Offset: int64(len(data)), FileName: fileName}
}

// seed inserts an existing submission and its remote folder.
func (f *fixture) seed(t *testing.T, submitter int, root string, qc1 bool, files ...string) int64 {
	t.Helper()
	ctx := context.Background()
	var id int64
	err := f.repo.Repository.WithTx(ctx, func(tx TxRepository) error {
		var err error
		id, err = tx.Insert(ctx, Record{SubmitterID: submitter, ShortName: root, LongName: root + " long", FileNameRoot: root, PhaseID: PhaseAwaitingQC1})
		return err
	})
	if err != nil {
		t.Fatalf("seed submission: %v", err)
	}
	if qc1 {
		if _, err := f.pool.Exec(ctx, "UPDATE tblData_Submissions SET QC1_Completion_Date_Time = CURRENT_TIMESTAMP WHERE Data_Submission_ID = @id",
			[]sqlexec.Param{{Name: "id", Type: queryapi.TypeBigInt, Value: id}}); err != nil {
			t.Fatalf("seed qc1: %v", err)
		}
	}
	for _, name := range files {
		f.store.PutFile("/"+root+"/"+name, []byte(name))
	}
	return id
}

func (f *fixture) seedDataset(t *testing.T, shortName, longName string) {
	t.Helper()
	_, err := f.pool.Exec(context.Background(), "INSERT INTO tblDatasets (Dataset_Name, Dataset_Long_Name) VALUES (@name, @long)", []sqlexec.Param{
		{Name: "name", Type: queryapi.TypeNVarChar, Value: shortName},
		{Name: "long", Type: queryapi.TypeNVarChar, Value: longName},
	})
	if err != nil {
		t.Fatalf("seed dataset: %v", err)
	}
}

func (f *fixture) count(t *testing.T, table string) int64 {
	t.Helper()
	rs, err := f.pool.Query(context.Background(), "SELECT COUNT(*) AS n FROM "+table, nil)
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return asInt64(rs.Rows[0].Get("n"))
}

func (f *fixture) calls(op remote.MemoryOp) int { return len(f.store.CallsTo(op)) }

func (f *fixture) mutations() int {
	n := 0
	for _, op := range []remote.MemoryOp{remote.OpCreateFolder, remote.OpFinish, remote.OpCopy, remote.OpMove, remote.OpDelete} {
		n += f.calls(op)
	}
	return n
}

func wantCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := apperr.CodeOf(err); got != code {
		t.Fatalf("expected code %s, got %s (%v)", code, got, err)
	}
}

var errBoom = errors.New("boom")
