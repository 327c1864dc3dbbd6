package submission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"dataportal/internal/sqlexec"
	"dataportal/pkg/queryapi"
)

// Repository is the submission persistence used by the workflows.
type Repository interface {
	Get(ctx context.Context, id int64) (Record, error)
	// LongNameInUse reports whether longName belongs to a published dataset
	// or to a submission by another user.
	LongNameInUse(ctx context.Context, longName string, userID int, exclude int64) (bool, error)
	// ShortNameInUse compares case-insensitively against dataset names and
	// every other submission's short name and folder root.
	ShortNameInUse(ctx context.Context, shortName string, exclude int64) (bool, error)
	// WithTx runs fn in one transaction, committing when it returns nil.
	WithTx(ctx context.Context, fn func(TxRepository) error) error
}

// TxRepository writes inside an open transaction.
type TxRepository interface {
	Insert(ctx context.Context, rec Record) (int64, error)
	Update(ctx context.Context, rec Record) error
	AddFile(ctx context.Context, submissionID int64, oid string) error
	Rename(ctx context.Context, submissionID int64, shortName string) error
}

// SQLRepository implements Repository over a sqlexec.Pool.
type SQLRepository struct {
	pool sqlexec.Pool
	now  func() time.Time
}

var _ Repository = (*SQLRepository)(nil)

// NewSQLRepository returns a repository over pool.
func NewSQLRepository(pool sqlexec.Pool) *SQLRepository {
	return &SQLRepository{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

func str(name, v string) sqlexec.Param {
	return sqlexec.Param{Name: name, Type: queryapi.TypeNVarChar, Value: v}
}

func num(name string, v int64) sqlexec.Param {
	return sqlexec.Param{Name: name, Type: queryapi.TypeBigInt, Value: v}
}

func stamp(name string, v time.Time) sqlexec.Param {
	return sqlexec.Param{Name: name, Type: queryapi.TypeDateTime, Value: v}
}

// Get loads one submission.
func (r *SQLRepository) Get(ctx context.Context, id int64) (Record, error) {
	const q = `SELECT Data_Submission_ID, Submitter_ID, Dataset, Dataset_Long_Name, Filename_Root, Phase_ID, QC1_Completion_Date_Time
FROM tblData_Submissions WHERE Data_Submission_ID = @id`
	rs, err := r.pool.Query(ctx, q, []sqlexec.Param{num("id", id)})
	if err != nil {
		return Record{}, fmt.Errorf("get submission %d: %w", id, err)
	}
	if len(rs.Rows) == 0 {
		return Record{}, fmt.Errorf("submission %d: %w", id, ErrNotFound)
	}
	row := rs.Rows[0]
	return Record{
		ID:           asInt64(row.Get("Data_Submission_ID")),
		SubmitterID:  int(asInt64(row.Get("Submitter_ID"))),
		ShortName:    asString(row.Get("Dataset")),
		LongName:     asString(row.Get("Dataset_Long_Name")),
		FileNameRoot: asString(row.Get("Filename_Root")),
		PhaseID:      int(asInt64(row.Get("Phase_ID"))),
		QC1Complete:  row.Get("QC1_Completion_Date_Time") != nil,
	}, nil
}

// LongNameInUse implements Repository.
func (r *SQLRepository) LongNameInUse(ctx context.Context, longName string, userID int, exclude int64) (bool, error) {
	const q = `SELECT COUNT(*) AS matches FROM (
  SELECT ID AS hit FROM tblDatasets WHERE LOWER(Dataset_Long_Name) = LOWER(@longName)
  UNION ALL
  SELECT Data_Submission_ID AS hit FROM tblData_Submissions
  WHERE LOWER(Dataset_Long_Name) = LOWER(@longName) AND Submitter_ID <> @userId AND Data_Submission_ID <> @exclude
) conflicts`
	return r.count(ctx, "long name", q, []sqlexec.Param{
		str("longName", longName),
		num("userId", int64(userID)),
		num("exclude", exclude),
	})
}

// ShortNameInUse implements Repository.
func (r *SQLRepository) ShortNameInUse(ctx context.Context, shortName string, exclude int64) (bool, error) {
	const q = `SELECT COUNT(*) AS matches FROM (
  SELECT ID AS hit FROM tblDatasets WHERE LOWER(Dataset_Name) = LOWER(@shortName)
  UNION ALL
  SELECT Data_Submission_ID AS hit FROM tblData_Submissions
  WHERE (LOWER(Dataset) = LOWER(@shortName) OR LOWER(Filename_Root) = LOWER(@shortName)) AND Data_Submission_ID <> @exclude
) conflicts`
	return r.count(ctx, "short name", q, []sqlexec.Param{
		str("shortName", shortName),
		num("exclude", exclude),
	})
}

func (r *SQLRepository) count(ctx context.Context, what, q string, params []sqlexec.Param) (bool, error) {
	rs, err := r.pool.Query(ctx, q, params)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", what, err)
	}
	if len(rs.Rows) == 0 {
		return false, nil
	}
	return asInt64(rs.Rows[0].Get("matches")) > 0, nil
}

// WithTx implements Repository. The transaction is rolled back unless fn
// and the commit both succeed.
func (r *SQLRepository) WithTx(ctx context.Context, fn func(TxRepository) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()
	if err := fn(&sqlTx{tx: tx, dialect: r.pool.Dialect(), now: r.now}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

type sqlTx struct {
	tx      sqlexec.Tx
	dialect sqlexec.Dialect
	now     func() time.Time
}

func (t *sqlTx) Insert(ctx context.Context, rec Record) (int64, error) {
	q := t.dialect.InsertReturning("tblData_Submissions", "Data_Submission_ID",
		[]string{"Submitter_ID", "Dataset", "Dataset_Long_Name", "Filename_Root", "Phase_ID", "Start_Date_Time"})
	rs, err := t.tx.Query(ctx, q, []sqlexec.Param{
		num("Submitter_ID", int64(rec.SubmitterID)),
		str("Dataset", rec.ShortName),
		str("Dataset_Long_Name", rec.LongName),
		str("Filename_Root", rec.FileNameRoot),
		num("Phase_ID", int64(rec.PhaseID)),
		stamp("Start_Date_Time", t.now()),
	})
	if err != nil {
		return 0, fmt.Errorf("insert submission: %w", err)
	}
	if len(rs.Rows) == 0 {
		return 0, fmt.Errorf("insert submission: no key returned")
	}
	return asInt64(rs.Rows[0].Get("Data_Submission_ID")), nil
}

func (t *sqlTx) Update(ctx context.Context, rec Record) error {
	q := `UPDATE tblData_Submissions
SET Dataset = @shortName, Dataset_Long_Name = @longName, Filename_Root = @root, Phase_ID = @phase, Last_Modified = ` + t.dialect.Now() + `
WHERE Data_Submission_ID = @id`
	n, err := t.tx.Exec(ctx, q, []sqlexec.Param{
		str("shortName", rec.ShortName),
		str("longName", rec.LongName),
		str("root", rec.FileNameRoot),
		num("phase", int64(rec.PhaseID)),
		num("id", rec.ID),
	})
	if err != nil {
		return fmt.Errorf("update submission %d: %w", rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update submission %d: %w", rec.ID, ErrNotFound)
	}
	return nil
}

func (t *sqlTx) AddFile(ctx context.Context, submissionID int64, oid string) error {
	q := `INSERT INTO tblData_Submission_Files (Data_Submission_ID, OID, Timestamp) VALUES (@id, @oid, ` + t.dialect.Now() + `)`
	if _, err := t.tx.Exec(ctx, q, []sqlexec.Param{num("id", submissionID), str("oid", oid)}); err != nil {
		return fmt.Errorf("insert submission file: %w", err)
	}
	return nil
}

func (t *sqlTx) Rename(ctx context.Context, submissionID int64, shortName string) error {
	q := `UPDATE tblData_Submissions SET Dataset = @shortName, Filename_Root = @shortName, Last_Modified = ` + t.dialect.Now() + `
WHERE Data_Submission_ID = @id`
	n, err := t.tx.Exec(ctx, q, []sqlexec.Param{str("shortName", shortName), num("id", submissionID)})
	if err != nil {
		return fmt.Errorf("rename submission %d: %w", submissionID, err)
	}
	if n == 0 {
		return fmt.Errorf("rename submission %d: %w", submissionID, ErrNotFound)
	}
	return nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case []byte:
		i, _ := strconv.ParseInt(string(n), 10, 64)
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
