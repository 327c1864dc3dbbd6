package submission

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSQLRepositoryLifecycle(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	repo := f.repo.Repository

	id := f.seed(t, owner.ID, "Root", false)
	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := Record{ID: id, SubmitterID: owner.ID, ShortName: "Root", LongName: "Root long", FileNameRoot: "Root", PhaseID: PhaseAwaitingQC1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}

	err = repo.WithTx(ctx, func(tx TxRepository) error {
		if err := tx.Update(ctx, Record{ID: id, ShortName: "Next", LongName: "Next long", FileNameRoot: "Next", PhaseID: PhaseAwaitingQC2}); err != nil {
			return err
		}
		return tx.AddFile(ctx, id, "Next.xlsx")
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = repo.Get(ctx, id)
	if got.FileNameRoot != "Next" || got.PhaseID != PhaseAwaitingQC2 || got.SubmitterID != owner.ID {
		t.Fatalf("unexpected record after update %+v", got)
	}
	if n := f.count(t, "tblData_Submission_Files"); n != 1 {
		t.Fatalf("expected one file row, got %d", n)
	}

	if err := repo.WithTx(ctx, func(tx TxRepository) error { return tx.Rename(ctx, id, "Third") }); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got, _ = repo.Get(ctx, id)
	if got.ShortName != "Third" || got.FileNameRoot != "Third" || got.LongName != "Next long" {
		t.Fatalf("unexpected record after rename %+v", got)
	}
}

func TestSQLRepositoryNotFound(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	repo := f.repo.Repository
	if _, err := repo.Get(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	err := repo.WithTx(ctx, func(tx TxRepository) error { return tx.Update(ctx, Record{ID: 42, ShortName: "x"}) })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from update, got %v", err)
	}
	err = repo.WithTx(ctx, func(tx TxRepository) error { return tx.Rename(ctx, 42, "x") })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from rename, got %v", err)
	}
}

func TestSQLRepositoryRollsBack(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	err := f.repo.Repository.WithTx(ctx, func(tx TxRepository) error {
		if _, err := tx.Insert(ctx, Record{SubmitterID: 1, ShortName: "Gone", LongName: "Gone", FileNameRoot: "Gone", PhaseID: 1}); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if n := f.count(t, "tblData_Submissions"); n != 0 {
		t.Fatalf("insert should have rolled back, got %d rows", n)
	}
}

func TestSQLRepositoryNameChecks(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	repo := f.repo.Repository
	f.seedDataset(t, "SST", "Sea Surface Temperature")
	mine := f.seed(t, owner.ID, "Chl", false)
	theirs := f.seed(t, other.ID, "Wind", false)

	cases := []struct {
		name string
		call func() (bool, error)
		want bool
	}{
		{"dataset short name", func() (bool, error) { return repo.ShortNameInUse(ctx, "sst", 0) }, true},
		{"submission short name", func() (bool, error) { return repo.ShortNameInUse(ctx, "CHL", theirs) }, true},
		{"own short name excluded", func() (bool, error) { return repo.ShortNameInUse(ctx, "chl", mine) }, false},
		{"free short name", func() (bool, error) { return repo.ShortNameInUse(ctx, "Ice", 0) }, false},
		{"dataset long name", func() (bool, error) { return repo.LongNameInUse(ctx, "sea surface temperature", owner.ID, 0) }, true},
		{"other user's long name", func() (bool, error) { return repo.LongNameInUse(ctx, "wind LONG", owner.ID, 0) }, true},
		{"own long name", func() (bool, error) { return repo.LongNameInUse(ctx, "Chl long", owner.ID, 0) }, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.call()
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}
