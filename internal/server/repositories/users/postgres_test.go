package users

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/securemail/internal/common"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var userColumns = []string{"id", "email", "first_name", "last_name", "middle_name"}

const (
	qByID    = `(?s)^SELECT\s+id,\s*email,\s*first_name,\s*last_name,\s*middle_name\s+FROM\s+users\s+WHERE\s+id\s*=\s*\$1\s*$`
	qByEmail = `(?s)^SELECT\s+id,\s*email,\s*first_name,\s*last_name,\s*middle_name\s+FROM\s+users\s+WHERE\s+lower\(email\)\s*=\s*lower\(\$1\)\s*$`
)

func TestGetByID_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qByID).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow("u-1", "anna@firm.test", "Anna", "Petrova", ""))

	got, err := repo.GetByID(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if got.ID != "u-1" || got.Email != "anna@firm.test" || got.LastName != "Petrova" {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qByID).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestGetByEmail_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qByEmail).
		WithArgs("Anna@Firm.test").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow("u-1", "anna@firm.test", "Anna", "Petrova", "I."))

	got, err := repo.GetByEmail(context.Background(), "Anna@Firm.test")
	if err != nil {
		t.Fatalf("GetByEmail error: %v", err)
	}
	if got.ID != "u-1" || got.MiddleName != "I." {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestGetByEmail_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qByEmail).WithArgs("a@b").WillReturnError(errors.New("db err"))

	_, err := repo.GetByEmail(context.Background(), "a@b")
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}
