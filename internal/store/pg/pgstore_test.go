package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"slotwise.org/internal/auth"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "email", "password_hash", "first_name", "last_name",
		"account_status", "is_email_verified", "is_mfa_enabled", "created_at", "updated_at",
	})
}

func TestGetUserNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select .* from users where id").WithArgs("missing").WillReturnRows(userRows())

	_, err := store.GetUser(context.Background(), "missing")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindUserByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("select .* from users where email").
		WithArgs("ada@example.com").
		WillReturnRows(userRows().AddRow(
			"u-1", "ada@example.com", "hash", "Ada", "Lovelace",
			auth.StatusActive, true, false, now, now,
		))

	user, err := store.FindUserByEmail(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("FindUserByEmail: %v", err)
	}
	if user.ID != "u-1" || user.Email != "ada@example.com" || !user.IsEmailVerified {
		t.Fatalf("unexpected user %+v", user)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListUsersCountsAndPaginates(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`select count\(\*\) from users where \(email ilike .* and account_status`).
		WithArgs("%ada%", auth.StatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(45))
	mock.ExpectQuery("select .* from users where .* order by email limit").
		WithArgs("%ada%", auth.StatusActive, 20, 40).
		WillReturnRows(userRows().AddRow(
			"u-41", "ada41@example.com", "hash", "", "",
			auth.StatusActive, true, false, now, now,
		))

	users, total, err := store.ListUsers(context.Background(), auth.UserFilter{
		Search:        "ada",
		AccountStatus: auth.StatusActive,
		Page:          3,
		PageSize:      20,
	})
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if total != 45 {
		t.Fatalf("total = %d, want 45", total)
	}
	if len(users) != 1 || users[0].ID != "u-41" {
		t.Fatalf("unexpected page %+v", users)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateUserBuildsPartialSet(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	status := auth.StatusSuspended
	mock.ExpectExec(`update users set account_status = \$1, updated_at = now\(\) where id = \$2`).
		WithArgs(status, "u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select .* from users where id").
		WithArgs("u-1").
		WillReturnRows(userRows().AddRow(
			"u-1", "ada@example.com", "hash", "", "",
			status, true, false, now, now,
		))

	user, err := store.UpdateUser(context.Background(), "u-1", auth.UserUpdate{AccountStatus: &status})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if user.AccountStatus != status {
		t.Fatalf("status = %q, want %q", user.AccountStatus, status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateUserNoFieldsSkipsWrite(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	// Only the reload runs when the update is empty.
	mock.ExpectQuery("select .* from users where id").
		WithArgs("u-1").
		WillReturnRows(userRows().AddRow(
			"u-1", "ada@example.com", "hash", "", "",
			auth.StatusActive, true, false, now, now,
		))

	if _, err := store.UpdateUser(context.Background(), "u-1", auth.UserUpdate{}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteUserNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("delete from users where id").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteUser(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetRolePermissionsReplacesSet(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from roles where id").
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("delete from role_permissions where role_id").
		WithArgs("r-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("select id from permissions where codename").
		WithArgs(auth.PermViewUsers).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("p-1"))
	mock.ExpectExec("insert into role_permissions").
		WithArgs("r-1", "p-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.SetRolePermissions(context.Background(), "r-1", []string{auth.PermViewUsers})
	if err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetRolePermissionsUnknownCodename(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from roles where id").
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("delete from role_permissions where role_id").
		WithArgs("r-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select id from permissions where codename").
		WithArgs("can_fly").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := store.SetRolePermissions(context.Background(), "r-1", []string{"can_fly"})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsumeOneTimeTokenAlreadyConsumed(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update one_time_tokens set consumed_at").
		WithArgs("t-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.ConsumeOneTimeToken(context.Background(), "t-1", time.Now().UTC())
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestExpireOverdueInvitations(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectExec("update invitations").
		WithArgs(auth.InvitationExpired, auth.InvitationPending, now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.ExpireOverdueInvitations(context.Background(), now)
	if err != nil {
		t.Fatalf("ExpireOverdueInvitations: %v", err)
	}
	if n != 3 {
		t.Fatalf("n = %d, want 3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSearchPatternEscapesMetacharacters(t *testing.T) {
	got := searchPattern(`50%_a\b`)
	want := `%50\%\_a\\b%`
	if got != want {
		t.Fatalf("searchPattern = %q, want %q", got, want)
	}
}
