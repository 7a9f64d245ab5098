package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestDirectory(t *testing.T, opts ...DirectoryOption) (*Directory, *InMemory) {
	t.Helper()
	store := NewInMemory()
	if err := store.EnsurePermissions(context.Background(), BuiltinPermissions); err != nil {
		t.Fatalf("EnsurePermissions: %v", err)
	}
	dir, err := NewDirectory(store, opts...)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	return dir, store
}

func mustCreateRole(t *testing.T, dir *Directory, name, codename string) Role {
	t.Helper()
	role, err := dir.CreateRole(context.Background(), NewRole{Name: name, Codename: codename})
	if err != nil {
		t.Fatalf("CreateRole(%s): %v", codename, err)
	}
	return role
}

func TestCreateRoleValidation(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()

	cases := map[string]NewRole{
		"empty name":       {Name: "", Codename: "staff"},
		"empty codename":   {Name: "Staff", Codename: ""},
		"uppercase":        {Name: "Staff", Codename: "Staff"},
		"leading digit":    {Name: "Staff", Codename: "1staff"},
		"spaces":           {Name: "Staff", Codename: "front desk"},
		"hyphen":           {Name: "Staff", Codename: "front-desk"},
		"single character": {Name: "Staff", Codename: "s"},
		"overlong name":    {Name: string(make([]byte, maxNameLen+1)), Codename: "staff"},
		"missing parent":   {Name: "Staff", Codename: "staff", Parent: "nope"},
	}
	for label, nr := range cases {
		if _, err := dir.CreateRole(ctx, nr); err == nil {
			t.Errorf("%s: expected error", label)
		}
	}

	role := mustCreateRole(t, dir, "Front desk", "front_desk")
	if role.Codename != "front_desk" {
		t.Fatalf("unexpected codename %q", role.Codename)
	}
	if _, err := dir.CreateRole(ctx, NewRole{Name: "Other", Codename: "front_desk"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate codename, got %v", err)
	}
}

func TestUpdateRoleRejectsSelfParent(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()
	role := mustCreateRole(t, dir, "Manager", "manager")

	parent := role.ID
	if _, err := dir.UpdateRole(ctx, role.ID, RoleUpdate{Parent: &parent}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for self parent, got %v", err)
	}

	other := mustCreateRole(t, dir, "Admin", "admin")
	parent = other.ID
	updated, err := dir.UpdateRole(ctx, role.ID, RoleUpdate{Parent: &parent})
	if err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if updated.Parent != other.ID {
		t.Fatalf("parent not stored, got %q", updated.Parent)
	}
}

func TestSetRolePermissions(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()
	role := mustCreateRole(t, dir, "Viewer", "viewer")

	if _, err := dir.SetRolePermissions(ctx, role.ID, []string{"can_fly"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown codename, got %v", err)
	}

	perms, err := dir.SetRolePermissions(ctx, role.ID, []string{PermViewUsers, PermViewRoles, PermViewUsers})
	if err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("expected duplicate collapsed to 2 permissions, got %d", len(perms))
	}

	// Replacing with an empty set clears everything.
	perms, err = dir.SetRolePermissions(ctx, role.ID, nil)
	if err != nil {
		t.Fatalf("SetRolePermissions(empty): %v", err)
	}
	if len(perms) != 0 {
		t.Fatalf("expected no permissions, got %d", len(perms))
	}
}

func TestCreateUserAssignsRoles(t *testing.T) {
	dir, store := newTestDirectory(t)
	ctx := context.Background()
	role := mustCreateRole(t, dir, "Staff", "staff")
	if _, err := dir.SetRolePermissions(ctx, role.ID, []string{PermViewUsers}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}

	user, err := dir.CreateUser(ctx, CreateUserInput{
		Email:    "staff@example.com",
		Password: "Sup3r-secret!",
		RoleIDs:  []string{role.ID},
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.AccountStatus != StatusActive {
		t.Fatalf("expected default active status, got %q", user.AccountStatus)
	}
	if len(user.Roles) != 1 || user.Roles[0].ID != role.ID {
		t.Fatalf("expected assigned role on response, got %+v", user.Roles)
	}
	perms, err := store.UserPermissions(ctx, user.ID)
	if err != nil {
		t.Fatalf("UserPermissions: %v", err)
	}
	if len(perms) != 1 || perms[0] != PermViewUsers {
		t.Fatalf("expected inherited permission, got %v", perms)
	}
}

func TestListUsersClampsPaging(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		if _, err := dir.CreateUser(ctx, CreateUserInput{Email: email, Password: "Sup3r-secret!"}); err != nil {
			t.Fatalf("CreateUser(%s): %v", email, err)
		}
	}

	users, total, err := dir.ListUsers(ctx, UserFilter{Page: -5, PageSize: 2})
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if total != 3 || len(users) != 2 {
		t.Fatalf("expected total 3 and 2 items, got total %d items %d", total, len(users))
	}

	if _, _, err := dir.ListUsers(ctx, UserFilter{AccountStatus: "bogus"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bogus status, got %v", err)
	}
}

func TestInvitationLifecycle(t *testing.T) {
	mailer := &captureMailer{}
	dir, _ := newTestDirectory(t, WithDirectoryMailer(mailer))
	ctx := context.Background()
	role := mustCreateRole(t, dir, "Staff", "staff")

	inv, raw, err := dir.CreateInvitation(ctx, "admin-1", "new@example.com", role.ID, "welcome aboard")
	if err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}
	if inv.Status != InvitationPending {
		t.Fatalf("expected pending invitation, got %q", inv.Status)
	}
	mail, ok := mailer.last()
	if !ok || mail.Template != "invitation" || mail.Vars["token"] != raw {
		t.Fatalf("expected invitation mail carrying the token, got %+v", mail)
	}

	user, err := dir.AcceptInvitation(ctx, raw, "Sup3r-secret!", "New", "Hire")
	if err != nil {
		t.Fatalf("AcceptInvitation: %v", err)
	}
	if user.AccountStatus != StatusActive || !user.IsEmailVerified {
		t.Fatalf("accepted user should be active and verified, got %+v", user)
	}
	if len(user.Roles) != 1 || user.Roles[0].ID != role.ID {
		t.Fatalf("expected invited role assigned, got %+v", user.Roles)
	}

	got, err := dir.GetInvitation(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvitation: %v", err)
	}
	if got.Status != InvitationAccepted {
		t.Fatalf("expected accepted, got %q", got.Status)
	}

	// The token is spent.
	if _, err := dir.AcceptInvitation(ctx, raw, "Sup3r-secret!", "", ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on reuse, got %v", err)
	}
}

func TestDeclineInvitation(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()
	role := mustCreateRole(t, dir, "Staff", "staff")

	inv, raw, err := dir.CreateInvitation(ctx, "", "no-thanks@example.com", role.ID, "")
	if err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}
	if err := dir.DeclineInvitation(ctx, raw); err != nil {
		t.Fatalf("DeclineInvitation: %v", err)
	}
	got, err := dir.GetInvitation(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvitation: %v", err)
	}
	if got.Status != InvitationDeclined {
		t.Fatalf("expected declined, got %q", got.Status)
	}
	// Declined invitations cannot be accepted afterwards.
	if _, err := dir.AcceptInvitation(ctx, raw, "Sup3r-secret!", "", ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestInvitationForExistingEmailConflicts(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()
	role := mustCreateRole(t, dir, "Staff", "staff")
	if _, err := dir.CreateUser(ctx, CreateUserInput{Email: "taken@example.com", Password: "Sup3r-secret!"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, _, err := dir.CreateInvitation(ctx, "", "taken@example.com", role.ID, ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestExpireOverdueInvitations(t *testing.T) {
	current := time.Now()
	dir, _ := newTestDirectory(t,
		WithDirectoryClock(func() time.Time { return current }),
		WithInvitationTTL(24*time.Hour),
	)
	ctx := context.Background()
	role := mustCreateRole(t, dir, "Staff", "staff")

	inv, raw, err := dir.CreateInvitation(ctx, "", "late@example.com", role.ID, "")
	if err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}

	current = current.Add(25 * time.Hour)
	n, err := dir.ExpireOverdueInvitations(ctx)
	if err != nil {
		t.Fatalf("ExpireOverdueInvitations: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired invitation, got %d", n)
	}
	got, err := dir.GetInvitation(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvitation: %v", err)
	}
	if got.Status != InvitationExpired {
		t.Fatalf("expected expired, got %q", got.Status)
	}
	if _, err := dir.AcceptInvitation(ctx, raw, "Sup3r-secret!", "", ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired invitation, got %v", err)
	}
}

func TestChangeEventsFire(t *testing.T) {
	var events []ChangeEvent
	dir, _ := newTestDirectory(t, WithChangeListener(func(e ChangeEvent) {
		events = append(events, e)
	}))
	ctx := context.Background()

	role := mustCreateRole(t, dir, "Staff", "staff")
	if err := dir.DeleteRole(ctx, role.ID); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Resource != "roles" || events[0].Action != "created" {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if events[1].Action != "deleted" || events[1].ID != role.ID {
		t.Fatalf("unexpected second event %+v", events[1])
	}
}

func TestListUsersSearchMatchesNames(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()

	if _, err := dir.CreateUser(ctx, CreateUserInput{
		Email: "ayan@example.com", Password: testPassword,
		FirstName: "Ayan", LastName: "Serik",
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := dir.CreateUser(ctx, CreateUserInput{
		Email: "dana@example.com", Password: testPassword,
		FirstName: "Dana", LastName: "Omar",
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	// Search covers email, first name and last name, case insensitive.
	for _, search := range []string{"ayan@", "Ayan", "serik"} {
		users, total, err := dir.ListUsers(ctx, UserFilter{Search: search})
		if err != nil {
			t.Fatalf("ListUsers(%q): %v", search, err)
		}
		if total != 1 || len(users) != 1 || users[0].Email != "ayan@example.com" {
			t.Fatalf("search %q: expected a single match, got total=%d", search, total)
		}
	}
}
