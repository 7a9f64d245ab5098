package auth

// Permission codenames gating the admin surface.
const (
	PermViewUsers         = "can_view_users"
	PermManageUsers       = "can_manage_users"
	PermViewRoles         = "can_view_roles"
	PermManageRoles       = "can_manage_roles"
	PermViewPermissions   = "can_view_permissions"
	PermManagePermissions = "can_manage_permissions"
	PermViewInvitations   = "can_view_invitations"
	PermManageInvitations = "can_manage_invitations"
)

// BuiltinPermissions is the catalog ensured at startup. Category drives
// client-side grouping only.
var BuiltinPermissions = []Permission{
	{Codename: PermViewUsers, Name: "View users", Category: "users", Description: "List and inspect user accounts"},
	{Codename: PermManageUsers, Name: "Manage users", Category: "users", Description: "Create, update, delete users and their role assignments"},
	{Codename: PermViewRoles, Name: "View roles", Category: "roles", Description: "List and inspect roles"},
	{Codename: PermManageRoles, Name: "Manage roles", Category: "roles", Description: "Create, update and delete roles"},
	{Codename: PermViewPermissions, Name: "View permissions", Category: "permissions", Description: "List the permission catalog"},
	{Codename: PermManagePermissions, Name: "Manage permissions", Category: "permissions", Description: "Change the permissions attached to roles"},
	{Codename: PermViewInvitations, Name: "View invitations", Category: "invitations", Description: "List and inspect invitations"},
	{Codename: PermManageInvitations, Name: "Manage invitations", Category: "invitations", Description: "Create and revoke invitations"},
}
