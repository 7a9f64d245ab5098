package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"slotwise.org/internal/auth"
	"slotwise.org/internal/page"
)

type listResponse struct {
	Items       any   `json:"items"`
	Page        int   `json:"page"`
	PageSize    int   `json:"page_size"`
	Total       int64 `json:"total"`
	TotalPages  int   `json:"total_pages"`
	HasNext     bool  `json:"has_next"`
	HasPrevious bool  `json:"has_previous"`
}

func listEnvelope(items any, p page.Pagination) listResponse {
	return listResponse{
		Items:       items,
		Page:        p.Page,
		PageSize:    p.PageSize,
		Total:       p.Total,
		TotalPages:  p.TotalPages,
		HasNext:     p.HasNext(),
		HasPrevious: p.HasPrevious(),
	}
}

// pagingParams reads page and page_size from the query string. Absent values
// take the defaults; malformed or out-of-range values are an error.
func pagingParams(r *http.Request) (int, int, error) {
	pageNum := 1
	pageSize := auth.DefaultPageSize
	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return 0, 0, errBadPage
		}
		pageNum = v
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("page_size")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > auth.MaxPageSize {
			return 0, 0, errBadPageSize
		}
		pageSize = v
	}
	return pageNum, pageSize, nil
}

var (
	errBadPage     = &paramError{"page must be a positive integer"}
	errBadPageSize = &paramError{"page_size must be between 1 and 100"}
)

type paramError struct{ msg string }

func (e *paramError) Error() string { return e.msg }

// --- users ---

type createUserRequest struct {
	Email         string   `json:"email"`
	Password      string   `json:"password"`
	FirstName     string   `json:"first_name"`
	LastName      string   `json:"last_name"`
	AccountStatus string   `json:"account_status"`
	RoleIDs       []string `json:"role_ids"`
}

type updateUserRequest struct {
	Email         *string `json:"email"`
	FirstName     *string `json:"first_name"`
	LastName      *string `json:"last_name"`
	AccountStatus *string `json:"account_status"`
	IsMFAEnabled  *bool   `json:"is_mfa_enabled"`
}

type roleAssignmentRequest struct {
	RoleID string `json:"role_id"`
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !ensurePermission(w, r, auth.PermViewUsers) {
			return
		}
		a.listUsers(w, r)
	case http.MethodPost:
		if !ensurePermission(w, r, auth.PermManageUsers) {
			return
		}
		a.createUser(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	if rest == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/roles"); ok {
		a.handleUserRoles(w, r, id)
		return
	}
	if strings.Contains(rest, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !ensurePermission(w, r, auth.PermViewUsers) {
			return
		}
		user, err := a.dir.GetUser(r.Context(), rest)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		if !ensurePermission(w, r, auth.PermManageUsers) {
			return
		}
		a.updateUser(w, r, rest)
	case http.MethodDelete:
		if !ensurePermission(w, r, auth.PermManageUsers) {
			return
		}
		if err := a.dir.DeleteUser(r.Context(), rest); err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "directory.user.delete", map[string]any{"user_id": rest})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	pageNum, pageSize, err := pagingParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	filter := auth.UserFilter{
		Search:        strings.TrimSpace(r.URL.Query().Get("search")),
		AccountStatus: strings.TrimSpace(r.URL.Query().Get("account_status")),
		Page:          pageNum,
		PageSize:      pageSize,
	}
	users, total, err := a.dir.ListUsers(r.Context(), filter)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if users == nil {
		users = []auth.User{}
	}
	writeJSON(w, http.StatusOK, listEnvelope(users, page.New(pageNum, pageSize, total)))
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	fields := map[string]string{}
	if email := strings.TrimSpace(req.Email); email == "" || !strings.Contains(email, "@") {
		fields["email"] = "a valid email is required"
	}
	if strength := auth.PasswordStrength(req.Password); strength.Score < auth.MinRegistrationScore {
		fields["password"] = "password too weak: " + strings.Join(strength.Feedback, ", ")
	}
	if len(fields) > 0 {
		writeFieldErrors(w, r, fields)
		return
	}

	user, err := a.dir.CreateUser(r.Context(), auth.CreateUserInput{
		Email:         req.Email,
		Password:      req.Password,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		AccountStatus: strings.TrimSpace(req.AccountStatus),
		RoleIDs:       req.RoleIDs,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.audit(r.Context(), "directory.user.create", map[string]any{"user_id": user.ID})
	w.Header().Set("Location", "/v1/users/"+user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request, id string) {
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.dir.UpdateUser(r.Context(), id, auth.UserUpdate{
		Email:         req.Email,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		AccountStatus: req.AccountStatus,
		IsMFAEnabled:  req.IsMFAEnabled,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "directory.user.update", map[string]any{"user_id": id})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
		return
	}
	if !ensurePermission(w, r, auth.PermManageUsers) {
		return
	}
	var req roleAssignmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	switch r.Method {
	case http.MethodPost:
		if err := a.dir.AssignRole(r.Context(), userID, req.RoleID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "directory.user.role_assign", map[string]any{"user_id": userID, "role_id": req.RoleID})
	case http.MethodDelete:
		if err := a.dir.RemoveRole(r.Context(), userID, req.RoleID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "directory.user.role_remove", map[string]any{"user_id": userID, "role_id": req.RoleID})
	}

	user, err := a.dir.GetUser(r.Context(), userID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// --- roles ---

type createRoleRequest struct {
	Name        string `json:"name"`
	Codename    string `json:"codename"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Parent      string `json:"parent"`
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Category    *string `json:"category"`
	Description *string `json:"description"`
	Parent      *string `json:"parent"`
}

type rolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !ensurePermission(w, r, auth.PermViewRoles) {
			return
		}
		a.listRoles(w, r)
	case http.MethodPost:
		if !ensurePermission(w, r, auth.PermManageRoles) {
			return
		}
		a.createRole(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/roles/")
	if rest == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/permissions"); ok {
		a.handleRolePermissions(w, r, id)
		return
	}
	if strings.Contains(rest, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !ensurePermission(w, r, auth.PermViewRoles) {
			return
		}
		role, err := a.dir.GetRole(r.Context(), rest)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		perms, err := a.dir.RolePermissions(r.Context(), rest)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		if perms == nil {
			perms = []auth.Permission{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"role":        role,
			"permissions": perms,
		})
	case http.MethodPatch:
		if !ensurePermission(w, r, auth.PermManageRoles) {
			return
		}
		a.updateRole(w, r, rest)
	case http.MethodDelete:
		if !ensurePermission(w, r, auth.PermManageRoles) {
			return
		}
		if err := a.dir.DeleteRole(r.Context(), rest); err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "directory.role.delete", map[string]any{"role_id": rest})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	pageNum, pageSize, err := pagingParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	roles, total, err := a.dir.ListRoles(r.Context(), auth.RoleFilter{
		Search:   strings.TrimSpace(r.URL.Query().Get("search")),
		Page:     pageNum,
		PageSize: pageSize,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	writeJSON(w, http.StatusOK, listEnvelope(roles, page.New(pageNum, pageSize, total)))
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.dir.CreateRole(r.Context(), auth.NewRole{
		Name:        req.Name,
		Codename:    req.Codename,
		Category:    req.Category,
		Description: req.Description,
		Parent:      req.Parent,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "directory.role.create", map[string]any{"role_id": role.ID})
	w.Header().Set("Location", "/v1/roles/"+role.ID)
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request, id string) {
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.dir.UpdateRole(r.Context(), id, auth.RoleUpdate{
		Name:        req.Name,
		Category:    req.Category,
		Description: req.Description,
		Parent:      req.Parent,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "directory.role.update", map[string]any{"role_id": id})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !ensurePermission(w, r, auth.PermManagePermissions) {
		return
	}
	var req rolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perms, err := a.dir.SetRolePermissions(r.Context(), roleID, req.Permissions)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if perms == nil {
		perms = []auth.Permission{}
	}
	a.audit(r.Context(), "directory.role.permissions_set", map[string]any{
		"role_id": roleID,
		"count":   len(perms),
	})
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

// --- permissions ---

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !ensurePermission(w, r, auth.PermViewPermissions) {
		return
	}
	perms, err := a.dir.ListPermissions(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if perms == nil {
		perms = []auth.Permission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": perms})
}

// --- invitations ---

type createInvitationRequest struct {
	Email   string `json:"email"`
	RoleID  string `json:"role_id"`
	Message string `json:"message"`
}

type acceptInvitationRequest struct {
	Token     string `json:"token"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (a *API) handleInvitationsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !ensurePermission(w, r, auth.PermViewInvitations) {
			return
		}
		a.listInvitations(w, r)
	case http.MethodPost:
		if !ensurePermission(w, r, auth.PermManageInvitations) {
			return
		}
		a.createInvitation(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleInvitationResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/invitations/")
	switch rest {
	case "accept":
		a.acceptInvitation(w, r)
		return
	case "decline":
		a.declineInvitation(w, r)
		return
	}
	if rest == "" || strings.Contains(rest, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !ensurePermission(w, r, auth.PermViewInvitations) {
			return
		}
		inv, err := a.dir.GetInvitation(r.Context(), rest)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	case http.MethodDelete:
		if !ensurePermission(w, r, auth.PermManageInvitations) {
			return
		}
		if err := a.dir.DeleteInvitation(r.Context(), rest); err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "directory.invitation.revoke", map[string]any{"invitation_id": rest})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) listInvitations(w http.ResponseWriter, r *http.Request) {
	pageNum, pageSize, err := pagingParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	invs, total, err := a.dir.ListInvitations(r.Context(), auth.InvitationFilter{
		Search:   strings.TrimSpace(r.URL.Query().Get("search")),
		Status:   strings.TrimSpace(r.URL.Query().Get("status")),
		Page:     pageNum,
		PageSize: pageSize,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if invs == nil {
		invs = []auth.Invitation{}
	}
	writeJSON(w, http.StatusOK, listEnvelope(invs, page.New(pageNum, pageSize, total)))
}

func (a *API) createInvitation(w http.ResponseWriter, r *http.Request) {
	var req createInvitationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	invitedBy := ""
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok {
		invitedBy = principal.User.ID
	}
	inv, token, err := a.dir.CreateInvitation(r.Context(), invitedBy, req.Email, req.RoleID, req.Message)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "directory.invitation.create", map[string]any{
		"invitation_id": inv.ID,
		"role_id":       inv.RoleID,
	})
	w.Header().Set("Location", "/v1/invitations/"+inv.ID)
	// The raw token appears exactly once, in this response.
	writeJSON(w, http.StatusCreated, map[string]any{
		"invitation": inv,
		"token":      token,
	})
}

func (a *API) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req acceptInvitationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strength := auth.PasswordStrength(req.Password); strength.Score < auth.MinRegistrationScore {
		writeFieldErrors(w, r, map[string]string{
			"password": "password too weak: " + strings.Join(strength.Feedback, ", "),
		})
		return
	}
	user, err := a.dir.AcceptInvitation(r.Context(), req.Token, req.Password, req.FirstName, req.LastName)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "directory.invitation.accept", map[string]any{"user_id": user.ID})
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) declineInvitation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.dir.DeclineInvitation(r.Context(), req.Token); err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "directory.invitation.decline", nil)
	w.WriteHeader(http.StatusNoContent)
}
