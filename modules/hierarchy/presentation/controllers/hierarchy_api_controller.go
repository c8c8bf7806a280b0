package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/access"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/tree"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/services"
	"github.com/iota-uz/iota-hierarchy/pkg/composables"
	"github.com/iota-uz/iota-hierarchy/pkg/middleware"
	"github.com/iota-uz/iota-hierarchy/pkg/server"
)

type TreeAPI interface {
	CreateHierarchy(ctx context.Context, tenantID uuid.UUID, in services.CreateHierarchyInput) (tree.Hierarchy, error)
	GetHierarchy(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Hierarchy, error)
	ListHierarchies(ctx context.Context, tenantID uuid.UUID) ([]tree.Hierarchy, error)
	CreateNode(ctx context.Context, tenantID uuid.UUID, in services.CreateNodeInput) (tree.Node, error)
	GetNode(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Node, error)
	ListNodes(ctx context.Context, tenantID uuid.UUID, hierarchyID uuid.UUID) ([]tree.Node, error)
	GetChildren(ctx context.Context, tenantID uuid.UUID, nodeID uuid.UUID, activeOnly bool) ([]tree.Node, error)
	GetAncestors(ctx context.Context, tenantID uuid.UUID, nodeID uuid.UUID) ([]tree.Node, error)
	GetDescendants(ctx context.Context, tenantID uuid.UUID, nodeID uuid.UUID, maxDepth int) ([]tree.Node, error)
	GetPath(ctx context.Context, tenantID uuid.UUID, nodeID uuid.UUID) ([]tree.Node, error)
	Reparent(ctx context.Context, tenantID uuid.UUID, nodeID uuid.UUID, in services.ReparentInput) (tree.Node, error)
	ValidatePosition(ctx context.Context, tenantID uuid.UUID, nodeID uuid.UUID) ([]services.Finding, error)
	DeactivateNode(ctx context.Context, tenantID uuid.UUID, nodeID uuid.UUID) (tree.Node, error)
	ClaimNode(ctx context.Context, tenantID uuid.UUID, nodeID, userID uuid.UUID) (tree.Node, error)
	ReleaseNode(ctx context.Context, tenantID uuid.UUID, nodeID, userID uuid.UUID) (tree.Node, error)
}

type RelationshipAPI interface {
	CreateRelationship(ctx context.Context, tenantID uuid.UUID, in services.CreateRelationshipInput) (tree.Relationship, error)
	BulkCreateRelationships(ctx context.Context, tenantID uuid.UUID, in []services.CreateRelationshipInput) ([]tree.Relationship, error)
	RemoveRelationship(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Relationship, error)
	GetRelationship(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Relationship, error)
	ListRelationships(ctx context.Context, tenantID uuid.UUID, hierarchyID uuid.UUID) ([]tree.Relationship, error)
	ValidateHierarchyIntegrity(ctx context.Context, tenantID uuid.UUID, hierarchyID uuid.UUID) ([]services.Finding, error)
}

type RoleAPI interface {
	CreateRole(ctx context.Context, tenantID uuid.UUID, in services.CreateRoleInput) (access.Role, error)
	GetRole(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (access.Role, error)
	ListRoles(ctx context.Context, tenantID uuid.UUID) ([]access.Role, error)
	UpdateRole(ctx context.Context, tenantID uuid.UUID, id uuid.UUID, in services.UpdateRoleInput) (access.Role, error)
	ActivateRole(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (access.Role, error)
	BulkActivateRoles(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]access.Role, error)
	DeactivateRole(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (access.Role, error)
	CloneRole(ctx context.Context, tenantID uuid.UUID, id uuid.UUID, newName string) (access.Role, error)
	GrantPermission(ctx context.Context, tenantID uuid.UUID, roleID uuid.UUID, in services.PermissionInput) (access.Permission, error)
	RevokePermission(ctx context.Context, tenantID uuid.UUID, permissionID uuid.UUID) (access.Permission, error)
}

type PermissionAPI interface {
	GetPermissions(ctx context.Context, tenantID uuid.UUID, roleID uuid.UUID, f access.Filter) ([]access.Permission, error)
	HasPermission(ctx context.Context, tenantID uuid.UUID, roleID uuid.UUID, action, resourceType string, f access.Filter) (bool, error)
	GetEffectivePermissions(ctx context.Context, tenantID uuid.UUID, roleID uuid.UUID, f access.Filter) (map[string]access.Permission, error)
}

type HierarchyAPIController struct {
	tree         TreeAPI
	rels         RelationshipAPI
	roles        RoleAPI
	resolver     PermissionAPI
	tenantHeader string
	apiPrefix    string
}

func NewHierarchyAPIController(treeSvc TreeAPI, rels RelationshipAPI, roles RoleAPI, resolver PermissionAPI, tenantHeader string) server.Controller {
	return &HierarchyAPIController{
		tree:         treeSvc,
		rels:         rels,
		roles:        roles,
		resolver:     resolver,
		tenantHeader: tenantHeader,
		apiPrefix:    "/hierarchy/api",
	}
}

func (c *HierarchyAPIController) Key() string {
	return c.apiPrefix
}

func (c *HierarchyAPIController) Register(r *mux.Router) {
	api := r.PathPrefix(c.apiPrefix).Subrouter()
	api.Use(
		middleware.RequireTenantHeader(c.tenantHeader),
		withAPIMetrics,
	)

	api.HandleFunc("/hierarchies", c.CreateHierarchy).Methods(http.MethodPost)
	api.HandleFunc("/hierarchies", c.ListHierarchies).Methods(http.MethodGet)
	api.HandleFunc("/hierarchies/{id}", c.GetHierarchy).Methods(http.MethodGet)
	api.HandleFunc("/hierarchies/{id}/nodes", c.ListNodes).Methods(http.MethodGet)
	api.HandleFunc("/hierarchies/{id}/relationships", c.ListRelationships).Methods(http.MethodGet)
	api.HandleFunc("/hierarchies/{id}/integrity", c.ValidateIntegrity).Methods(http.MethodGet)

	api.HandleFunc("/nodes", c.CreateNode).Methods(http.MethodPost)
	api.HandleFunc("/nodes/{id}", c.GetNode).Methods(http.MethodGet)
	api.HandleFunc("/nodes/{id}/children", c.GetChildren).Methods(http.MethodGet)
	api.HandleFunc("/nodes/{id}/ancestors", c.GetAncestors).Methods(http.MethodGet)
	api.HandleFunc("/nodes/{id}/descendants", c.GetDescendants).Methods(http.MethodGet)
	api.HandleFunc("/nodes/{id}/path", c.GetPath).Methods(http.MethodGet)
	api.HandleFunc("/nodes/{id}/position", c.ValidatePosition).Methods(http.MethodGet)
	api.HandleFunc("/nodes/{id}:reparent", c.Reparent).Methods(http.MethodPost)
	api.HandleFunc("/nodes/{id}:deactivate", c.DeactivateNode).Methods(http.MethodPost)
	api.HandleFunc("/nodes/{id}:claim", c.ClaimNode).Methods(http.MethodPost)
	api.HandleFunc("/nodes/{id}:release", c.ReleaseNode).Methods(http.MethodPost)

	api.HandleFunc("/relationships", c.CreateRelationship).Methods(http.MethodPost)
	api.HandleFunc("/relationships:bulk", c.BulkCreateRelationships).Methods(http.MethodPost)
	api.HandleFunc("/relationships/{id}", c.GetRelationship).Methods(http.MethodGet)
	api.HandleFunc("/relationships/{id}", c.RemoveRelationship).Methods(http.MethodDelete)

	api.HandleFunc("/roles", c.CreateRole).Methods(http.MethodPost)
	api.HandleFunc("/roles", c.ListRoles).Methods(http.MethodGet)
	api.HandleFunc("/roles:bulk-activate", c.BulkActivateRoles).Methods(http.MethodPost)
	api.HandleFunc("/roles/{id}", c.GetRole).Methods(http.MethodGet)
	api.HandleFunc("/roles/{id}", c.UpdateRole).Methods(http.MethodPatch)
	api.HandleFunc("/roles/{id}:activate", c.ActivateRole).Methods(http.MethodPost)
	api.HandleFunc("/roles/{id}:deactivate", c.DeactivateRole).Methods(http.MethodPost)
	api.HandleFunc("/roles/{id}:clone", c.CloneRole).Methods(http.MethodPost)
	api.HandleFunc("/roles/{id}/permissions", c.GrantPermission).Methods(http.MethodPost)
	api.HandleFunc("/roles/{id}/permissions", c.GetPermissions).Methods(http.MethodGet)
	api.HandleFunc("/roles/{id}/effective-permissions", c.GetEffectivePermissions).Methods(http.MethodGet)
	api.HandleFunc("/roles/{id}/check", c.HasPermission).Methods(http.MethodGet)
	api.HandleFunc("/permissions/{id}", c.RevokePermission).Methods(http.MethodDelete)
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

type findingsResponse struct {
	Findings []services.Finding `json:"findings"`
	Count    int                `json:"count"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items}
}

func newFindings(findings []services.Finding) findingsResponse {
	if findings == nil {
		findings = []services.Finding{}
	}
	return findingsResponse{Findings: findings, Count: len(findings)}
}

// requestScope returns the tenant bound by RequireTenantHeader and the request id.
func requestScope(r *http.Request) (uuid.UUID, string) {
	tenantID, _ := composables.UseTenantID(r.Context())
	return tenantID, composables.UseRequestID(r.Context())
}

func pathID(w http.ResponseWriter, r *http.Request, requestID string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, services.CodeInvalidBody, "id is not a valid uuid")
		return uuid.Nil, false
	}
	return id, true
}

func parseFilter(r *http.Request) (access.Filter, error) {
	q := r.URL.Query()
	f := access.Filter{
		ResourceType: strings.TrimSpace(q.Get("resource_type")),
		Action:       strings.TrimSpace(q.Get("action")),
	}
	if raw := strings.TrimSpace(q.Get("node_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return access.Filter{}, err
		}
		f.NodeID = &id
	}
	return f, nil
}

func (c *HierarchyAPIController) CreateHierarchy(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	var req services.CreateHierarchyInput
	if !decodeBody(w, r, requestID, &req) {
		return
	}
	h, err := c.tree.CreateHierarchy(r.Context(), tenantID, req)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

func (c *HierarchyAPIController) ListHierarchies(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	out, err := c.tree.ListHierarchies(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(out))
}

func (c *HierarchyAPIController) GetHierarchy(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	h, err := c.tree.GetHierarchy(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (c *HierarchyAPIController) ListNodes(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	out, err := c.tree.ListNodes(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(out))
}

func (c *HierarchyAPIController) ListRelationships(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	out, err := c.rels.ListRelationships(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(out))
}

func (c *HierarchyAPIController) ValidateIntegrity(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	findings, err := c.rels.ValidateHierarchyIntegrity(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, newFindings(findings))
}

func (c *HierarchyAPIController) CreateNode(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	var req services.CreateNodeInput
	if !decodeBody(w, r, requestID, &req) {
		return
	}
	n, err := c.tree.CreateNode(r.Context(), tenantID, req)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (c *HierarchyAPIController) GetNode(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	n, err := c.tree.GetNode(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (c *HierarchyAPIController) GetChildren(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	activeOnly := true
	if raw := r.URL.Query().Get("active_only"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, requestID, services.CodeInvalidBody, "active_only must be a boolean")
			return
		}
		activeOnly = v
	}
	out, err := c.tree.GetChildren(r.Context(), tenantID, id, activeOnly)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(out))
}

func (c *HierarchyAPIController) GetAncestors(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	out, err := c.tree.GetAncestors(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(out))
}

func (c *HierarchyAPIController) GetDescendants(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	maxDepth := 0
	if raw := r.URL.Query().Get("max_depth"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, requestID, services.CodeInvalidBody, "max_depth must be an integer")
			return
		}
		maxDepth = v
	}
	out, err := c.tree.GetDescendants(r.Context(), tenantID, id, maxDepth)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(out))
}

func (c *HierarchyAPIController) GetPath(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	out, err := c.tree.GetPath(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(out))
}

func (c *HierarchyAPIController) ValidatePosition(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	findings, err := c.tree.ValidatePosition(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, newFindings(findings))
}

func (c *HierarchyAPIController) Reparent(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	var req services.ReparentInput
	if !decodeBody(w, r, requestID, &req) {
		return
	}
	n, err := c.tree.Reparent(r.Context(), tenantID, id, req)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (c *HierarchyAPIController) DeactivateNode(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	n, err := c.tree.DeactivateNode(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

type claimRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

func (c *HierarchyAPIController) ClaimNode(w http.ResponseWriter, r *http.Request) {
	c.claim(w, r, c.tree.ClaimNode)
}

func (c *HierarchyAPIController) ReleaseNode(w http.ResponseWriter, r *http.Request) {
	c.claim(w, r, c.tree.ReleaseNode)
}

func (c *HierarchyAPIController) claim(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, tenantID uuid.UUID, nodeID, userID uuid.UUID) (tree.Node, error),
) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	var req claimRequest
	if !decodeBody(w, r, requestID, &req) {
		return
	}
	if req.UserID == uuid.Nil {
		writeAPIError(w, http.StatusBadRequest, requestID, services.CodeInvalidBody, "user_id is required")
		return
	}
	n, err := op(r.Context(), tenantID, id, req.UserID)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (c *HierarchyAPIController) CreateRelationship(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	var req services.CreateRelationshipInput
	if !decodeBody(w, r, requestID, &req) {
		return
	}
	rel, err := c.rels.CreateRelationship(r.Context(), tenantID, req)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

type bulkRelationshipsRequest struct {
	Items []services.CreateRelationshipInput `json:"items"`
}

func (c *HierarchyAPIController) BulkCreateRelationships(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	var req bulkRelationshipsRequest
	if !decodeBody(w, r, requestID, &req) {
		return
	}
	out, err := c.rels.BulkCreateRelationships(r.Context(), tenantID, req.Items)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, newList(out))
}

func (c *HierarchyAPIController) GetRelationship(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	rel, err := c.rels.GetRelationship(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (c *HierarchyAPIController) RemoveRelationship(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	rel, err := c.rels.RemoveRelationship(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (c *HierarchyAPIController) CreateRole(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	var req services.CreateRoleInput
	if !decodeBody(w, r, requestID, &req) {
		return
	}
	role, err := c.roles.CreateRole(r.Context(), tenantID, req)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (c *HierarchyAPIController) ListRoles(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	out, err := c.roles.ListRoles(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(out))
}

func (c *HierarchyAPIController) GetRole(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	role, err := c.roles.GetRole(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (c *HierarchyAPIController) UpdateRole(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	var req services.UpdateRoleInput
	if !decodeBody(w, r, requestID, &req) {
		return
	}
	role, err := c.roles.UpdateRole(r.Context(), tenantID, id, req)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (c *HierarchyAPIController) ActivateRole(w http.ResponseWriter, r *http.Request) {
	c.roleTransition(w, r, c.roles.ActivateRole)
}

func (c *HierarchyAPIController) DeactivateRole(w http.ResponseWriter, r *http.Request) {
	c.roleTransition(w, r, c.roles.DeactivateRole)
}

func (c *HierarchyAPIController) roleTransition(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (access.Role, error),
) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	role, err := op(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

type bulkActivateRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

func (c *HierarchyAPIController) BulkActivateRoles(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	var req bulkActivateRequest
	if !decodeBody(w, r, requestID, &req) {
		return
	}
	out, err := c.roles.BulkActivateRoles(r.Context(), tenantID, req.IDs)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(out))
}

type cloneRoleRequest struct {
	Name string `json:"name"`
}

func (c *HierarchyAPIController) CloneRole(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	var req cloneRoleRequest
	if !decodeBody(w, r, requestID, &req) {
		return
	}
	role, err := c.roles.CloneRole(r.Context(), tenantID, id, req.Name)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (c *HierarchyAPIController) GrantPermission(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	var req services.PermissionInput
	if !decodeBody(w, r, requestID, &req) {
		return
	}
	p, err := c.roles.GrantPermission(r.Context(), tenantID, id, req)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (c *HierarchyAPIController) RevokePermission(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	p, err := c.roles.RevokePermission(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (c *HierarchyAPIController) GetPermissions(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, services.CodeInvalidBody, "node_id is not a valid uuid")
		return
	}
	out, err := c.resolver.GetPermissions(r.Context(), tenantID, id, f)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(out))
}

type effectivePermissionsResponse struct {
	Permissions map[string]access.Permission `json:"permissions"`
}

func (c *HierarchyAPIController) GetEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, services.CodeInvalidBody, "node_id is not a valid uuid")
		return
	}
	out, err := c.resolver.GetEffectivePermissions(r.Context(), tenantID, id, f)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	if out == nil {
		out = map[string]access.Permission{}
	}
	writeJSON(w, http.StatusOK, effectivePermissionsResponse{Permissions: out})
}

type checkResponse struct {
	Allowed      bool   `json:"allowed"`
	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
}

// HasPermission answers GET /roles/{id}/check?action=&resource_type=[&node_id=].
func (c *HierarchyAPIController) HasPermission(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID := requestScope(r)
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, services.CodeInvalidBody, "node_id is not a valid uuid")
		return
	}
	action, resourceType := f.Action, f.ResourceType
	// The filter narrows by node only; action and resource type are the question.
	f.Action, f.ResourceType = "", ""
	allowed, err := c.resolver.HasPermission(r.Context(), tenantID, id, action, resourceType, f)
	if err != nil {
		writeServiceError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{Allowed: allowed, Action: action, ResourceType: resourceType})
}
