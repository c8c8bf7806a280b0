package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/access"
)

type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func (e *ServiceError) HTTPStatus() int { return e.Status }

func (e *ServiceError) ErrorCode() string { return e.Code }

// PublicMessage omits the cause, which may carry driver text.
func (e *ServiceError) PublicMessage() string { return e.Message }

// Is matches any ServiceError carrying the same code.
func (e *ServiceError) Is(target error) bool {
	var t *ServiceError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

const (
	CodeInvalidEndpoint             = "INVALID_ENDPOINT"
	CodeInvalidParent               = "INVALID_PARENT"
	CodeHierarchyMismatch           = "HIERARCHY_MISMATCH"
	CodeCircularReference           = "CIRCULAR_REFERENCE"
	CodeInvalidRelationshipType     = "INVALID_RELATIONSHIP_TYPE"
	CodeDepthExceeded               = "DEPTH_EXCEEDED"
	CodeDuplicateHierarchicalParent = "DUPLICATE_HIERARCHICAL_PARENT"
	CodeDuplicateRoleName           = "DUPLICATE_ROLE_NAME"
	CodeMissingInheritanceRules     = "MISSING_INHERITANCE_RULES"
	CodeMissingConditions           = "MISSING_CONDITIONS"
	CodeInvalidConfig               = "INVALID_CONFIG"
	CodeSystemRoleImmutable         = "SYSTEM_ROLE_IMMUTABLE"
	CodeInvalidBody                 = "INVALID_BODY"
	CodeNotFound                    = "NOT_FOUND"
	CodeNodeHasActiveChildren       = "NODE_HAS_ACTIVE_CHILDREN"
	CodeNodeAlreadyClaimed          = "NODE_ALREADY_CLAIMED"
	CodeInternalConsistency         = "INTERNAL_CONSISTENCY"
	CodeInternal                    = "INTERNAL"

	// Finding codes reported by audits; never returned as errors.
	CodeLevelInconsistency = "LEVEL_INCONSISTENCY"
	CodePathInconsistency  = "PATH_INCONSISTENCY"
	CodeParentEdgeMismatch = "PARENT_EDGE_MISMATCH"
)

// Sentinels for errors.Is; the returned errors carry a specific message.
var (
	ErrInvalidEndpoint             = &ServiceError{Status: http.StatusUnprocessableEntity, Code: CodeInvalidEndpoint, Message: "invalid endpoint"}
	ErrInvalidParent               = &ServiceError{Status: http.StatusUnprocessableEntity, Code: CodeInvalidParent, Message: "invalid parent"}
	ErrHierarchyMismatch           = &ServiceError{Status: http.StatusUnprocessableEntity, Code: CodeHierarchyMismatch, Message: "hierarchy mismatch"}
	ErrCircularReference           = &ServiceError{Status: http.StatusConflict, Code: CodeCircularReference, Message: "circular reference"}
	ErrInvalidRelationshipType     = &ServiceError{Status: http.StatusUnprocessableEntity, Code: CodeInvalidRelationshipType, Message: "relationship type not allowed"}
	ErrDepthExceeded               = &ServiceError{Status: http.StatusUnprocessableEntity, Code: CodeDepthExceeded, Message: "max depth exceeded"}
	ErrDuplicateHierarchicalParent = &ServiceError{Status: http.StatusConflict, Code: CodeDuplicateHierarchicalParent, Message: "child already has a hierarchical parent"}
	ErrDuplicateRoleName           = &ServiceError{Status: http.StatusConflict, Code: CodeDuplicateRoleName, Message: "role name already in use"}
	ErrMissingInheritanceRules     = &ServiceError{Status: http.StatusUnprocessableEntity, Code: CodeMissingInheritanceRules, Message: "hierarchical role requires inheritance rules"}
	ErrMissingConditions           = &ServiceError{Status: http.StatusUnprocessableEntity, Code: CodeMissingConditions, Message: "conditional role requires conditions"}
	ErrInvalidConfig               = &ServiceError{Status: http.StatusUnprocessableEntity, Code: CodeInvalidConfig, Message: "invalid role config"}
	ErrSystemRoleImmutable         = &ServiceError{Status: http.StatusForbidden, Code: CodeSystemRoleImmutable, Message: "system roles are immutable"}
	ErrInvalidBody                 = &ServiceError{Status: http.StatusBadRequest, Code: CodeInvalidBody, Message: "invalid request body"}
	ErrNotFound                    = &ServiceError{Status: http.StatusNotFound, Code: CodeNotFound, Message: "not found"}
	ErrNodeHasActiveChildren       = &ServiceError{Status: http.StatusConflict, Code: CodeNodeHasActiveChildren, Message: "node has active children"}
	ErrNodeAlreadyClaimed          = &ServiceError{Status: http.StatusConflict, Code: CodeNodeAlreadyClaimed, Message: "node already claimed"}
	ErrInternalConsistency         = &ServiceError{Status: http.StatusInternalServerError, Code: CodeInternalConsistency, Message: "hierarchy is inconsistent"}
	ErrInternal                    = &ServiceError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "internal error"}
)

// withMessage returns a copy of base with a specific message.
func withMessage(base *ServiceError, format string, args ...any) *ServiceError {
	return &ServiceError{Status: base.Status, Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

func wrapCause(base *ServiceError, cause error) *ServiceError {
	return &ServiceError{Status: base.Status, Code: base.Code, Message: base.Message, Cause: cause}
}

func invalidBody(format string, args ...any) *ServiceError {
	return withMessage(ErrInvalidBody, format, args...)
}

// mapConfigError translates role config validation errors into service errors.
func mapConfigError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, access.ErrMissingInheritanceRules):
		return wrapCause(ErrMissingInheritanceRules, err)
	case errors.Is(err, access.ErrMissingConditions):
		return wrapCause(ErrMissingConditions, err)
	case errors.Is(err, access.ErrInvalidConfig):
		return withMessage(ErrInvalidConfig, "%s", err.Error())
	case errors.Is(err, access.ErrInvalidRole):
		return invalidBody("%s", err.Error())
	}
	return err
}

// Code extracts the service error code, or CodeInternal for foreign errors.
func Code(err error) string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return CodeInternal
}
