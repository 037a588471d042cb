package auth

import "gateway/internal/domain"

// CheckScopes enforces a procedure's required-scope shape against a
// principal's held scopes (spec §4.B dispatch step "scopes satisfied"),
// returning the uniform forbidden/unauthorized distinction spec §4.C
// mandates: no principal at all is unauthorized, a principal lacking
// scopes is forbidden.
func CheckScopes(principal domain.Principal, shape domain.ScopeShape) error {
	if principal.Kind == domain.PrincipalAnonymous {
		if len(shape.AllOf) == 0 && len(shape.AnyOf) == 0 {
			return nil
		}
		return domain.NewError(domain.ErrUnauthorized, "authentication required", nil)
	}
	if !shape.Satisfies(principal.Scopes) {
		return domain.NewError(domain.ErrForbidden, "principal lacks required scope", nil)
	}
	return nil
}
