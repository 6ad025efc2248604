package rbac

import (
	"context"
	"strings"
)

// DefaultRelatedLevels is the ordered list of actions checked on related objects.
var DefaultRelatedLevels = []string{"use", "change", "view"}

// PermissionChecker answers permission questions for the related-field policy.
type PermissionChecker interface {
	HasPermission(ctx context.Context, subject Subject, code string, obj ObjectRef) (bool, error)
	HasGlobalPermission(ctx context.Context, subject Subject, code string) (bool, error)
}

// FieldChange describes a write to a governed relation field. Cleared means the field was
// set to null.
type FieldChange struct {
	Field    string
	Previous *ObjectRef
	Next     *ObjectRef
	Cleared  bool
}

// RelatedPolicy gates writes that point an object at other governed objects.
type RelatedPolicy struct {
	registry *Registry
	checker  PermissionChecker
	levels   []string
}

// NewRelatedPolicy builds a policy. A nil levels slice selects DefaultRelatedLevels; an
// empty non-nil slice disables checks on non-parent fields.
func NewRelatedPolicy(registry *Registry, checker PermissionChecker, levels []string) *RelatedPolicy {
	if levels == nil {
		levels = DefaultRelatedLevels
	}
	normalized := make([]string, 0, len(levels))
	for _, level := range levels {
		level = strings.ToLower(strings.TrimSpace(level))
		if level != "" {
			normalized = append(normalized, level)
		}
	}
	return &RelatedPolicy{registry: registry, checker: checker, levels: normalized}
}

// Levels returns the configured level order.
func (p *RelatedPolicy) Levels() []string {
	return append([]string(nil), p.levels...)
}

// CheckRelated validates every change made to an object of objectType by subject. The
// first denied field is reported as a RelatedPermissionDeniedError.
func (p *RelatedPolicy) CheckRelated(ctx context.Context, subject Subject, objectType string, changes ...FieldChange) error {
	rt, err := p.registry.Type(objectType)
	if err != nil {
		return err
	}
	for _, change := range changes {
		if err := p.checkField(ctx, subject, rt, change); err != nil {
			return err
		}
	}
	return nil
}

func (p *RelatedPolicy) checkField(ctx context.Context, subject Subject, rt ResourceType, change FieldChange) error {
	if !change.Cleared && change.Next == nil {
		return nil
	}
	if change.Cleared && change.Previous == nil {
		return nil
	}
	if !change.Cleared && sameRef(change.Previous, change.Next) {
		return nil
	}
	if _, ok := rt.RelatedType(change.Field); !ok {
		return validationError("%s has no related field %s", rt.Name, change.Field)
	}
	if rt.IsParentField(change.Field) {
		code, ok := p.registry.Code(rt.Name, "add")
		if !ok {
			return nil
		}
		var allowed bool
		var err error
		if change.Cleared {
			allowed, err = p.checker.HasGlobalPermission(ctx, subject, code)
		} else {
			allowed, err = p.checker.HasPermission(ctx, subject, code, *change.Next)
		}
		if err != nil {
			return err
		}
		if !allowed {
			return &RelatedPermissionDeniedError{Field: change.Field, Permission: code}
		}
		return nil
	}
	if change.Cleared {
		return nil
	}
	code, ok := p.requiredCode(change.Next.Type)
	if !ok {
		return nil
	}
	allowed, err := p.checker.HasPermission(ctx, subject, code, *change.Next)
	if err != nil {
		return err
	}
	if !allowed {
		return &RelatedPermissionDeniedError{Field: change.Field, Permission: code}
	}
	return nil
}

// requiredCode picks the first configured level registered on typ.
func (p *RelatedPolicy) requiredCode(typ string) (string, bool) {
	for _, level := range p.levels {
		if code, ok := p.registry.Code(typ, level); ok {
			return code, true
		}
	}
	return "", false
}
