package auth

import (
	"fmt"
	"strings"

	xerrors "OneChain-Portal/internal/errors"
)

// 认证相关的错误码。
const (
	CodeUnauthenticated  xerrors.Code = "UNAUTHENTICATED"
	CodePermissionDenied xerrors.Code = "PERMISSION_DENIED"
)

// 门户定义的权限。
const (
	PermissionRead    = "portal:read"
	PermissionWrite   = "portal:write"
	PermissionExecute = "portal:execute"
)

func init() {
	xerrors.Register(CodeUnauthenticated, xerrors.Attributes{Message: "missing or invalid api key", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodePermissionDenied, xerrors.Attributes{Message: "permission denied", Severity: xerrors.SeverityWarning})
}

// Subject 是通过认证的调用方。
type Subject struct {
	Name        string
	Permissions []string
	Disabled    bool

	permissionsSet map[string]struct{}
}

func (s *Subject) normalise() {
	if s == nil || s.permissionsSet != nil {
		return
	}
	s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
	for _, perm := range s.Permissions {
		s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
	}
}

// HasPermission 判断调用方是否拥有指定权限。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize 检查调用方拥有全部所需权限。
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return xerrors.New(CodeUnauthenticated, "未认证的请求")
	}
	if s.Disabled {
		return xerrors.New(CodePermissionDenied, "API Key 已停用", xerrors.WithMetadata("key", s.Name))
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return xerrors.New(CodePermissionDenied, fmt.Sprintf("缺少权限 %s", perm),
				xerrors.WithMetadata("key", s.Name),
				xerrors.WithMetadata("permission", perm))
		}
	}
	return nil
}

// KeyConfig 描述一个 API Key。Key 与 KeySHA256 二选一，推荐只保存摘要。
type KeyConfig struct {
	Name        string   `yaml:"name" mapstructure:"name"`
	Key         string   `yaml:"key" mapstructure:"key"`
	KeySHA256   string   `yaml:"key_sha256" mapstructure:"key_sha256"`
	Permissions []string `yaml:"permissions" mapstructure:"permissions"`
	Disabled    bool     `yaml:"disabled" mapstructure:"disabled"`
}
