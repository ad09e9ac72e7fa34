package task

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "OneChain-Portal/internal/errors"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Filter 描述作业列表与统计的筛选条件。零值表示最近更新的前 20 个作业。
type Filter struct {
	Statuses  []Status
	Kinds     []Kind
	Network   string
	Digest    string
	ErrorCode string
	// Since、Until 按更新时间筛选，闭区间，零值表示不限。
	Since  time.Time
	Until  time.Time
	Oldest bool
	// Query 在作业 ID、请求体、摘要和错误信息中做不区分大小写的匹配。
	Query  string
	Limit  int
	Offset int
}

// ParseFilter 从 URL 查询参数构造筛选条件：status、kind 支持逗号分隔，
// since/until 为 RFC3339 时间，order=asc 表示从旧到新。
// 未知的状态或作业类型返回 JOB_VALIDATION_FAILED。
func ParseFilter(values url.Values) (Filter, error) {
	var f Filter
	var err error
	if f.Limit, err = parseCount(values.Get("limit"), "limit"); err != nil {
		return Filter{}, err
	}
	if f.Offset, err = parseCount(values.Get("offset"), "offset"); err != nil {
		return Filter{}, err
	}
	for _, part := range splitList(values.Get("status")) {
		status := Status(part)
		if !IsValidStatus(status) {
			return Filter{}, xerrors.New(CodeJobValidation, "未知的作业状态", xerrors.WithMetadata("status", part))
		}
		f.Statuses = append(f.Statuses, status)
	}
	for _, part := range splitList(values.Get("kind")) {
		kind := Kind(part)
		if !IsValidKind(kind) {
			return Filter{}, xerrors.New(CodeJobValidation, "作业类型必须是 simulate 或 execute", xerrors.WithMetadata("kind", part))
		}
		f.Kinds = append(f.Kinds, kind)
	}
	if f.Since, err = parseInstant(values.Get("since"), "since"); err != nil {
		return Filter{}, err
	}
	if f.Until, err = parseInstant(values.Get("until"), "until"); err != nil {
		return Filter{}, err
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return Filter{}, xerrors.New(xerrors.CodeInvalidArgument, "until 不能早于 since")
	}
	f.Network = values.Get("network")
	f.Digest = values.Get("digest")
	f.ErrorCode = values.Get("error_code")
	f.Query = values.Get("q")
	f.Oldest = strings.EqualFold(values.Get("order"), "asc")
	return f.normalized(), nil
}

// normalized 去除重复项与空白，并把分页参数限制在允许范围内。
func (f Filter) normalized() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = defaultListLimit
	case f.Limit > maxListLimit:
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Statuses = dedupe(f.Statuses, IsValidStatus)
	f.Kinds = dedupe(f.Kinds, IsValidKind)
	f.Network = strings.TrimSpace(f.Network)
	f.Digest = strings.TrimSpace(f.Digest)
	f.ErrorCode = strings.ToUpper(strings.TrimSpace(f.ErrorCode))
	f.Query = strings.TrimSpace(f.Query)
	return f
}

// Match 判断作业是否满足筛选条件，内存存储使用。
func (f Filter) Match(job *Job) bool {
	if len(f.Statuses) > 0 && !contains(f.Statuses, job.Status) {
		return false
	}
	if len(f.Kinds) > 0 && !contains(f.Kinds, job.Kind) {
		return false
	}
	if f.Network != "" && job.Network != f.Network {
		return false
	}
	if f.Digest != "" && job.Digest != f.Digest {
		return false
	}
	if f.ErrorCode != "" && job.ErrorCode != f.ErrorCode {
		return false
	}
	if !f.Since.IsZero() && job.UpdatedAt < f.Since.Unix() {
		return false
	}
	if !f.Until.IsZero() && job.UpdatedAt > f.Until.Unix() {
		return false
	}
	if f.Query != "" {
		haystack := strings.ToLower(strings.Join([]string{job.ID, string(job.Payload), job.Digest, job.LastError}, " "))
		if !strings.Contains(haystack, strings.ToLower(f.Query)) {
			return false
		}
	}
	return true
}

func dedupe[T comparable](input []T, valid func(T) bool) []T {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[T]struct{}, len(input))
	out := make([]T, 0, len(input))
	for _, v := range input {
		if !valid(v) {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseCount(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, name+" 必须是非负整数", xerrors.WithMetadata(name, raw))
	}
	return v, nil
}

func parseInstant(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, xerrors.New(xerrors.CodeInvalidArgument, name+" 必须是 RFC3339 时间", xerrors.WithMetadata(name, raw))
	}
	return ts, nil
}
