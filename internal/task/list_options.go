package task

import (
	"slices"
	"strings"
	"time"
)

// SortOrder 决定列表按提交顺序的方向。
type SortOrder int

const (
	SortByCreatedDesc SortOrder = iota
	SortByCreatedAsc
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// ListOptions 是任务查询条件，零值字段不参与过滤。
type ListOptions struct {
	Limit     int
	Offset    int
	Statuses  []Status
	Wallet    string
	Token     string
	Direction string
	// DueAfter/DueBefore 按计划执行时间（Unix 秒）过滤，闭区间。
	DueAfter  int64
	DueBefore int64
	Order     SortOrder
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

func WithLimit(limit int) ListOption   { return func(o *ListOptions) { o.Limit = limit } }
func WithOffset(offset int) ListOption { return func(o *ListOptions) { o.Offset = offset } }

// WithStatuses 只保留处于给定状态的任务，未知状态会被忽略。
func WithStatuses(statuses ...Status) ListOption {
	return func(o *ListOptions) { o.Statuses = slices.Clone(statuses) }
}

// WithWallet 按提交钱包过滤，不区分大小写。
func WithWallet(wallet string) ListOption { return func(o *ListOptions) { o.Wallet = wallet } }

// WithToken 按交易代币过滤，不区分大小写。
func WithToken(token string) ListOption { return func(o *ListOptions) { o.Token = token } }

// WithDirection 按买卖方向过滤。
func WithDirection(direction string) ListOption {
	return func(o *ListOptions) { o.Direction = direction }
}

// WithDueWindow 只保留计划时间落在 [from, to] 内的任务，零值表示不设边界。
func WithDueWindow(from, to time.Time) ListOption {
	return func(o *ListOptions) {
		o.DueAfter, o.DueBefore = unixOrZero(from), unixOrZero(to)
	}
}

func WithSortOrder(order SortOrder) ListOption { return func(o *ListOptions) { o.Order = order } }

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

func buildListOptions(opts []ListOption) ListOptions {
	var o ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.normalize()
	return o
}

func (o *ListOptions) normalize() {
	switch {
	case o.Limit <= 0:
		o.Limit = defaultListLimit
	case o.Limit > maxListLimit:
		o.Limit = maxListLimit
	}
	o.Offset = max(o.Offset, 0)
	if o.Order != SortByCreatedAsc {
		o.Order = SortByCreatedDesc
	}
	o.Statuses = validStatuses(o.Statuses)
	o.Wallet = strings.ToLower(strings.TrimSpace(o.Wallet))
	o.Token = strings.ToLower(strings.TrimSpace(o.Token))
	o.Direction = strings.ToLower(strings.TrimSpace(o.Direction))
}

func validStatuses(in []Status) []Status {
	var out []Status
	for _, status := range in {
		if IsValidStatus(status) && !slices.Contains(out, status) {
			out = append(out, status)
		}
	}
	return out
}

// matches 判断任务是否满足查询条件。
func (o ListOptions) matches(t *Task) bool {
	switch {
	case len(o.Statuses) > 0 && !slices.Contains(o.Statuses, t.Status):
		return false
	case o.Wallet != "" && !strings.EqualFold(t.Wallet, o.Wallet):
		return false
	case o.Token != "" && !strings.EqualFold(t.Token, o.Token):
		return false
	case o.Direction != "" && !strings.EqualFold(t.Direction, o.Direction):
		return false
	case o.DueAfter > 0 && t.ScheduleTime < o.DueAfter:
		return false
	case o.DueBefore > 0 && t.ScheduleTime > o.DueBefore:
		return false
	}
	return true
}
