package acs

import (
	"sync"
	"time"
)

// SessionTracker 会话追踪最小实现：记录设备最近一次协议接触时间。
// 仅用于可观测性（在线数 gauge、就绪详情），不参与认证或报文排序，
// 也不作为设备状态的事实来源（事实来源是存储层的 status 字段）。
type SessionTracker struct {
	mu       sync.RWMutex
	lastSeen map[string]time.Time // serial -> last contact
	timeout  time.Duration
}

// NewSessionTracker 创建会话追踪器
func NewSessionTracker(timeout time.Duration) *SessionTracker {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &SessionTracker{lastSeen: make(map[string]time.Time), timeout: timeout}
}

// Touch 记录设备最近接触时间
func (t *SessionTracker) Touch(serial string, at time.Time) {
	t.mu.Lock()
	t.lastSeen[serial] = at
	t.mu.Unlock()
}

// LastContact 返回设备最近接触时间
func (t *SessionTracker) LastContact(serial string) (time.Time, bool) {
	t.mu.RLock()
	ts, ok := t.lastSeen[serial]
	t.mu.RUnlock()
	return ts, ok
}

// IsOnline 判断设备是否在追踪窗口内有过接触
func (t *SessionTracker) IsOnline(serial string, now time.Time) bool {
	t.mu.RLock()
	ts, ok := t.lastSeen[serial]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	return now.Sub(ts) <= t.timeout
}

// OnlineCount 返回窗口内有接触的设备数量
func (t *SessionTracker) OnlineCount(now time.Time) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	count := 0
	for _, ts := range t.lastSeen {
		if now.Sub(ts) <= t.timeout {
			count++
		}
	}
	return count
}
