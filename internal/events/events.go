// Package events publishes goal and task lifecycle notifications to
// downstream consumers such as dashboards.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type 标识事件类型，同时作为 RabbitMQ 的 routing key。
type Type string

const (
	GoalCreated       Type = "goal.created"
	GoalUpdated       Type = "goal.updated"
	GoalCompleted     Type = "goal.completed"
	GoalDeleted       Type = "goal.deleted"
	TaskCreated       Type = "task.created"
	TaskStatusChanged Type = "task.status_changed"
	TaskDeleted       Type = "task.deleted"
)

// Event 描述一次已提交的状态变更。
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	GoalID     string         `json:"goal_id,omitempty"`
	TaskID     string         `json:"task_id,omitempty"`
	Status     string         `json:"status,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// New 创建带唯一 ID 的事件。
func New(typ Type, goalID, taskID, status string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		GoalID:     goalID,
		TaskID:     taskID,
		Status:     status,
		OccurredAt: at.UTC(),
	}
}

// Encode 返回事件的 JSON 表示。
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher 投递事件。实现必须可并发调用。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop 丢弃所有事件。
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Memory 在内存中记录事件，用于测试。
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory 创建 Memory 发布器。
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *Memory) Close() error { return nil }

// Events 返回已记录事件的副本。
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// OfType 返回指定类型的事件。
func (m *Memory) OfType(typ Type) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*Memory)(nil)
)
