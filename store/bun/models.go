package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/durable"
	"github.com/xraph/durable/id"
	"github.com/xraph/durable/invocation"
)

// ── Invocation model ──────────────────────────────────────────────

type invocationModel struct {
	bun.BaseModel `bun:"table:durable_invocations"`

	ID             string     `bun:"id,pk"`
	DebugID        string     `bun:"debug_id,notnull"`
	Service        string     `bun:"service,notnull"`
	Method         string     `bun:"method,notnull"`
	State          string     `bun:"state,notnull,default:'running'"`
	Input          []byte     `bun:"input,type:bytea"`
	Output         []byte     `bun:"output,type:bytea"`
	FailureCode    uint32     `bun:"failure_code,notnull,default:0"`
	FailureMessage string     `bun:"failure_message"`
	Blocked        []byte     `bun:"blocked,type:jsonb"`
	ScheduledAt    *time.Time `bun:"scheduled_at"`
	WakeAt         *time.Time `bun:"wake_at"`
	StartedAt      *time.Time `bun:"started_at"`
	CompletedAt    *time.Time `bun:"completed_at"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toInvocationModel(inv *invocation.Invocation) (*invocationModel, error) {
	m := &invocationModel{
		ID:          inv.ID.String(),
		DebugID:     inv.DebugID,
		Service:     inv.Service,
		Method:      inv.Method,
		State:       string(inv.State),
		Input:       inv.Input,
		Output:      inv.Output,
		ScheduledAt: inv.ScheduledAt,
		WakeAt:      inv.WakeAt,
		StartedAt:   inv.StartedAt,
		CompletedAt: inv.CompletedAt,
		CreatedAt:   inv.CreatedAt,
		UpdatedAt:   inv.UpdatedAt,
	}
	if inv.Failure != nil {
		m.FailureCode = uint32(inv.Failure.Code)
		m.FailureMessage = inv.Failure.Message
	}
	if len(inv.Blocked) > 0 {
		data, err := json.Marshal(inv.Blocked)
		if err != nil {
			return nil, fmt.Errorf("durable/bun: marshal blocked set: %w", err)
		}
		m.Blocked = data
	}
	return m, nil
}

func fromInvocationModel(m *invocationModel) (*invocation.Invocation, error) {
	parsedID, err := id.ParseInvocationID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("durable/bun: parse invocation id %q: %w", m.ID, err)
	}

	inv := &invocation.Invocation{
		Entity: durable.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		DebugID:     m.DebugID,
		Service:     m.Service,
		Method:      m.Method,
		State:       invocation.State(m.State),
		Input:       m.Input,
		Output:      m.Output,
		ScheduledAt: m.ScheduledAt,
		WakeAt:      m.WakeAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}
	if m.FailureMessage != "" || m.FailureCode != 0 {
		inv.Failure = durable.NewFailure(durable.Code(m.FailureCode), m.FailureMessage)
	}
	if len(m.Blocked) > 0 {
		if err := json.Unmarshal(m.Blocked, &inv.Blocked); err != nil {
			return nil, fmt.Errorf("durable/bun: unmarshal blocked set: %w", err)
		}
	}
	return inv, nil
}

// ── Journal entry model ───────────────────────────────────────────

type entryModel struct {
	bun.BaseModel `bun:"table:durable_journal"`

	InvocationID string    `bun:"invocation_id,pk"`
	Index        uint32    `bun:"index,pk"`
	TypeCode     uint16    `bun:"type_code,notnull"`
	Payload      []byte    `bun:"payload,type:bytea"`
	Result       []byte    `bun:"result,type:bytea"`
	Acked        bool      `bun:"acked,notnull,default:false"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

func toEntryModel(e *invocation.Entry) *entryModel {
	return &entryModel{
		InvocationID: e.InvocationID.String(),
		Index:        e.Index,
		TypeCode:     e.TypeCode,
		Payload:      e.Payload,
		Result:       e.Result,
		Acked:        e.Acked,
		CreatedAt:    e.CreatedAt,
	}
}

func fromEntryModel(m *entryModel) (*invocation.Entry, error) {
	parsedID, err := id.ParseInvocationID(m.InvocationID)
	if err != nil {
		return nil, fmt.Errorf("durable/bun: parse invocation id %q: %w", m.InvocationID, err)
	}
	return &invocation.Entry{
		InvocationID: parsedID,
		Index:        m.Index,
		TypeCode:     m.TypeCode,
		Payload:      m.Payload,
		Result:       m.Result,
		Acked:        m.Acked,
		CreatedAt:    m.CreatedAt,
	}, nil
}

// ── Service state model ───────────────────────────────────────────

type stateModel struct {
	bun.BaseModel `bun:"table:durable_state"`

	Service string `bun:"service,pk"`
	Key     string `bun:"key,pk"`
	Value   []byte `bun:"value,type:bytea"`
}
