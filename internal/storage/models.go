package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/autodata-labs/autodata/internal/orchestrator"
)

// RunModel maps to the "runs" table.
type RunModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Goal        string    `gorm:"type:text;not null"`
	Status      string    `gorm:"not null;default:'running'"`
	Error       string    `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (RunModel) TableName() string { return "runs" }

// EnvelopeModel maps to the "envelopes" table. Seq preserves per-run commit
// order for replay.
type EnvelopeModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID      uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_envelopes_run_seq"`
	FromWorker string    `gorm:"not null"`
	ToWorker   string    `gorm:"not null"`
	Payload    string    `gorm:"type:text;not null"`
	Attempt    int       `gorm:"not null;default:1"`
	Seq        int       `gorm:"not null;uniqueIndex:idx_envelopes_run_seq"`
	CreatedAt  time.Time `gorm:"index"`
}

func (EnvelopeModel) TableName() string { return "envelopes" }

// ArtifactModel maps to the "artifacts" table: the latest validated payload
// per (run, artifact key).
type ArtifactModel struct {
	RunID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"primaryKey"`
	Payload   string    `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (ArtifactModel) TableName() string { return "artifacts" }

// --- Converters ---

func toRunModel(run *orchestrator.RunRecord) *RunModel {
	return &RunModel{
		ID:          run.ID,
		Goal:        run.Goal,
		Status:      string(run.Status),
		Error:       run.Error,
		CreatedAt:   run.CreatedAt,
		UpdatedAt:   run.UpdatedAt,
		CompletedAt: run.CompletedAt,
	}
}

func fromRunModel(m *RunModel) *orchestrator.RunRecord {
	return &orchestrator.RunRecord{
		ID:          m.ID,
		Goal:        m.Goal,
		Status:      orchestrator.RunStatus(m.Status),
		Error:       m.Error,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		CompletedAt: m.CompletedAt,
	}
}

func toEnvelopeModel(env *orchestrator.Envelope) *EnvelopeModel {
	return &EnvelopeModel{
		ID:         env.ID,
		RunID:      env.RunID,
		FromWorker: string(env.From),
		ToWorker:   string(env.To),
		Payload:    env.Payload,
		Attempt:    env.Attempt,
		Seq:        env.Seq,
		CreatedAt:  env.CreatedAt,
	}
}

func fromEnvelopeModel(m *EnvelopeModel) orchestrator.Envelope {
	return orchestrator.Envelope{
		ID:        m.ID,
		RunID:     m.RunID,
		From:      orchestrator.WorkerName(m.FromWorker),
		To:        orchestrator.WorkerName(m.ToWorker),
		Payload:   m.Payload,
		Attempt:   m.Attempt,
		Seq:       m.Seq,
		CreatedAt: m.CreatedAt,
	}
}
