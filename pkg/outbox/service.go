package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/keydrop-backend/pkg/db"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
)

const uniqueEventAggregate = "ux_outbox_events_event_aggregate"

// DomainEvent is what business code hands to Emit inside its transaction.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Source        string
	Data          any
	Version       int
	OccurredAt    time.Time
}

// Emitter is the surface order and webhook code depend on.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event DomainEvent) error
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit inserts the event using tx so it commits or rolls back with the caller's change.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.AggregateID == uuid.Nil {
		return errors.New("aggregate id required")
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.Version == 0 {
		event.Version = 1
	}
	envelope := PayloadEnvelope{
		Version:    event.Version,
		EventID:    uuid.NewString(),
		OccurredAt: event.OccurredAt,
		Source:     event.Source,
		Data:       data,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	row := models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event_id":       envelope.EventID,
			"event_type":     event.EventType,
			"aggregate_id":   event.AggregateID.String(),
			"aggregate_type": event.AggregateType,
		})
		s.logg.Info(logCtx, "outbox event queued")
	}
	return nil
}

// EmitIfNotExists is Emit guarded by the (event_type, aggregate_id) unique index,
// so a transition replayed by a redelivered callback queues at most one notification.
func (s *Service) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	exists, err := s.repo.ExistsTx(tx, event.EventType, event.AggregateID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	// a savepoint keeps a racing duplicate from aborting the caller's postgres transaction
	sp := "outbox_emit"
	if err := tx.SavePoint(sp).Error; err != nil {
		return err
	}
	if err := s.Emit(ctx, tx, event); err != nil {
		if dbpkg.IsUniqueViolation(err, uniqueEventAggregate) || dbpkg.IsUniqueViolation(err, "") {
			return tx.RollbackTo(sp).Error
		}
		return err
	}
	return nil
}
