package journal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zllovesuki/storecheckout/checkout"
	"github.com/zllovesuki/storecheckout/spec"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var _ checkout.Journal = &Manager{}
var _ checkout.Reconciler = &Manager{}

// Manager handles the database operations relating to checkout Attempts
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewManager returns a new Manager for checkout attempts
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if db == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if err := db.AutoMigrate(&Attempt{}, &Step{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize journal.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Begin records a decided submission before its first call is issued
func (m *Manager) Begin(ctx context.Context, a checkout.Attempt) error {
	result := m.db.WithContext(ctx).Create(fromAttempt(a))
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.String("AttemptID", a.ID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create checkout attempt")
	}
	return nil
}

// Record appends the outcome of one call to the attempt
func (m *Manager) Record(ctx context.Context, attemptID string, step checkout.StepResult) error {
	s := fromStep(attemptID, step, m.now())
	result := m.db.WithContext(ctx).Create(&s)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.String("AttemptID", attemptID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot record checkout step")
	}
	return nil
}

// Finish stores the terminal state of the attempt
func (m *Manager) Finish(ctx context.Context, attemptID string, s checkout.State) error {
	result := m.db.WithContext(ctx).
		Model(&Attempt{}).
		Where("id = ?", attemptID).
		Updates(finishColumns(s, m.now()))
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.String("AttemptID", attemptID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot finish checkout attempt")
	}
	if result.RowsAffected == 0 {
		return extErrors.Errorf("Checkout attempt %s not found", attemptID)
	}
	return nil
}

// GetByID will try to return the attempt with its steps in call order
func (m *Manager) GetByID(ctx context.Context, id string) (*checkout.AttemptRecord, error) {
	var a Attempt

	result := m.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("id")
		}).
		First(&a, "id = ?", id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get checkout attempt by id")
	}

	rec := toRecord(a)
	return &rec, nil
}

// Unfinished returns attempts started before the cutoff that never reached a terminal state,
// oldest first. shopID 0 lists every shop.
func (m *Manager) Unfinished(ctx context.Context, shopID int64, before time.Time) ([]checkout.AttemptRecord, error) {
	var attempts []Attempt

	query := m.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("id")
		}).
		Where("finished_at IS NULL AND started_at < ?", before)
	if shopID != 0 {
		query = query.Where("shop_id = ?", shopID)
	}
	result := query.Order("started_at").Find(&attempts)

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list unfinished checkout attempts")
	}

	records := make([]checkout.AttemptRecord, 0, len(attempts))
	for _, a := range attempts {
		records = append(records, toRecord(a))
	}
	return records, nil
}

func fromAttempt(a checkout.Attempt) *Attempt {
	return &Attempt{
		ID:        a.ID,
		ShopID:    a.ShopID,
		SellerID:  a.SellerID,
		Email:     a.Email,
		PlanID:    a.PlanID,
		Cycle:     string(a.Cycle),
		Decision:  string(a.Decision),
		Pending:   pendingLabel(a.Pending),
		Targets:   spec.Metadata{},
		StartedAt: a.StartedAt,
	}
}

func fromStep(attemptID string, step checkout.StepResult, now time.Time) Step {
	return Step{
		AttemptID: attemptID,
		Kind:      string(step.Kind),
		OK:        step.OK,
		Message:   step.Message,
		CardID:    step.CardID,
		ElapsedMS: step.Elapsed.Milliseconds(),
		CreatedAt: now,
	}
}

func finishColumns(s checkout.State, now time.Time) map[string]interface{} {
	cols := map[string]interface{}{
		"state":       string(s.Phase),
		"targets":     targetsMetadata(s.Targets),
		"finished_at": now,
	}
	if s.Failure != nil {
		cols["failed_phase"] = string(s.Failure.Phase)
		cols["error"] = s.Failure.Message
	}
	return cols
}

// targetsMetadata keeps the identifiers needed to find the collaborator records again
func targetsMetadata(t checkout.Targets) spec.Metadata {
	md := spec.Metadata{
		"plan_id":   t.PlanID,
		"cycle":     string(t.Cycle),
		"currency":  t.Currency,
		"is_update": strconv.FormatBool(t.IsUpdate()),
	}
	if t.SubscriptionID != "" {
		md["subscription_id"] = t.SubscriptionID
	}
	if t.CardID != "" {
		md["card_id"] = t.CardID
	}
	if t.CardLast4 != "" {
		md["card_last4"] = t.CardLast4
	}
	return md
}

func pendingLabel(p checkout.Pending) string {
	if p == checkout.None {
		return ""
	}
	return string(p.Await) + ":" + string(p.Then)
}

func parsePending(label string) checkout.Pending {
	await, then, ok := strings.Cut(label, ":")
	if !ok {
		return checkout.None
	}
	return checkout.Pending{Await: checkout.Await(await), Then: checkout.Then(then)}
}

func toRecord(a Attempt) checkout.AttemptRecord {
	rec := checkout.AttemptRecord{
		Attempt: checkout.Attempt{
			ID:        a.ID,
			ShopID:    a.ShopID,
			SellerID:  a.SellerID,
			Email:     a.Email,
			PlanID:    a.PlanID,
			Cycle:     spec.Cycle(a.Cycle),
			Decision:  checkout.Phase(a.Decision),
			Pending:   parsePending(a.Pending),
			StartedAt: a.StartedAt,
		},
		State:      checkout.Phase(a.State),
		Targets:    map[string]string(a.Targets),
		FinishedAt: a.FinishedAt,
		Steps:      make([]checkout.StepResult, 0, len(a.Steps)),
	}
	if a.Error != "" || a.FailedPhase != "" {
		rec.Failure = &checkout.Failure{Phase: checkout.Phase(a.FailedPhase), Message: a.Error}
	}
	for _, s := range a.Steps {
		rec.Steps = append(rec.Steps, checkout.StepResult{
			Kind:    checkout.EffectKind(s.Kind),
			OK:      s.OK,
			Message: s.Message,
			CardID:  s.CardID,
			Elapsed: time.Duration(s.ElapsedMS) * time.Millisecond,
		})
	}
	return rec
}
