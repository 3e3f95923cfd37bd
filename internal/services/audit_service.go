package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/idbridge/internal/models"
)

// AuditEntry captures a single audit event to persist.
type AuditEntry struct {
	EventType string
	SessionID *string
	Result    string
	Metadata  map[string]any
}

// AuditFilters encapsulates optional filters when querying audit events.
type AuditFilters struct {
	EventType string
	SessionID string
	Result    string
	Since     *time.Time
	Until     *time.Time
}

// AuditListOptions controls pagination and filtering for audit queries.
type AuditListOptions struct {
	Page     int
	PageSize int
	Filters  AuditFilters
}

// AuditService persists and retrieves the append-only audit trail. Rows are
// never updated; the only delete path is the user-data erasure cascade owned
// by the session store.
type AuditService struct {
	db *gorm.DB
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db}, nil
}

// Record stores an audit entry, marshalling metadata into the JSON column.
func (s *AuditService) Record(ctx context.Context, entry AuditEntry) error {
	return s.record(s.db.WithContext(ensureContext(ctx)), entry)
}

// RecordTx stores an audit entry inside an existing transaction so state
// mutations and their audit records commit atomically.
func (s *AuditService) RecordTx(tx *gorm.DB, entry AuditEntry) error {
	if tx == nil {
		return errors.New("audit service: tx is required")
	}
	return s.record(tx, entry)
}

func (s *AuditService) record(db *gorm.DB, entry AuditEntry) error {
	if strings.TrimSpace(entry.EventType) == "" {
		return errors.New("audit service: event type is required")
	}
	if strings.TrimSpace(entry.Result) == "" {
		return errors.New("audit service: result is required")
	}

	var payload datatypes.JSON
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		payload = datatypes.JSON(encoded)
	}

	event := models.AuditEvent{
		EventType: strings.TrimSpace(entry.EventType),
		Result:    strings.TrimSpace(entry.Result),
		Metadata:  payload,
	}

	if entry.SessionID != nil && strings.TrimSpace(*entry.SessionID) != "" {
		id := strings.TrimSpace(*entry.SessionID)
		event.SessionID = &id
	}

	return db.Create(&event).Error
}

// List returns paginated audit events ordered by creation time descending.
func (s *AuditService) List(ctx context.Context, opts AuditListOptions) ([]models.AuditEvent, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	var (
		results []models.AuditEvent
		total   int64
	)

	query := s.db.WithContext(ctx).Model(&models.AuditEvent{})
	query = applyAuditFilters(query, opts.Filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count events: %w", err)
	}

	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: list events: %w", err)
	}

	return results, total, nil
}

// Count returns the total number of audit events.
func (s *AuditService) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.WithContext(ensureContext(ctx)).Model(&models.AuditEvent{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("audit service: count events: %w", err)
	}
	return total, nil
}

func applyAuditFilters(query *gorm.DB, filters AuditFilters) *gorm.DB {
	if filters.EventType != "" {
		query = query.Where("event_type = ?", filters.EventType)
	}
	if filters.SessionID != "" {
		query = query.Where("session_id = ?", filters.SessionID)
	}
	if filters.Result != "" {
		query = query.Where("result = ?", filters.Result)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
	return query
}
