package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/lab-status-service/internal/domain"
	"github.com/spec-kit/lab-status-service/internal/events"
	"github.com/spec-kit/lab-status-service/internal/observability"
	"github.com/spec-kit/lab-status-service/internal/repository"
	apperrors "github.com/spec-kit/lab-status-service/pkg/util"
)

// timestampPrecision matches the storage precision of timestamptz.
const timestampPrecision = time.Microsecond

const (
	opReportDefect = "report_defect"
	opResolveFix   = "resolve_fix"
)

// LifecycleService moves assets between Working and Defective. Every operation is one
// unit of work that locks the asset, mints a ticket, appends to the event log and
// updates the snapshot (and the fix ledger on resolve) together.
type LifecycleService struct {
	uow        repository.UnitOfWork
	sequencer  repository.TicketSequencer
	users      repository.UserRepository
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// LifecycleDependencies bundles collaborators for the lifecycle service. Sequencer, when
// set, replaces the unit of work's own serial source. Users, when set, is the directory
// fixedBy ids are checked against.
type LifecycleDependencies struct {
	UnitOfWork repository.UnitOfWork
	Sequencer  repository.TicketSequencer
	Users      repository.UserRepository
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Clock      func() time.Time
}

// ReportDefectInput describes a defect report.
type ReportDefectInput struct {
	RoomID     string
	PCNumber   string
	Issues     []string
	ReporterID int64
	OccurredAt *time.Time
}

// ResolveFixInput describes the resolution of a Defective ticket. RoomID and PCNumber are
// optional cross-checks against the ticket. RecordedBy defaults to FixedBy.
type ResolveFixInput struct {
	ServiceTicketID domain.ServiceTicketID
	FixedBy         int64
	FixedAt         *time.Time
	RoomID          *string
	PCNumber        *string
	RecordedBy      int64
}

// ResolveFixResult reports what the resolve did. FixTicketID is the Fixed ticket minted
// for the transition and stays empty when an existing fix record was Amended.
type ResolveFixResult struct {
	FixTicketID domain.ServiceTicketID
	Amended     bool
}

// NewLifecycleService constructs the service.
func NewLifecycleService(deps LifecycleDependencies) *LifecycleService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &LifecycleService{
		uow:        deps.UnitOfWork,
		sequencer:  deps.Sequencer,
		users:      deps.Users,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        clock,
	}
}

// ReportDefect marks the asset Defective and returns the minted Defective ticket. A report
// against an asset that is already Defective opens a new ticket that supersedes the old one.
func (s *LifecycleService) ReportDefect(ctx context.Context, input ReportDefectInput) (domain.ServiceTicketID, error) {
	roomID := strings.TrimSpace(input.RoomID)
	pcNumber := strings.TrimSpace(input.PCNumber)
	if roomID == "" || pcNumber == "" {
		return "", s.reject(opReportDefect, apperrors.NewValidationError("roomID and pcNumber are required", nil))
	}
	if strings.Contains(pcNumber, "-") {
		return "", s.reject(opReportDefect, apperrors.NewValidationError("pcNumber must not contain '-'", map[string]any{"pcNumber": pcNumber}))
	}
	if input.ReporterID <= 0 {
		return "", s.reject(opReportDefect, apperrors.NewValidationError("reporter user id is required", nil))
	}
	issues := normalizeIssues(input.Issues)
	key := domain.AssetKey{RoomID: roomID, PCNumber: pcNumber}

	var (
		ticket   domain.ServiceTicketID
		event    domain.StatusEvent
		previous domain.AssetStatus
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		asset, err := tx.Assets().GetForUpdate(ctx, key)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NewNotFound("asset", map[string]any{"roomID": roomID, "pcNumber": pcNumber})
			}
			return err
		}
		latest, err := latestEvent(ctx, tx, key)
		if err != nil {
			return err
		}
		occurredAt, err := s.transitionTime(input.OccurredAt, latest, "occurredAt")
		if err != nil {
			return err
		}

		serial, err := s.nextSerial(ctx, tx)
		if err != nil {
			return err
		}
		ticket = domain.FormatTicket(roomID, pcNumber, domain.TicketTagDefective, serial)
		event = domain.StatusEvent{
			ServiceTicketID: ticket,
			Serial:          serial,
			RoomID:          roomID,
			PCNumber:        pcNumber,
			OccurredAt:      occurredAt,
			Status:          domain.AssetStatusDefective,
			Issues:          issues,
			RecordedBy:      input.ReporterID,
		}
		if err := tx.Events().Append(ctx, &event); err != nil {
			return err
		}

		previous = asset.Status
		asset.Status = domain.AssetStatusDefective
		asset.LastUpdated = occurredAt
		return tx.Assets().Update(ctx, asset)
	})
	if err != nil {
		s.resyncSequencer(ctx, err)
		return "", s.fail(opReportDefect, key, err)
	}

	s.metrics.RecordTransition(observability.TransitionDefectReported)
	s.logger.Info("defect reported",
		zap.String("ticket_id", string(ticket)),
		zap.String("asset", key.String()),
		zap.String("previous_status", string(previous)),
		zap.Strings("issues", issues),
		zap.Int64("recorded_by", input.ReporterID))
	s.publish(ctx, events.NewEvent(events.EventAssetDefectReported, ticket, key, input.ReporterID, event.OccurredAt,
		events.DefectReportedPayload{Issues: issues, PreviousStatus: previous}))
	return ticket, nil
}

// ResolveFix closes a Defective ticket. Only the asset's open ticket can be closed; a ticket
// that already has a fix record is amended in place instead of appending another event.
func (s *LifecycleService) ResolveFix(ctx context.Context, input ResolveFixInput) (*ResolveFixResult, error) {
	ticketID := domain.ServiceTicketID(strings.TrimSpace(string(input.ServiceTicketID)))
	parts, err := domain.ParseTicket(ticketID)
	if err != nil {
		return nil, s.reject(opResolveFix, apperrors.NewValidationError("serviceTicketID is malformed", map[string]any{"serviceTicketID": string(ticketID)}))
	}
	if input.FixedBy <= 0 {
		return nil, s.reject(opResolveFix, apperrors.NewValidationError("fixedBy user id is required", nil))
	}
	key := parts.Key()
	if input.RoomID != nil && strings.TrimSpace(*input.RoomID) != "" && strings.TrimSpace(*input.RoomID) != key.RoomID {
		return nil, s.reject(opResolveFix, apperrors.NewValidationError("roomID does not match the service ticket", map[string]any{"roomID": *input.RoomID, "ticketRoomID": key.RoomID}))
	}
	if input.PCNumber != nil && strings.TrimSpace(*input.PCNumber) != "" && strings.TrimSpace(*input.PCNumber) != key.PCNumber {
		return nil, s.reject(opResolveFix, apperrors.NewValidationError("pcNumber does not match the service ticket", map[string]any{"pcNumber": *input.PCNumber, "ticketPCNumber": key.PCNumber}))
	}
	if err := s.checkUser(ctx, input.FixedBy); err != nil {
		return nil, s.reject(opResolveFix, err)
	}
	recordedBy := input.RecordedBy
	if recordedBy <= 0 {
		recordedBy = input.FixedBy
	}

	result := &ResolveFixResult{}
	var fix domain.FixRecord
	err = s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		asset, err := tx.Assets().GetForUpdate(ctx, key)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NewNotFound("asset", map[string]any{"roomID": key.RoomID, "pcNumber": key.PCNumber})
			}
			return err
		}
		defect, err := tx.Events().GetByTicket(ctx, ticketID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NewNotFound("service ticket", map[string]any{"serviceTicketID": string(ticketID)})
			}
			return err
		}
		if defect.Status != domain.AssetStatusDefective {
			return apperrors.NewConflict("only Defective tickets can be resolved", map[string]any{"serviceTicketID": string(ticketID)})
		}
		existing, err := tx.Fixes().GetByTicket(ctx, ticketID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		latest, err := latestEvent(ctx, tx, key)
		if err != nil {
			return err
		}

		if existing != nil {
			return s.amendFix(ctx, tx, asset, defect, latest, input, result, &fix)
		}

		if asset.Status == domain.AssetStatusWorking {
			return apperrors.NewConflict("asset is already Working", map[string]any{"serviceTicketID": string(ticketID)})
		}
		open, err := tx.Events().LatestDefect(ctx, key)
		if err != nil {
			return err
		}
		if open.ServiceTicketID != ticketID {
			return apperrors.NewConflict("service ticket was superseded by a later defect report", map[string]any{
				"serviceTicketID": string(ticketID),
				"openTicketID":    string(open.ServiceTicketID),
			})
		}
		fixedAt, err := s.transitionTime(input.FixedAt, latest, "fixedAt")
		if err != nil {
			return err
		}

		serial, err := s.nextSerial(ctx, tx)
		if err != nil {
			return err
		}
		resolves := ticketID
		fixEvent := domain.StatusEvent{
			ServiceTicketID:  domain.FormatTicket(key.RoomID, key.PCNumber, domain.TicketTagFixed, serial),
			Serial:           serial,
			RoomID:           key.RoomID,
			PCNumber:         key.PCNumber,
			OccurredAt:       fixedAt,
			Status:           domain.AssetStatusWorking,
			RecordedBy:       recordedBy,
			ResolvesTicketID: &resolves,
		}
		if err := tx.Events().Append(ctx, &fixEvent); err != nil {
			return err
		}
		fix = domain.FixRecord{
			ServiceTicketID: ticketID,
			RoomID:          key.RoomID,
			PCNumber:        key.PCNumber,
			FixedAt:         fixedAt,
			FixedBy:         input.FixedBy,
		}
		if err := tx.Fixes().Upsert(ctx, &fix); err != nil {
			return err
		}

		fixedBy := input.FixedBy
		asset.Status = domain.AssetStatusWorking
		asset.LastUpdated = fixedAt
		asset.LastFixedAt = &fixedAt
		asset.LastFixedBy = &fixedBy
		result.FixTicketID = fixEvent.ServiceTicketID
		return tx.Assets().Update(ctx, asset)
	})
	if err != nil {
		s.resyncSequencer(ctx, err)
		return nil, s.fail(opResolveFix, key, err)
	}

	eventType := events.EventAssetFixed
	if result.Amended {
		eventType = events.EventFixAmended
		s.metrics.RecordTransition(observability.TransitionFixAmended)
	} else {
		s.metrics.RecordTransition(observability.TransitionFixResolved)
	}
	s.logger.Info("fix recorded",
		zap.String("ticket_id", string(ticketID)),
		zap.String("fix_ticket_id", string(result.FixTicketID)),
		zap.String("asset", key.String()),
		zap.Bool("amended", result.Amended),
		zap.Int64("fixed_by", fix.FixedBy))
	s.publish(ctx, events.NewEvent(eventType, ticketID, key, recordedBy, fix.FixedAt, events.AssetFixedPayload{
		DefectTicketID: string(ticketID),
		FixedAt:        fix.FixedAt,
		FixedBy:        fix.FixedBy,
	}))
	return result, nil
}

// amendFix overwrites the fix record of an already resolved ticket. The snapshot's fix
// attribution follows only when that ticket is the one the asset's latest event closed.
func (s *LifecycleService) amendFix(ctx context.Context, tx repository.Tx, asset *domain.Asset, defect, latest *domain.StatusEvent, input ResolveFixInput, result *ResolveFixResult, fix *domain.FixRecord) error {
	fixedAt := s.now().UTC().Truncate(timestampPrecision)
	if input.FixedAt != nil {
		fixedAt = input.FixedAt.UTC().Truncate(timestampPrecision)
	}
	if !fixedAt.After(defect.OccurredAt) {
		return apperrors.NewConflict("fixedAt must be after the defect was reported", map[string]any{
			"serviceTicketID": string(defect.ServiceTicketID),
			"reportedAt":      defect.OccurredAt,
		})
	}
	*fix = domain.FixRecord{
		ServiceTicketID: defect.ServiceTicketID,
		RoomID:          defect.RoomID,
		PCNumber:        defect.PCNumber,
		FixedAt:         fixedAt,
		FixedBy:         input.FixedBy,
	}
	if err := tx.Fixes().Upsert(ctx, fix); err != nil {
		return err
	}
	result.Amended = true

	if latest == nil || latest.Status != domain.AssetStatusWorking || latest.ResolvesTicketID == nil || *latest.ResolvesTicketID != defect.ServiceTicketID {
		return nil
	}
	fixedBy := input.FixedBy
	asset.LastFixedAt = &fixedAt
	asset.LastFixedBy = &fixedBy
	return tx.Assets().Update(ctx, asset)
}

// transitionTime picks the timestamp of a new event. Defaults are nudged past the asset's
// latest event so its history stays strictly ordered; explicit values must already be.
func (s *LifecycleService) transitionTime(override *time.Time, latest *domain.StatusEvent, field string) (time.Time, error) {
	if override != nil {
		at := override.UTC().Truncate(timestampPrecision)
		if latest != nil && !at.After(latest.OccurredAt) {
			return time.Time{}, apperrors.NewConflict(field+" must be after the asset's latest status change", map[string]any{
				field:            at,
				"latestTicketID": string(latest.ServiceTicketID),
				"latestAt":       latest.OccurredAt,
			})
		}
		return at, nil
	}
	at := s.now().UTC().Truncate(timestampPrecision)
	if latest != nil && !at.After(latest.OccurredAt) {
		at = latest.OccurredAt.Add(timestampPrecision)
	}
	return at, nil
}

func (s *LifecycleService) nextSerial(ctx context.Context, tx repository.Tx) (int64, error) {
	if s.sequencer == nil {
		return tx.Tickets().NextSerial(ctx)
	}
	serial, err := s.sequencer.NextSerial(ctx)
	if !errors.Is(err, repository.ErrSequencerUnseeded) {
		return serial, err
	}
	seeder, ok := s.sequencer.(repository.SeedableSequencer)
	if !ok {
		return 0, err
	}
	floor, err := tx.Events().MaxSerial(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := seeder.Seed(ctx, floor); err != nil {
		return 0, err
	}
	s.logger.Warn("ticket sequencer counter was missing, reseeded", zap.Int64("floor", floor))
	return s.sequencer.NextSerial(ctx)
}

// resyncSequencer raises an external sequencer past the stored serials after a unit of work
// collided with an existing serial, so the caller's retry gets a fresh one.
func (s *LifecycleService) resyncSequencer(ctx context.Context, err error) {
	seeder, ok := s.sequencer.(repository.SeedableSequencer)
	if !ok || !errors.Is(err, repository.ErrDuplicateTicket) {
		return
	}
	var floor int64
	readErr := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		floor, err = tx.Events().MaxSerial(ctx)
		return err
	})
	if readErr != nil {
		s.logger.Error("read max ticket serial failed", zap.Error(readErr))
		return
	}
	current, seedErr := seeder.Seed(ctx, floor)
	if seedErr != nil {
		s.logger.Error("reseed ticket sequencer failed", zap.Error(seedErr))
		return
	}
	s.logger.Warn("ticket sequencer lagged behind stored serials, reseeded",
		zap.Int64("floor", floor), zap.Int64("current", current))
}

// checkUser rejects ids missing from the user directory.
func (s *LifecycleService) checkUser(ctx context.Context, id int64) error {
	if s.users == nil {
		return nil
	}
	if _, err := s.users.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewValidationError("fixedBy is not a known user", map[string]any{"fixedBy": id})
		}
		return apperrors.NewPersistenceError(err)
	}
	return nil
}

func latestEvent(ctx context.Context, tx repository.Tx, key domain.AssetKey) (*domain.StatusEvent, error) {
	latest, err := tx.Events().Latest(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return latest, err
}

// fail maps a unit-of-work error onto the public error taxonomy. Anything that is not already
// a domain error means the transaction did not commit.
func (s *LifecycleService) fail(op string, key domain.AssetKey, err error) error {
	var mapped error
	switch {
	case apperrors.IsDomainError(err):
		mapped = err
	case errors.Is(err, repository.ErrDuplicateTicket):
		mapped = apperrors.NewConflict("service ticket already issued, please retry", map[string]any{"asset": key.String()})
	default:
		mapped = apperrors.NewPersistenceError(err)
		s.logger.Error("status change rolled back",
			zap.String("operation", op),
			zap.String("asset", key.String()),
			zap.Error(err))
	}
	return s.reject(op, mapped)
}

func (s *LifecycleService) reject(op string, err error) error {
	s.metrics.RecordFailure(op, apperrors.CodeOf(err))
	return err
}

func (s *LifecycleService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(context.WithoutCancel(ctx), event)
}

// normalizeIssues trims tags, drops empties and keeps the first occurrence of duplicates.
func normalizeIssues(issues []string) []string {
	out := make([]string, 0, len(issues))
	seen := make(map[string]struct{}, len(issues))
	for _, issue := range issues {
		issue = strings.TrimSpace(issue)
		if issue == "" {
			continue
		}
		if _, dup := seen[issue]; dup {
			continue
		}
		seen[issue] = struct{}{}
		out = append(out, issue)
	}
	return out
}
