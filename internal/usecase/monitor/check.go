package monitor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"changewatch/internal/domain/entity"
	"changewatch/internal/infra/workerpool"
	"changewatch/internal/resilience/circuitbreaker"
	"changewatch/internal/resilience/retry"
	"changewatch/internal/usecase/fetch"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CheckResult describes one completed check.
type CheckResult struct {
	ResourceID   string               `json:"resource_id"`
	Outcome      string               `json:"outcome"`
	Hash         string               `json:"hash,omitempty"`
	PreviousHash string               `json:"previous_hash,omitempty"`
	NotModified  bool                 `json:"not_modified,omitempty"`
	Record       *entity.ChangeRecord `json:"record,omitempty"`
	CheckedAt    time.Time            `json:"checked_at"`
	Duration     time.Duration        `json:"duration"`
	Err          error                `json:"-"`
}

// Changed reports whether the check recorded a modification.
func (r *CheckResult) Changed() bool {
	return r.Outcome == OutcomeModified
}

// HashContent is the content fingerprint: hex-encoded SHA-256.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// check runs checkForChanges for st. Checks of one resource never overlap.
func (s *Service) check(ctx context.Context, st *monitorState) (*CheckResult, error) {
	st.checkMu.Lock()
	defer st.checkMu.Unlock()

	st.mu.Lock()
	if st.removed {
		st.mu.Unlock()
		return nil, ErrNotFound
	}
	res := st.res.Clone()
	gen := st.gen
	st.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "monitor.check", trace.WithAttributes(
		attribute.String("resource.id", res.ID),
		attribute.String("resource.locator", res.Locator),
		attribute.String("resource.extractor", res.Extractor),
	))
	defer span.End()

	start := time.Now()
	prev, hasPrev := s.hashes.Get(res.ID)
	fetched, err := s.guardedFetch(ctx, res, hasPrev)
	if err == nil && fetched.NotModified && !hasPrev {
		fetched, err = s.guardedFetch(ctx, res, false)
	}
	elapsed := time.Since(start)

	if err != nil && ctx.Err() != nil {
		span.SetStatus(codes.Error, "canceled")
		return nil, ctx.Err()
	}

	st.mu.Lock()
	if st.removed || st.gen != gen {
		st.mu.Unlock()
		span.AddEvent("discarded")
		s.logger.Debug("check result discarded",
			slog.String("resource_id", res.ID))
		return nil, ErrCheckDiscarded
	}

	now := time.Now()
	result := &CheckResult{ResourceID: res.ID, CheckedAt: now, Duration: elapsed}

	if err != nil {
		st.res.ErrorCount++
		st.res.ConsecutiveErrors++
		st.res.LastError = err.Error()
		snap := st.res.Clone()
		st.mu.Unlock()

		kind := errorKind(err)
		result.Outcome = OutcomeError
		result.Err = err
		s.totalChecks.Add(1)
		s.totalErrors.Add(1)
		s.metrics.ObserveCheck(OutcomeError, elapsed)
		s.metrics.RecordFetchError(kind)

		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		s.logger.Warn("check failed",
			slog.String("resource_id", res.ID),
			slog.String("locator", res.Locator),
			slog.String("kind", kind),
			slog.Int("consecutive_errors", snap.ConsecutiveErrors),
			slog.Any("error", err))
		s.publish(EventMonitorError, snap, func(e *Event) {
			e.Outcome = OutcomeError
			e.Error = err.Error()
			e.ErrorKind = kind
		})
		return result, err
	}

	hash := prev.Hash
	content := prev.Snapshot
	if !fetched.NotModified {
		hash = HashContent(fetched.Content)
		content = entity.TruncateSnapshot(fetched.Content)
	}
	result.Hash = hash
	result.NotModified = fetched.NotModified

	var record *entity.ChangeRecord
	switch {
	case !hasPrev:
		result.Outcome = OutcomeNew
		record = &entity.ChangeRecord{
			ChangeType:      entity.ChangeNew,
			CurrentHash:     hash,
			CurrentSnapshot: content,
		}
	case prev.Hash != hash:
		result.Outcome = OutcomeModified
		result.PreviousHash = prev.Hash
		record = &entity.ChangeRecord{
			ChangeType:       entity.ChangeModified,
			PreviousHash:     prev.Hash,
			CurrentHash:      hash,
			PreviousSnapshot: prev.Snapshot,
			CurrentSnapshot:  content,
		}
		st.res.ChangeCount++
		st.res.LastChangedAt = now
	default:
		result.Outcome = OutcomeUnchanged
		result.PreviousHash = prev.Hash
	}
	if record != nil {
		record.ID = uuid.NewString()
		record.ResourceID = res.ID
		record.Timestamp = now
		record.Metadata = map[string]string{
			"locator":  res.Locator,
			"name":     res.Name,
			"category": res.Category,
		}
		s.hashes.Set(res.ID, Baseline{Hash: hash, Snapshot: content})
	}
	st.res.LastCheckedAt = now
	st.res.CheckCount++
	st.res.ConsecutiveErrors = 0
	st.res.LastError = ""
	snap := st.res.Clone()
	st.mu.Unlock()

	result.Record = record
	s.totalChecks.Add(1)
	s.metrics.ObserveCheck(result.Outcome, elapsed)
	span.SetAttributes(
		attribute.String("check.outcome", result.Outcome),
		attribute.Bool("check.not_modified", result.NotModified),
	)

	if record != nil {
		s.history.Add(*record)
	}
	if result.Outcome == OutcomeModified {
		s.totalChanges.Add(1)
		s.metrics.RecordChange(res.Category)
		s.logger.Info("change detected",
			slog.String("resource_id", res.ID),
			slog.String("locator", res.Locator),
			slog.String("previous_hash", prev.Hash),
			slog.String("current_hash", hash),
			slog.Int("change_count", snap.ChangeCount))
	}
	if record != nil {
		rec := *record
		s.publish(EventChangeDetected, snap, func(e *Event) {
			e.Change = &rec
			e.Outcome = result.Outcome
		})
	}
	s.publish(EventMonitorChecked, snap, func(e *Event) {
		e.Outcome = result.Outcome
	})
	return result, nil
}

// guardedFetch fetches res inside a pool task: limiter wait, then
// retry(breaker(fetch)). The caller's ctx cancels the task.
func (s *Service) guardedFetch(ctx context.Context, res *entity.MonitoredResource, conditional bool) (*fetch.Result, error) {
	limiter := s.limiters.Get(res.ID)
	breaker := s.breakers.Get(res.ID)
	req := fetch.Request{
		Key:         res.ID,
		Locator:     res.Locator,
		Extractor:   res.Extractor,
		Conditional: conditional,
	}

	run := func(taskCtx context.Context) (any, error) {
		taskCtx, cancel := context.WithCancel(taskCtx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		return retry.Do(taskCtx, s.cfg.Retry, func(ctx context.Context) (*fetch.Result, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
			v, err := breaker.Execute(func() (interface{}, error) {
				return s.fetcher.Fetch(ctx, req)
			})
			if err != nil {
				if fetch.IsRetryable(err) {
					limiter.RecordError()
				}
				return nil, err
			}
			limiter.RecordSuccess()
			return v.(*fetch.Result), nil
		})
	}

	future, err := s.pool.AddTask(workerpool.Task{
		Priority: s.cfg.TaskPriority,
		Timeout:  s.cfg.CheckTimeout,
		Run:      run,
		Metadata: map[string]string{"resource_id": res.ID},
	})
	if err != nil {
		return nil, fmt.Errorf("schedule check: %w", err)
	}
	v, err := future.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return v.(*fetch.Result), nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, workerpool.ErrTaskTimeout):
		return "timeout"
	case errors.Is(err, workerpool.ErrPoolClosed), errors.Is(err, workerpool.ErrQueueFull):
		return "pool"
	}
	return fetch.ErrorKind(err)
}
