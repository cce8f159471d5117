// Package audit implements drift repair: re-running the search and
// reconciliation pipeline against the index's current state so records that
// missed an eager write converge. The whole pass is idempotent, which is
// what makes periodic re-auditing safe.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-finder/internal/match"
	"github.com/kozaktomas/face-finder/internal/observability"
	"github.com/kozaktomas/face-finder/internal/similarity"
	"github.com/kozaktomas/face-finder/internal/store"
)

// State tracks how far a single user's audit progressed. Failure is terminal
// and reachable from any state; the state at failure time tells where.
type State string

const (
	StateScanned            State = "scanned"
	StateDescriptorVerified State = "descriptor_verified"
	StateMatchesSearched    State = "matches_searched"
	StateReconciled         State = "reconciled"
	StateReported           State = "reported"
	// StateDescriptorMissing means the authoritative descriptor is gone from
	// the index. Unrepairable here: re-registration needs a fresh image.
	StateDescriptorMissing State = "descriptor_missing"
	StateFailed            State = "failed"
)

// ErrAuditInFlight means an audit for the user is already running. The
// request is coalesced with the in-flight run, never queued behind it.
var ErrAuditInFlight = errors.New("audit already in flight for this user")

// Gate serializes audits per user: at most one in-flight audit per user id
// at a time.
type Gate interface {
	// TryAcquire claims the user's audit slot. It never blocks; false means
	// an audit is already running.
	TryAcquire(userID string) bool
	Release(userID string)
}

// InflightGate is the mutex-and-set Gate implementation shared by the
// auditor and the scheduler.
type InflightGate struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewInflightGate creates an empty gate.
func NewInflightGate() *InflightGate {
	return &InflightGate{inflight: make(map[string]struct{})}
}

func (g *InflightGate) TryAcquire(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.inflight[userID]; ok {
		return false
	}
	g.inflight[userID] = struct{}{}
	return true
}

func (g *InflightGate) Release(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, userID)
}

// Config bounds an audit run.
type Config struct {
	// PageSize is the scan page size for full audits.
	PageSize int
	// UserDelay is the pause between users during a full audit. A deliberate
	// throttle: the external index rate-limits searches.
	UserDelay time.Duration
	// SearchThreshold is the search-time similarity floor, the lowest of any
	// downstream consumer.
	SearchThreshold  float64
	SearchMaxResults int
	// Threshold is the audit-time reconciliation floor.
	Threshold float64
	// Gate, when set, guarantees at most one in-flight audit per user.
	Gate Gate
}

// Auditor heals drift between the index and the record stores, one user at a
// time.
type Auditor struct {
	faces      store.FaceStore
	index      similarity.Index
	searcher   *match.Searcher
	reconciler *match.Reconciler
	cfg        Config
	logger     *slog.Logger
}

// NewAuditor creates an auditor.
func NewAuditor(faces store.FaceStore, index similarity.Index, searcher *match.Searcher, reconciler *match.Reconciler, cfg Config, logger *slog.Logger) *Auditor {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.SearchMaxResults <= 0 {
		cfg.SearchMaxResults = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{faces: faces, index: index, searcher: searcher, reconciler: reconciler, cfg: cfg, logger: logger}
}

// Report summarizes one user's audit.
type Report struct {
	UserID       string `json:"userId"`
	DescriptorID string `json:"descriptorId,omitempty"`
	State        State  `json:"state"`

	// StaleMarked counts older face records newly marked stale.
	StaleMarked int `json:"staleMarked"`

	// Reconcile carries the per-match counts when reconciliation ran.
	Reconcile *match.Report `json:"reconcile,omitempty"`

	FailureReason string `json:"failureReason,omitempty"`
}

func (r *Report) fail(err error) (*Report, error) {
	r.State = StateFailed
	r.FailureReason = err.Error()
	return r, err
}

// AuditUser audits a single user: pick the newest face record as
// authoritative, verify its descriptor still exists, then search and
// reconcile at the audit threshold. A missing descriptor stops the audit
// before any write.
func (a *Auditor) AuditUser(ctx context.Context, userID string) (*Report, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", match.ErrInvalidInput)
	}
	if a.cfg.Gate != nil {
		if !a.cfg.Gate.TryAcquire(userID) {
			return nil, fmt.Errorf("audit user %s: %w", userID, ErrAuditInFlight)
		}
		defer a.cfg.Gate.Release(userID)
	}

	observability.InflightAudits.Inc()
	defer observability.InflightAudits.Dec()
	timer := time.Now()

	recs, err := a.faces.FacesByUser(ctx, userID)
	if err != nil {
		return (&Report{UserID: userID}).fail(fmt.Errorf("load face records for %s: %w", userID, err))
	}
	if len(recs) == 0 {
		return (&Report{UserID: userID}).fail(fmt.Errorf("load face records for %s: %w", userID, store.ErrNotFound))
	}

	report, err := a.auditRecords(ctx, userID, recs)

	observability.AuditDuration.Observe(time.Since(timer).Seconds())
	observability.AuditsRun.WithLabelValues(string(report.State)).Inc()
	return report, err
}

// auditRecords runs the audit state machine for one user's records, newest
// first.
func (a *Auditor) auditRecords(ctx context.Context, userID string, recs []store.FaceRecord) (*Report, error) {
	authoritative := recs[0]
	report := &Report{
		UserID:       userID,
		DescriptorID: authoritative.DescriptorID,
		State:        StateScanned,
	}

	exists, err := a.index.Exists(ctx, authoritative.DescriptorID)
	if err != nil {
		return report.fail(fmt.Errorf("verify descriptor %s: %w", authoritative.DescriptorID, err))
	}
	if !exists {
		report.State = StateDescriptorMissing
		a.logger.Warn("authoritative descriptor missing from index",
			"user_id", userID, "descriptor_id", authoritative.DescriptorID)
		return report, nil
	}
	report.State = StateDescriptorVerified

	// Older records only get flagged; they are never deleted, so the history
	// of prior descriptors stays inspectable.
	for _, rec := range recs[1:] {
		if rec.Status == store.StatusStale {
			continue
		}
		if err := a.faces.SetFaceStatus(ctx, userID, rec.DescriptorID, store.StatusStale); err != nil {
			return report.fail(fmt.Errorf("mark %s/%s stale: %w", userID, rec.DescriptorID, err))
		}
		report.StaleMarked++
	}

	candidates, err := a.searcher.FindMatches(ctx, authoritative.DescriptorID, a.cfg.SearchThreshold, a.cfg.SearchMaxResults)
	if err != nil {
		return report.fail(fmt.Errorf("search matches for %s: %w", userID, err))
	}
	report.State = StateMatchesSearched

	reconcile, err := a.reconciler.Reconcile(ctx, userID, authoritative.DescriptorID, a.cfg.Threshold, candidates)
	report.Reconcile = reconcile
	if err != nil {
		return report.fail(fmt.Errorf("reconcile %s: %w", userID, err))
	}
	report.State = StateReconciled

	a.logger.Info("user audited",
		"user_id", userID,
		"descriptor_id", authoritative.DescriptorID,
		"matches_found", reconcile.MatchesFound,
		"added", reconcile.Added,
		"already_present", reconcile.AlreadyPresent,
		"photos_updated", reconcile.PhotosUpdated)
	report.State = StateReported
	return report, nil
}

// ProgressFunc is called after each user of a full audit, with the number of
// users processed so far and the total.
type ProgressFunc func(done, total int)

// AuditAll audits every user with at least one face record. The scan is
// paginated and continuation tokens are followed until exhaustion; records
// are grouped by user first, since a user may have several. Users run
// sequentially with a small delay in between to respect the index's rate
// limits, and one user's failure never stops the batch. Cancellation is
// cooperative and checked between users only: a per-user audit already
// started is left to finish, which is safe because it is idempotent.
func (a *Auditor) AuditAll(ctx context.Context, progress ProgressFunc) ([]*Report, error) {
	users, byUser, err := a.scanAllFaces(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]*Report, 0, len(users))
	for i, userID := range users {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		if i > 0 && a.cfg.UserDelay > 0 {
			time.Sleep(a.cfg.UserDelay)
		}

		if a.cfg.Gate != nil && !a.cfg.Gate.TryAcquire(userID) {
			// Someone else is auditing this user right now; that run covers
			// the same work.
			a.logger.Debug("user audit coalesced with in-flight run", "user_id", userID)
			if progress != nil {
				progress(i+1, len(users))
			}
			continue
		}
		report, err := a.auditRecords(ctx, userID, byUser[userID])
		if a.cfg.Gate != nil {
			a.cfg.Gate.Release(userID)
		}
		if err != nil {
			a.logger.Warn("user audit failed", "user_id", userID, "error", err)
		}
		observability.AuditsRun.WithLabelValues(string(report.State)).Inc()
		reports = append(reports, report)

		if progress != nil {
			progress(i+1, len(users))
		}
	}
	return reports, nil
}

// scanAllFaces pages through every face record and groups them by user,
// preserving the newest-first order within a user. The store enforces the
// page size, so following tokens until an empty one is returned is the only
// way to visit every record.
func (a *Auditor) scanAllFaces(ctx context.Context) ([]string, map[string][]store.FaceRecord, error) {
	byUser := make(map[string][]store.FaceRecord)
	var users []string

	token := ""
	for {
		page, next, err := a.faces.ScanFaces(ctx, token, a.cfg.PageSize)
		if err != nil {
			return nil, nil, fmt.Errorf("scan face records: %w", err)
		}
		for _, rec := range page {
			if _, ok := byUser[rec.UserID]; !ok {
				users = append(users, rec.UserID)
			}
			byUser[rec.UserID] = append(byUser[rec.UserID], rec)
		}
		if next == "" {
			break
		}
		token = next
	}

	for userID := range byUser {
		sortFacesNewestFirst(byUser[userID])
	}
	return users, byUser, nil
}

func sortFacesNewestFirst(recs []store.FaceRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}
