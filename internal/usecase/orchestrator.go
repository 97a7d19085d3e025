package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/gommon/log"
	"github.com/patrickmn/go-cache"
	"github.com/zeebo/xxh3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/totegamma/attendance-tracker"
	"github.com/totegamma/attendance-tracker/internal/domain"
)

var (
	orchestratorTracer = otel.Tracer("orchestrator")
	orchestratorLog    = log.New("orchestrator")
)

const (
	msgEnterName    = "Please enter your name"
	msgEnterAddress = "Please enter a valid Ethereum address"
	msgEnterDate    = "Please choose a date"
	msgBusy         = "Another operation is still in progress, please wait"
	msgQueryRunning = "This attendance check is already running"
)

type OperationKind string

const (
	OpCreateProfile    OperationKind = "createProfile"
	OpMarkAttendance   OperationKind = "markAttendance"
	OpModifyAttendance OperationKind = "modifyAttendance"
	OpEvictUser        OperationKind = "evictUser"
	OpCheckAttendance  OperationKind = "checkAttendance"
)

// PendingOperation is the single write in flight.
type PendingOperation struct {
	Kind        OperationKind `json:"kind"`
	Target      string        `json:"target"`
	SubmittedAt time.Time     `json:"submittedAt"`
}

type RegisterInput struct {
	Profile string `json:"profile" validate:"required"`
}

type MarkInput struct {
	Date string `json:"date" validate:"required"`
}

type CheckInput struct {
	// Subject defaults to the active identity.
	Subject string `json:"subject" validate:"omitempty,eth_addr"`
	Date    string `json:"date" validate:"required"`
}

type ModifyInput struct {
	Subject string `json:"subject" validate:"required,eth_addr"`
	Date    string `json:"date" validate:"required"`
	Present bool   `json:"present"`
}

type EvictInput struct {
	Subject string `json:"subject" validate:"required,eth_addr"`
}

// CheckResult is the answer to an attendance query. It is not stored.
type CheckResult struct {
	Subject   common.Address `json:"subject"`
	Date      string         `json:"date"`
	Timestamp int64          `json:"timestamp"`
	Present   bool           `json:"present"`
}

// ActionOrchestrator runs user actions against the ledger. At most one
// write is in flight; further requests are rejected, never queued. Local
// state changes only after the ledger confirms.
type ActionOrchestrator struct {
	session  *SessionManager
	ledger   LedgerGateway
	notifier Notifier
	schedule domain.CourseSchedule
	validate *validator.Validate
	queries  *cache.Cache
	now      func() time.Time

	mu      sync.Mutex
	pending *PendingOperation
}

func NewActionOrchestrator(session *SessionManager, ledger LedgerGateway, notifier Notifier, schedule domain.CourseSchedule) *ActionOrchestrator {
	return &ActionOrchestrator{
		session:  session,
		ledger:   ledger,
		notifier: notifier,
		schedule: schedule,
		validate: validator.New(),
		queries:  cache.New(time.Minute, 2*time.Minute),
		now:      time.Now,
	}
}

func (o *ActionOrchestrator) Schedule() domain.CourseSchedule {
	return o.schedule
}

// Pending returns a copy of the operation in flight, if any.
func (o *ActionOrchestrator) Pending() *PendingOperation {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return nil
	}
	p := *o.pending
	return &p
}

// begin runs the local checks and claims the pending slot atomically.
func (o *ActionOrchestrator) begin(kind OperationKind, target string, check func(a acting) error) (acting, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending != nil {
		return acting{}, fmt.Errorf("%s: %w", kind, domain.ErrBusy)
	}
	a, err := o.session.acting()
	if err != nil {
		return acting{}, err
	}
	if err := check(a); err != nil {
		return acting{}, err
	}
	o.pending = &PendingOperation{Kind: kind, Target: target, SubmittedAt: o.now()}
	return a, nil
}

func (o *ActionOrchestrator) finish() {
	o.mu.Lock()
	o.pending = nil
	o.mu.Unlock()
}

// fail reports err to the user. Validation messages are shown verbatim;
// remote failures get the action prefix and a reason bucket.
func (o *ActionOrchestrator) fail(span trace.Span, prefix string, err error) error {
	span.RecordError(err)
	var ve domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrBusy):
		o.notifier.Show(msgBusy, tracker.SeverityWarning)
	case errors.As(err, &ve):
		o.notifier.Show(ve.Reason, tracker.SeverityError)
	default:
		orchestratorLog.Errorf("%s: %v", prefix, err)
		o.notifier.Show(prefix+": "+domain.Reason(err), tracker.SeverityError)
	}
	return err
}

func (o *ActionOrchestrator) checkInput(in any) error {
	err := o.validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return domain.ValidationError{Reason: err.Error()}
	}
	fe := fieldErrs[0]
	switch fe.Field() {
	case "Profile":
		return domain.ValidationError{Field: "profile", Reason: msgEnterName}
	case "Subject":
		return domain.ValidationError{Field: "subject", Reason: msgEnterAddress}
	case "Date":
		return domain.ValidationError{Field: "date", Reason: msgEnterDate}
	default:
		return domain.ValidationError{Field: strings.ToLower(fe.Field()), Reason: fe.Error()}
	}
}

func parseDate(raw string) (time.Time, error) {
	d, err := domain.ParseDate(raw)
	if err != nil {
		return time.Time{}, domain.ValidationError{Field: "date", Reason: "Please choose a valid date (YYYY-MM-DD)"}
	}
	return d, nil
}

// detach keeps a write running after the caller goes away. A submitted
// transaction cannot be cancelled, so neither is waiting for it.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// Register submits createProfile for the active identity.
func (o *ActionOrchestrator) Register(ctx context.Context, in RegisterInput) error {
	ctx, span := orchestratorTracer.Start(ctx, "Orchestrator.Usecase.Register")
	defer span.End()

	in.Profile = strings.TrimSpace(in.Profile)
	profile := tracker.Profile(in.Profile)

	a, err := o.begin(OpCreateProfile, in.Profile, func(a acting) error {
		if err := o.checkInput(in); err != nil {
			return err
		}
		if a.view.Registered() {
			return domain.ValidationError{Field: "profile", Reason: "This account is already registered"}
		}
		return nil
	})
	if err != nil {
		return o.fail(span, "Failed to create profile", err)
	}

	o.session.beginRoleWrite()
	err = o.ledger.CreateProfile(detach(ctx), a.identity, profile)
	if err != nil {
		o.session.endRoleWrite()
		o.finish()
		return o.fail(span, "Failed to create profile", asWriteError(string(OpCreateProfile), err))
	}

	// the slot stays claimed until the confirmed registration is visible
	applied := o.session.applyConfirmedRegistration(a.epoch, profile)
	o.session.endRoleWrite()
	o.finish()
	if applied {
		o.session.reloadRegistration(ctx, a.epoch)
	}
	orchestratorLog.Infof("profile created for %s", a.identity.Hex())
	o.notifier.Show("Profile created successfully!", tracker.SeveritySuccess)
	return nil
}

// MarkAttendance records the active identity as present on a class day.
func (o *ActionOrchestrator) MarkAttendance(ctx context.Context, in MarkInput) error {
	ctx, span := orchestratorTracer.Start(ctx, "Orchestrator.Usecase.MarkAttendance")
	defer span.End()

	var ts int64
	a, err := o.begin(OpMarkAttendance, in.Date, func(a acting) error {
		if err := o.checkInput(in); err != nil {
			return err
		}
		if !a.view.Registered() {
			return domain.ValidationError{Field: "role", Reason: "Register before marking attendance"}
		}
		date, err := parseDate(in.Date)
		if err != nil {
			return err
		}
		if !domain.IsValidAttendanceDay(o.schedule, date) {
			return domain.ValidationError{
				Field:  "date",
				Reason: fmt.Sprintf("%s is not a class day. Valid days: %s", date.Format(domain.DateLayout), strings.Join(o.schedule.DayNames(), ", ")),
			}
		}
		ts = domain.CanonicalTimestamp(date)
		return nil
	})
	if err != nil {
		return o.fail(span, "Failed to mark attendance", err)
	}
	span.SetAttributes(attribute.Int64("timestamp", ts))

	err = o.ledger.MarkAttendance(detach(ctx), a.identity, ts)
	o.finish()
	if err != nil {
		return o.fail(span, "Failed to mark attendance", asWriteError(string(OpMarkAttendance), err))
	}

	o.notifier.Show("Attendance marked successfully!", tracker.SeveritySuccess)
	return nil
}

// ModifyAttendance lets the admin set any subject's status on any date,
// including days outside the schedule.
func (o *ActionOrchestrator) ModifyAttendance(ctx context.Context, in ModifyInput) error {
	ctx, span := orchestratorTracer.Start(ctx, "Orchestrator.Usecase.ModifyAttendance")
	defer span.End()

	in.Subject = strings.TrimSpace(in.Subject)
	var (
		subject common.Address
		ts      int64
	)
	a, err := o.begin(OpModifyAttendance, in.Subject, func(a acting) error {
		if !a.view.IsAdmin {
			return domain.ValidationError{Field: "role", Reason: "Only the administrator can modify attendance"}
		}
		if err := o.checkInput(in); err != nil {
			return err
		}
		date, err := parseDate(in.Date)
		if err != nil {
			return err
		}
		subject = common.HexToAddress(in.Subject)
		ts = domain.CanonicalTimestamp(date)
		return nil
	})
	if err != nil {
		return o.fail(span, "Failed to modify attendance", err)
	}

	err = o.ledger.ModifyAttendance(detach(ctx), a.identity, subject, ts, in.Present)
	o.finish()
	if err != nil {
		return o.fail(span, "Failed to modify attendance", asWriteError(string(OpModifyAttendance), err))
	}

	o.notifier.Show("Attendance modified successfully!", tracker.SeveritySuccess)
	return nil
}

// EvictUser removes a participant. Only the admin may do so.
func (o *ActionOrchestrator) EvictUser(ctx context.Context, in EvictInput) error {
	ctx, span := orchestratorTracer.Start(ctx, "Orchestrator.Usecase.EvictUser")
	defer span.End()

	in.Subject = strings.TrimSpace(in.Subject)
	var subject common.Address
	a, err := o.begin(OpEvictUser, in.Subject, func(a acting) error {
		if !a.view.IsAdmin {
			return domain.ValidationError{Field: "role", Reason: "Only the administrator can evict users"}
		}
		if err := o.checkInput(in); err != nil {
			return err
		}
		subject = common.HexToAddress(in.Subject)
		return nil
	})
	if err != nil {
		return o.fail(span, "Failed to evict user", err)
	}

	err = o.ledger.EvictUser(detach(ctx), a.identity, subject)
	o.finish()
	if err != nil {
		return o.fail(span, "Failed to evict user", asWriteError(string(OpEvictUser), err))
	}

	orchestratorLog.Infof("evicted %s", subject.Hex())
	o.notifier.Show("User evicted successfully!", tracker.SeveritySuccess)
	return nil
}

// CheckAttendance queries the ledger. It does not take the write slot, but
// an identical query already running is rejected.
func (o *ActionOrchestrator) CheckAttendance(ctx context.Context, in CheckInput) (CheckResult, error) {
	ctx, span := orchestratorTracer.Start(ctx, "Orchestrator.Usecase.CheckAttendance")
	defer span.End()

	in.Subject = strings.TrimSpace(in.Subject)
	if err := o.checkInput(in); err != nil {
		return CheckResult{}, o.fail(span, "Failed to check attendance", err)
	}
	a, err := o.session.acting()
	if err != nil {
		return CheckResult{}, o.fail(span, "Failed to check attendance", err)
	}

	subject := a.identity
	if in.Subject != "" {
		subject = common.HexToAddress(in.Subject)
	}
	self := subject == a.identity
	if self && !a.view.Registered() {
		return CheckResult{}, o.fail(span, "Failed to check attendance", domain.ValidationError{Field: "role", Reason: "Register before checking attendance"})
	}
	if !self && !a.view.IsAdmin {
		return CheckResult{}, o.fail(span, "Failed to check attendance", domain.ValidationError{Field: "subject", Reason: "You can only check your own attendance"})
	}

	date, err := parseDate(in.Date)
	if err != nil {
		return CheckResult{}, o.fail(span, "Failed to check attendance", err)
	}
	ts := domain.CanonicalTimestamp(date)

	key := queryKey(OpCheckAttendance, subject, ts)
	if err := o.queries.Add(key, struct{}{}, cache.NoExpiration); err != nil {
		o.notifier.Show(msgQueryRunning, tracker.SeverityWarning)
		return CheckResult{}, fmt.Errorf("%s: %w", OpCheckAttendance, domain.ErrBusy)
	}
	defer o.queries.Delete(key)

	present, err := o.ledger.CheckAttendance(ctx, subject, ts)
	if err != nil {
		return CheckResult{}, o.fail(span, "Failed to check attendance", asReadError(string(OpCheckAttendance), err))
	}

	result := CheckResult{
		Subject:   subject,
		Date:      date.Format(domain.DateLayout),
		Timestamp: ts,
		Present:   present,
	}
	switch {
	case self && present:
		o.notifier.Show("You were present on this date!", tracker.SeveritySuccess)
	case self:
		o.notifier.Show("You were absent on this date", tracker.SeverityWarning)
	case present:
		o.notifier.Show(fmt.Sprintf("%s was present on %s", tracker.ShortAddress(subject), result.Date), tracker.SeveritySuccess)
	default:
		o.notifier.Show(fmt.Sprintf("%s was absent on %s", tracker.ShortAddress(subject), result.Date), tracker.SeverityWarning)
	}
	return result, nil
}

func queryKey(kind OperationKind, subject common.Address, ts int64) string {
	h := xxh3.HashString(string(kind) + ":" + subject.Hex() + ":" + strconv.FormatInt(ts, 10))
	return strconv.FormatUint(h, 16)
}

func asReadError(op string, err error) error {
	if errors.Is(err, domain.ErrRemoteRead) {
		return err
	}
	return domain.RemoteReadError{Op: op, Err: err}
}

func asWriteError(op string, err error) error {
	if errors.Is(err, domain.ErrRemoteWrite) {
		return err
	}
	return domain.RemoteWriteError{Op: op, Stage: domain.StageSubmit, Err: err}
}
