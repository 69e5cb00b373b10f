// Package reconcile converges the device directory with one enrollment
// record: it finds or creates the user, fixes the name, then assigns the
// group and the face photo as independent post-steps.
package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/device"
	"github.com/wilfranr/control-id-miid/internal/enrollment"
	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/logger"
	"github.com/wilfranr/control-id-miid/internal/photo"
)

// Directory is the subset of the device client the engine mutates
type Directory interface {
	FindByRegistration(ctx context.Context, document string) (*device.User, error)
	Create(ctx context.Context, name, document string) (int64, error)
	Modify(ctx context.Context, id int64, name, document string) error
	AssignGroup(ctx context.Context, userID, groupID int64) (device.Result, error)
	AssignPhoto(ctx context.Context, userID int64, data []byte) (device.Result, error)
}

// Photos fetches enrollment photos
type Photos interface {
	Fetch(ctx context.Context, externalID int64, businessContext, document string) (*photo.Asset, error)
}

// Engine reconciles records against one environment
type Engine struct {
	directory       Directory
	photos          Photos
	environment     string
	groupID         int64
	businessContext string
	log             logger.Logger
	now             func() time.Time
}

// NewEngine creates an Engine for the named environment
func NewEngine(name string, env *conf.Environment, directory Directory, photos Photos, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Global().Module("reconcile")
	}
	return &Engine{
		directory:       directory,
		photos:          photos,
		environment:     name,
		groupID:         env.Device.DefaultGroupID,
		businessContext: env.PhotoDB.BusinessContext,
		log:             log,
		now:             time.Now,
	}
}

// Environment returns the name of the environment the engine targets
func (e *Engine) Environment() string {
	return e.environment
}

// EnsureTraceID returns ctx with a trace id, generating one when absent
func EnsureTraceID(ctx context.Context) (context.Context, string) {
	if id := logger.TraceIDFrom(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return logger.WithTraceID(ctx, id), id
}

// NewOutcome starts an Outcome for document in this engine's environment
func (e *Engine) NewOutcome(ctx context.Context, document string) *Outcome {
	return &Outcome{
		TraceID:     logger.TraceIDFrom(ctx),
		Environment: e.environment,
		Document:    document,
		StartedAt:   e.now(),
	}
}

// NotFound returns a finished outcome for a document without a qualifying enrollment
func (e *Engine) NotFound(ctx context.Context, document string) *Outcome {
	out := e.NewOutcome(ctx, document)
	out.Action = ActionSkipped
	out.Reason = ReasonNotFound
	out.addIssue(StepSource, SeverityWarning, "no qualifying enrollment")
	return out
}

// SourceFailure returns a finished outcome for a document whose enrollment could not be read
func (e *Engine) SourceFailure(ctx context.Context, document string, err error) *Outcome {
	out := e.NewOutcome(ctx, document)
	out.Action = ActionFailed
	out.Reason = ReasonSourceFailed
	out.addIssue(StepSource, SeverityError, "%s", logger.RedactSensitiveData(err.Error()))
	return out
}

// Reconcile applies rec to the device. Per-record problems end up in the
// Outcome; only authentication failures are returned as errors.
func (e *Engine) Reconcile(ctx context.Context, rec *enrollment.Record) (*Outcome, error) {
	ctx, _ = EnsureTraceID(ctx)
	out := e.NewOutcome(ctx, rec.Document)
	out.ExternalID = rec.ExternalID
	out.Name = rec.Name

	log := e.log.WithContext(ctx).With(
		logger.String("document", rec.Document),
		logger.Int64("external_id", rec.ExternalID))

	err := e.reconcile(ctx, log, rec, out)
	out.Duration = e.now().Sub(out.StartedAt)

	log.Info("reconciliation finished",
		logger.String("action", string(out.Action)),
		logger.String("reason", out.Reason),
		logger.Int64("user_id", out.UserID),
		logger.Bool("group_assigned", out.GroupAssigned),
		logger.Bool("photo_assigned", out.PhotoAssigned),
		logger.Int("issues", len(out.Issues)),
		logger.Duration("duration", out.Duration))
	return out, err
}

func (e *Engine) reconcile(ctx context.Context, log logger.Logger, rec *enrollment.Record, out *Outcome) error {
	if reason, bad := rec.Invalid(); bad {
		out.Action = ActionSkipped
		out.Reason = ReasonInvalidRecord
		out.addIssue(StepValidate, SeverityWarning, "record skipped: %s", reason)
		return nil
	}

	existing, err := e.directory.FindByRegistration(ctx, rec.Document)
	if err != nil {
		return e.fail(out, StepLookup, ReasonLookupFailed, err)
	}

	if existing == nil {
		id, err := e.directory.Create(ctx, rec.Name, rec.Document)
		if err != nil {
			return e.fail(out, StepCreate, ReasonCreateFailed, err)
		}
		out.UserID = id
		out.Action = ActionCreated
	} else {
		if existing.ID <= 0 {
			return e.fail(out, StepLookup, ReasonLookupFailed,
				errors.Newf("directory user %s has no id", rec.Document).
					Component("reconcile").
					Category(errors.CategoryValidation).
					Build())
		}
		out.UserID = existing.ID
		out.Action = ActionUnchanged
		if !SameName(existing.Name, rec.Name) {
			out.Action = ActionUpdated
			if err := e.directory.Modify(ctx, existing.ID, rec.Name, rec.Document); err != nil {
				if errors.IsAuth(err) {
					return e.fail(out, StepModify, ReasonAuthFailed, err)
				}
				out.addIssue(StepModify, SeverityWarning, "modify failed: %v", err)
				log.Warn("modify failed, continuing with existing user", logger.Error(err))
			}
		}
	}

	if err := e.assignGroup(ctx, out); err != nil {
		return err
	}
	return e.assignPhoto(ctx, log, rec, out)
}

// fail finishes out as failed. Authentication errors are returned to the caller.
func (e *Engine) fail(out *Outcome, step Step, reason string, err error) error {
	out.Action = ActionFailed
	out.Reason = reason
	out.UserID = 0
	if errors.IsAuth(err) {
		out.Reason = ReasonAuthFailed
		out.addIssue(step, SeverityError, "device authentication failed: %v", err)
		return err
	}
	out.addIssue(step, SeverityError, "%s: %v", reason, err)
	return nil
}

func (e *Engine) assignGroup(ctx context.Context, out *Outcome) error {
	res, err := e.directory.AssignGroup(ctx, out.UserID, e.groupID)
	switch {
	case err != nil && errors.IsAuth(err):
		out.addIssue(StepGroup, SeverityError, "device authentication failed: %v", err)
		return err
	case err != nil:
		out.addIssue(StepGroup, SeverityWarning, "group %d not assigned: %v", e.groupID, err)
	case !res.OK():
		out.addIssue(StepGroup, SeverityWarning, "group %d not assigned: %s", e.groupID, res.Kind)
	default:
		out.GroupAssigned = true
	}
	return nil
}

func (e *Engine) assignPhoto(ctx context.Context, log logger.Logger, rec *enrollment.Record, out *Outcome) error {
	asset, err := e.photos.Fetch(ctx, rec.ExternalID, e.businessContext, rec.Document)
	switch {
	case err != nil && (errors.IsSourceUnavailable(err) || errors.IsCategory(err, errors.CategoryPhotoUnavailable)):
		out.addIssue(StepPhotoFetch, SeverityInfo, "photo unavailable: %v", err)
		return nil
	case err != nil:
		out.addIssue(StepPhotoFetch, SeverityWarning, "photo fetch failed: %v", err)
		return nil
	case asset == nil || len(asset.Data) == 0:
		out.addIssue(StepPhotoFetch, SeverityInfo, "no photo available")
		return nil
	}
	if asset.StoreErr != nil {
		out.addIssue(StepPhotoFetch, SeverityWarning, "photo not stored locally: %v", asset.StoreErr)
	}

	res, err := e.directory.AssignPhoto(ctx, out.UserID, asset.Data)
	switch {
	case err != nil && errors.IsAuth(err):
		out.addIssue(StepPhotoAssign, SeverityError, "device authentication failed: %v", err)
		return err
	case res.Kind == device.Rejected:
		out.PhotoRejected = true
		out.ConflictUserID = res.ConflictUserID
		out.addIssue(StepPhotoAssign, SeverityWarning, "photo rejected: face already registered to user %d", res.ConflictUserID)
		log.Warn("photo rejected by device", logger.Int64("match_user_id", res.ConflictUserID))
	case err != nil:
		out.addIssue(StepPhotoAssign, SeverityError, "photo upload failed: %v", err)
	case !res.OK():
		out.addIssue(StepPhotoAssign, SeverityError, "photo upload failed: %s", res.Kind)
	default:
		out.PhotoAssigned = true
	}
	return nil
}

// SameName compares display names after trimming and NFC normalization
func SameName(a, b string) bool {
	return norm.NFC.String(strings.TrimSpace(a)) == norm.NFC.String(strings.TrimSpace(b))
}
