package reconcile

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/device"
	"github.com/wilfranr/control-id-miid/internal/enrollment"
	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/logger"
	"github.com/wilfranr/control-id-miid/internal/photo"
)

// fakeDirectory is an in-memory device directory that records every call
type fakeDirectory struct {
	mu     sync.Mutex
	users  []device.User
	groups map[[2]int64]bool
	photos map[int64]string
	nextID int64
	calls  []string

	lookupErr error
	createErr error
	modifyErr error
	groupErr  error
	photoRes  *device.Result
	photoErr  error
}

func newFakeDirectory(users ...device.User) *fakeDirectory {
	return &fakeDirectory{
		users:  users,
		groups: make(map[[2]int64]bool),
		photos: make(map[int64]string),
		nextID: 500,
	}
}

func (f *fakeDirectory) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeDirectory) callNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDirectory) FindByRegistration(_ context.Context, document string) (*device.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("find")
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	for i := range f.users {
		if f.users[i].Registration == document {
			u := f.users[i]
			return &u, nil
		}
	}
	return nil, nil
}

func (f *fakeDirectory) Create(_ context.Context, name, document string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create")
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	f.users = append(f.users, device.User{ID: f.nextID, Name: name, Registration: document})
	return f.nextID, nil
}

func (f *fakeDirectory) Modify(_ context.Context, id int64, name, document string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("modify")
	if f.modifyErr != nil {
		return f.modifyErr
	}
	for i := range f.users {
		if f.users[i].ID == id {
			f.users[i].Name = name
			f.users[i].Registration = document
		}
	}
	return nil
}

func (f *fakeDirectory) AssignGroup(_ context.Context, userID, groupID int64) (device.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("group")
	if f.groupErr != nil {
		return device.Result{Kind: device.HardFailure}, f.groupErr
	}
	key := [2]int64{userID, groupID}
	if f.groups[key] {
		return device.Result{Kind: device.AlreadyExists}, nil
	}
	f.groups[key] = true
	return device.Result{Kind: device.Success}, nil
}

func (f *fakeDirectory) AssignPhoto(_ context.Context, userID int64, data []byte) (device.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("photo")
	if f.photoRes != nil {
		return *f.photoRes, f.photoErr
	}
	f.photos[userID] = string(data)
	return device.Result{Kind: device.Success, StatusCode: 200}, nil
}

type fakePhotos struct {
	asset *photo.Asset
	err   error
	calls int
}

func (p *fakePhotos) Fetch(_ context.Context, _ int64, _, _ string) (*photo.Asset, error) {
	p.calls++
	return p.asset, p.err
}

func newTestEngine(dir Directory, photos Photos) *Engine {
	env := &conf.Environment{
		Device:  conf.DeviceSettings{DefaultGroupID: 2},
		PhotoDB: conf.PhotoDBSettings{BusinessContext: "MatchId"},
	}
	e := NewEngine("DEV", env, dir, photos, logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))
	return e
}

func anaRecord() *enrollment.Record {
	return &enrollment.Record{ExternalID: 1, Document: "123", Name: "Ana Ruiz", Status: 1}
}

func withPhoto() *fakePhotos {
	return &fakePhotos{asset: &photo.Asset{URL: "http://x/1.jpg", Data: []byte{0xFF, 0xD8}}}
}

func TestReconcile_CreatesAbsentUser(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	photos := withPhoto()
	e := newTestEngine(dir, photos)

	out, err := e.Reconcile(t.Context(), anaRecord())
	require.NoError(t, err)

	assert.Equal(t, ActionCreated, out.Action)
	assert.True(t, out.Created())
	assert.Equal(t, int64(501), out.UserID)
	assert.True(t, out.GroupAssigned)
	assert.True(t, out.PhotoAssigned)
	assert.Empty(t, out.Issues)
	assert.Equal(t, []string{"find", "create", "group", "photo"}, dir.callNames())
	assert.True(t, dir.groups[[2]int64{501, 2}])
	assert.NotEmpty(t, out.TraceID)
	assert.Equal(t, "DEV", out.Environment)
}

func TestReconcile_SecondPassIsUnchangedAndRepairs(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	e := newTestEngine(dir, withPhoto())

	_, err := e.Reconcile(t.Context(), anaRecord())
	require.NoError(t, err)

	out, err := e.Reconcile(t.Context(), anaRecord())
	require.NoError(t, err)

	assert.Equal(t, ActionUnchanged, out.Action)
	assert.False(t, out.Updated())
	assert.True(t, out.GroupAssigned, "an existing membership counts as assigned")
	assert.True(t, out.PhotoAssigned)
	assert.Equal(t, []string{"find", "create", "group", "photo", "find", "group", "photo"}, dir.callNames())
}

func TestReconcile_ModifiesChangedName(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory(device.User{ID: 9, Registration: "123", Name: "Ana R"})
	e := newTestEngine(dir, withPhoto())

	out, err := e.Reconcile(t.Context(), anaRecord())
	require.NoError(t, err)

	assert.Equal(t, ActionUpdated, out.Action)
	assert.Equal(t, int64(9), out.UserID)
	assert.Equal(t, "Ana Ruiz", dir.users[0].Name)
	assert.Equal(t, []string{"find", "modify", "group", "photo"}, dir.callNames())
}

func TestReconcile_NameComparisonIgnoresSpaceAndNormalization(t *testing.T) {
	t.Parallel()

	// "José" with a combining acute accent versus the precomposed form
	dir := newFakeDirectory(device.User{ID: 9, Registration: "7", Name: "  Jose\u0301 Pe\u0301rez "})
	e := newTestEngine(dir, &fakePhotos{})

	out, err := e.Reconcile(t.Context(), &enrollment.Record{Document: "7", Name: "Jos\u00e9 P\u00e9rez"})
	require.NoError(t, err)
	assert.Equal(t, ActionUnchanged, out.Action)
	assert.NotContains(t, dir.callNames(), "modify")
}

func TestReconcile_ModifyFailureContinues(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory(device.User{ID: 9, Registration: "123", Name: "Old"})
	dir.modifyErr = errors.Newf("boom").Category(errors.CategoryDeviceMutation).Build()
	e := newTestEngine(dir, withPhoto())

	out, err := e.Reconcile(t.Context(), anaRecord())
	require.NoError(t, err)

	assert.Equal(t, ActionUpdated, out.Action)
	assert.Equal(t, int64(9), out.UserID)
	assert.True(t, out.GroupAssigned)
	require.Len(t, out.Issues, 1)
	assert.Equal(t, StepModify, out.Issues[0].Step)
	assert.Equal(t, SeverityWarning, out.Issues[0].Severity)
}

func TestReconcile_InvalidRecordMakesNoCalls(t *testing.T) {
	t.Parallel()

	tests := []*enrollment.Record{
		{Document: "123", Name: ""},
		{Document: "123", Name: "   "},
		{Document: "", Name: "Ana"},
	}

	for _, rec := range tests {
		dir := newFakeDirectory()
		photos := &fakePhotos{}
		e := newTestEngine(dir, photos)

		out, err := e.Reconcile(t.Context(), rec)
		require.NoError(t, err)
		assert.Equal(t, ActionSkipped, out.Action)
		assert.Equal(t, ReasonInvalidRecord, out.Reason)
		assert.Empty(t, dir.callNames())
		assert.Zero(t, photos.calls)
	}
}

func TestReconcile_CreateFailureShortCircuits(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	dir.createErr = errors.Newf("no id").Category(errors.CategoryDeviceMutation).Build()
	photos := withPhoto()
	e := newTestEngine(dir, photos)

	out, err := e.Reconcile(t.Context(), anaRecord())
	require.NoError(t, err)

	assert.Equal(t, ActionFailed, out.Action)
	assert.Equal(t, ReasonCreateFailed, out.Reason)
	assert.Zero(t, out.UserID)
	assert.Equal(t, []string{"find", "create"}, dir.callNames())
	assert.Zero(t, photos.calls)
	assert.True(t, out.HasErrors())
}

func TestReconcile_LookupFailure(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	dir.lookupErr = errors.Newf("load_objects.fcgi returned status 500").Category(errors.CategoryHTTP).Build()
	e := newTestEngine(dir, withPhoto())

	out, err := e.Reconcile(t.Context(), anaRecord())
	require.NoError(t, err)
	assert.Equal(t, ActionFailed, out.Action)
	assert.Equal(t, ReasonLookupFailed, out.Reason)
	assert.Equal(t, []string{"find"}, dir.callNames())
}

func TestReconcile_ExistingUserWithoutIDFails(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory(device.User{Registration: "123", Name: "Ana R"})
	photos := withPhoto()
	e := newTestEngine(dir, photos)

	out, err := e.Reconcile(t.Context(), anaRecord())
	require.NoError(t, err)
	assert.Equal(t, ActionFailed, out.Action)
	assert.Equal(t, ReasonLookupFailed, out.Reason)
	assert.Zero(t, out.UserID)
	assert.Equal(t, []string{"find"}, dir.callNames(), "no modify, group or photo call without an id")
	assert.Zero(t, photos.calls)
}

func TestReconcile_AuthFailurePropagates(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	dir.lookupErr = errors.Newf("login returned status 401").Category(errors.CategoryAuth).Build()
	e := newTestEngine(dir, withPhoto())

	out, err := e.Reconcile(t.Context(), anaRecord())
	require.Error(t, err)
	assert.True(t, errors.IsAuth(err))
	require.NotNil(t, out)
	assert.Equal(t, ActionFailed, out.Action)
	assert.Equal(t, ReasonAuthFailed, out.Reason)
}

func TestReconcile_NoPhotoIsInformational(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	e := newTestEngine(dir, &fakePhotos{})

	out, err := e.Reconcile(t.Context(), anaRecord())
	require.NoError(t, err)

	assert.Equal(t, ActionCreated, out.Action)
	assert.True(t, out.GroupAssigned)
	assert.False(t, out.PhotoAssigned)
	require.Len(t, out.Issues, 1)
	assert.Equal(t, Issue{Step: StepPhotoFetch, Severity: SeverityInfo, Message: "no photo available"}, out.Issues[0])
	assert.False(t, out.HasErrors())
	assert.NotContains(t, dir.callNames(), "photo")
}

func TestReconcile_PhotoUnavailableIsInformational(t *testing.T) {
	t.Parallel()

	for _, category := range []errors.ErrorCategory{errors.CategoryPhotoUnavailable, errors.CategorySourceUnavailable} {
		dir := newFakeDirectory()
		photos := &fakePhotos{err: errors.Newf("unreachable").Category(category).Build()}
		e := newTestEngine(dir, photos)

		out, err := e.Reconcile(t.Context(), anaRecord())
		require.NoError(t, err)
		assert.Equal(t, ActionCreated, out.Action)
		require.Len(t, out.Issues, 1)
		assert.Equal(t, SeverityInfo, out.Issues[0].Severity)
		assert.Contains(t, out.Issues[0].Message, "photo unavailable")
	}
}

func TestReconcile_PhotoStoreFailureStillAssigns(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	photos := &fakePhotos{asset: &photo.Asset{
		URL:      "http://x/1.jpg",
		Data:     []byte{0xFF, 0xD8},
		StoreErr: errors.Newf("read-only file system").Category(errors.CategoryFileIO).Build(),
	}}
	e := newTestEngine(dir, photos)

	out, err := e.Reconcile(t.Context(), anaRecord())
	require.NoError(t, err)

	assert.True(t, out.PhotoAssigned)
	assert.False(t, out.HasErrors())
	require.Len(t, out.Issues, 1)
	assert.Equal(t, StepPhotoFetch, out.Issues[0].Step)
	assert.Equal(t, SeverityWarning, out.Issues[0].Severity)
	assert.Contains(t, out.Issues[0].Message, "not stored locally")
}

func TestReconcile_PhotoRejected(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	dir.photoRes = &device.Result{Kind: device.Rejected, StatusCode: 200, ConflictUserID: 77, Detail: "Face exists"}
	e := newTestEngine(dir, withPhoto())

	out, err := e.Reconcile(t.Context(), anaRecord())
	require.NoError(t, err)

	assert.Equal(t, ActionCreated, out.Action, "a rejected photo does not fail the record")
	assert.True(t, out.PhotoRejected)
	assert.False(t, out.PhotoAssigned)
	assert.Equal(t, int64(77), out.ConflictUserID)
	assert.False(t, out.HasErrors())
}

func TestReconcile_PhotoHardFailureIsErrorIssue(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	dir.photoRes = &device.Result{Kind: device.HardFailure, StatusCode: 500}
	dir.photoErr = errors.Newf("user_set_image.fcgi returned status 500").Category(errors.CategoryDeviceMutation).Build()
	e := newTestEngine(dir, withPhoto())

	out, err := e.Reconcile(t.Context(), anaRecord())
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, out.Action)
	assert.False(t, out.PhotoAssigned)
	assert.True(t, out.HasErrors())
}

func TestReconcile_GroupFailureDoesNotBlockPhoto(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	dir.groupErr = errors.Newf("create_objects.fcgi returned status 500").Category(errors.CategoryDeviceMutation).Build()
	e := newTestEngine(dir, withPhoto())

	out, err := e.Reconcile(t.Context(), anaRecord())
	require.NoError(t, err)
	assert.False(t, out.GroupAssigned)
	assert.True(t, out.PhotoAssigned)
	require.Len(t, out.Issues, 1)
	assert.Equal(t, StepGroup, out.Issues[0].Step)
}

func TestReconcile_KeepsCallerTraceID(t *testing.T) {
	t.Parallel()

	e := newTestEngine(newFakeDirectory(), &fakePhotos{})
	ctx := logger.WithTraceID(t.Context(), "trace-1")

	out, err := e.Reconcile(ctx, anaRecord())
	require.NoError(t, err)
	assert.Equal(t, "trace-1", out.TraceID)
}

func TestSameName(t *testing.T) {
	t.Parallel()

	assert.True(t, SameName(" Ana ", "Ana"))
	assert.True(t, SameName("Mu\u0308ller", "M\u00fcller"))
	assert.False(t, SameName("Ana R", "Ana Ruiz"))
	assert.False(t, SameName("ana", "Ana"))
}
