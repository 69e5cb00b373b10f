// Package device is the client for the ControlID access device HTTP API.
// It owns the device session and exposes the user, group and photo
// operations the reconciliation needs.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/patrickmn/go-cache"

	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/httpclient"
	"github.com/wilfranr/control-id-miid/internal/logger"
)

const (
	// SessionTTL bounds how long a session is reused without a 401
	SessionTTL = 30 * time.Minute

	maxResponseSize   = 4 * 1024 * 1024
	contentTypeJSON   = "application/json"
	contentTypeBinary = "application/octet-stream"
)

// Observer receives one call per device request
type Observer interface {
	ObserveDeviceRequest(endpoint string, status int, duration time.Duration)
}

// Client talks to one device. Safe for concurrent use; logins are serialized.
type Client struct {
	settings conf.DeviceSettings
	baseURL  string
	http     *httpclient.Client
	sessions *cache.Cache
	loginMu  sync.Mutex
	observer Observer
	log      logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(c *httpclient.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithSessionCache shares a session cache between clients
func WithSessionCache(c *cache.Cache) Option {
	return func(cl *Client) {
		cl.sessions = c
	}
}

// WithObserver reports request status and latency, typically to metrics
func WithObserver(o Observer) Option {
	return func(cl *Client) {
		cl.observer = o
	}
}

// NewClient creates a device client for one environment
func NewClient(settings conf.DeviceSettings, log logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.Global().Module("device")
	}
	c := &Client{
		settings: settings,
		baseURL:  strings.TrimRight(settings.BaseURL, "/"),
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpclient.New(nil)
		c.http.SetBeforeRequestHook(func(req *http.Request) {
			c.log.Trace("device request",
				logger.String("method", req.Method),
				logger.String("url", logger.RedactSensitiveData(req.URL.String())))
		})
	}
	if c.sessions == nil {
		c.sessions = cache.New(SessionTTL, 2*SessionTTL)
	}
	return c
}

func (c *Client) sessionKey() string {
	return c.baseURL + "|" + c.settings.Login
}

// Invalidate drops the cached session; the next call logs in again
func (c *Client) Invalidate() {
	c.sessions.Delete(c.sessionKey())
}

// Login authenticates against the device and caches the session
func (c *Client) Login(ctx context.Context) (string, error) {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	return c.loginLocked(ctx)
}

// Ping checks the credentials with a separate login. The cached session
// is left alone so in-flight reconciliations keep using it.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.authenticate(ctx, time.Now())
	return err
}

func (c *Client) loginLocked(ctx context.Context) (string, error) {
	start := time.Now()
	session, err := c.authenticate(ctx, start)
	if err != nil {
		return "", err
	}

	c.sessions.Set(c.sessionKey(), session, cache.DefaultExpiration)
	c.log.WithContext(ctx).Info("device login succeeded",
		logger.String("base_url", c.baseURL),
		logger.Duration("duration", time.Since(start)))
	return session, nil
}

// authenticate posts the credentials and returns the new session
func (c *Client) authenticate(ctx context.Context, start time.Time) (string, error) {
	payload, err := json.Marshal(loginRequest{Login: c.settings.Login, Password: c.settings.Password})
	if err != nil {
		return "", c.authError(err, start)
	}

	status, body, err := c.send(ctx, endpointLogin, nil, contentTypeJSON, payload)
	if err != nil {
		return "", c.authError(err, start)
	}
	if status != http.StatusOK {
		return "", c.authError(fmt.Errorf("login returned status %d", status), start)
	}

	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return "", c.authError(fmt.Errorf("login response is not JSON: %w", err), start)
	}
	session := stringField(obj, "session")
	if session == "" {
		return "", c.authError(fmt.Errorf("login response has no session"), start)
	}
	return session, nil
}

// session returns the cached session or logs in
func (c *Client) session(ctx context.Context) (string, error) {
	if s, ok := c.sessions.Get(c.sessionKey()); ok {
		if session, ok := s.(string); ok && session != "" {
			return session, nil
		}
	}

	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if s, ok := c.sessions.Get(c.sessionKey()); ok {
		if session, ok := s.(string); ok && session != "" {
			return session, nil
		}
	}
	return c.loginLocked(ctx)
}

// call sends an authenticated request. A 401 drops the session, logs in
// again and retries once.
func (c *Client) call(ctx context.Context, endpoint string, params url.Values, contentType string, payload []byte) (int, []byte, error) {
	session, err := c.session(ctx)
	if err != nil {
		return 0, nil, err
	}

	status, body, err := c.send(ctx, endpoint, withSession(params, session), contentType, payload)
	if err != nil || status != http.StatusUnauthorized {
		return status, body, c.networkError(err, endpoint)
	}

	c.log.WithContext(ctx).Warn("device session rejected, logging in again",
		logger.String("endpoint", endpoint))
	c.Invalidate()

	session, err = c.session(ctx)
	if err != nil {
		return 0, nil, err
	}
	status, body, err = c.send(ctx, endpoint, withSession(params, session), contentType, payload)
	return status, body, c.networkError(err, endpoint)
}

func withSession(params url.Values, session string) url.Values {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("session", session)
	return q
}

// send performs one POST and reads the whole response
func (c *Client) send(ctx context.Context, endpoint string, params url.Values, contentType string, payload []byte) (int, []byte, error) {
	target := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	start := time.Now()
	resp, err := c.http.Post(ctx, target, contentType, bytes.NewReader(payload))
	if err != nil {
		c.observe(endpoint, 0, time.Since(start))
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	c.observe(endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return resp.StatusCode, nil, err
	}

	c.log.WithContext(ctx).Debug("device response",
		logger.String("endpoint", endpoint),
		logger.Int("status", resp.StatusCode),
		logger.Duration("duration", time.Since(start)))
	return resp.StatusCode, body, nil
}

func (c *Client) observe(endpoint string, status int, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveDeviceRequest(endpoint, status, d)
	}
}

func (c *Client) postObjects(ctx context.Context, endpoint string, req objectRequest) (int, []byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return 0, nil, err
	}
	return c.call(ctx, endpoint, nil, contentTypeJSON, payload)
}

func (c *Client) loadObjects(ctx context.Context, object string) ([]*jason.Object, error) {
	status, body, err := c.postObjects(ctx, endpointLoadObjects, objectRequest{Object: object})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.statusError(endpointLoadObjects, status, body, errors.CategoryHTTP)
	}

	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, errors.New(err).
			Component("device").
			Category(errors.CategoryFileParsing).
			Context("endpoint", endpointLoadObjects).
			Context("object", object).
			Build()
	}
	return objectList(obj, object), nil
}

// FindByRegistration lists all users and returns the first whose
// registration equals document, or nil.
func (c *Client) FindByRegistration(ctx context.Context, document string) (*User, error) {
	users, err := c.loadObjects(ctx, objectUsers)
	if err != nil {
		return nil, err
	}

	document = strings.TrimSpace(document)
	for _, u := range users {
		if strings.TrimSpace(stringField(u, "registration")) != document {
			continue
		}
		id, ok := int64Field(u, "id")
		if !ok || id <= 0 {
			// without an id a modify would create a second user with this registration
			return nil, errors.Newf("user with registration %s has no usable id", document).
				Component("device").
				Category(errors.CategoryValidation).
				Context("endpoint", endpointLoadObjects).
				Context("registration", document).
				Build()
		}
		return &User{
			ID:           id,
			Registration: document,
			Name:         stringField(u, "name"),
		}, nil
	}
	return nil, nil
}

// Create adds a user and returns the id assigned by the device
func (c *Client) Create(ctx context.Context, name, document string) (int64, error) {
	status, body, err := c.postObjects(ctx, endpointCreateObjects, objectRequest{
		Object: objectUsers,
		Values: []userValues{{Name: name, Registration: document}},
	})
	if err != nil {
		return 0, err
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return 0, c.statusError(endpointCreateObjects, status, body, errors.CategoryDeviceMutation)
	}

	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return 0, c.mutationError(fmt.Errorf("create response is not JSON: %w", err), endpointCreateObjects, body)
	}
	id, strategy, ok := extractID(obj)
	if !ok {
		return 0, c.mutationError(fmt.Errorf("create response carries no user id"), endpointCreateObjects, body)
	}

	c.log.WithContext(ctx).Info("device user created",
		logger.Int64("user_id", id),
		logger.String("registration", document),
		logger.String("id_source", strategy))
	return id, nil
}

// Modify replaces name and registration of an existing user
func (c *Client) Modify(ctx context.Context, id int64, name, document string) error {
	status, body, err := c.postObjects(ctx, endpointCreateOrModify, objectRequest{
		Object: objectUsers,
		Values: []userValues{{ID: id, Name: name, Registration: document}},
	})
	if err != nil {
		return err
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return c.statusError(endpointCreateOrModify, status, body, errors.CategoryDeviceMutation)
	}

	c.log.WithContext(ctx).Info("device user modified",
		logger.Int64("user_id", id),
		logger.String("registration", document))
	return nil
}

// AssignGroup adds the user to the group. An existing membership is
// AlreadyExists, never a failure.
func (c *Client) AssignGroup(ctx context.Context, userID, groupID int64) (Result, error) {
	log := c.log.WithContext(ctx).With(logger.Int64("user_id", userID), logger.Int64("group_id", groupID))

	relations, err := c.loadObjects(ctx, objectUserGroups)
	switch {
	case errors.IsAuth(err):
		return Result{Kind: HardFailure}, err
	case err != nil:
		log.Debug("could not list group memberships, creating directly", logger.Error(err))
	default:
		for _, rel := range relations {
			uid, _ := int64Field(rel, "user_id")
			gid, _ := int64Field(rel, "group_id")
			if uid == userID && gid == groupID {
				log.Debug("group membership already present")
				return Result{Kind: AlreadyExists, StatusCode: http.StatusOK}, nil
			}
		}
	}

	status, body, err := c.postObjects(ctx, endpointCreateObjects, objectRequest{
		Object: objectUserGroups,
		Values: []groupValues{{UserID: userID, GroupID: groupID}},
	})
	if err != nil {
		return Result{Kind: HardFailure}, err
	}

	switch {
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		log.Info("group membership created")
		return Result{Kind: Success, StatusCode: status}, nil
	case (status == http.StatusBadRequest || status == http.StatusConflict) && mentionsDuplicate(body):
		log.Debug("group membership reported as existing", logger.Int("status", status))
		return Result{Kind: AlreadyExists, StatusCode: status, Detail: snippet(body)}, nil
	default:
		return Result{Kind: HardFailure, StatusCode: status, Detail: snippet(body)},
			c.statusError(endpointCreateObjects, status, body, errors.CategoryDeviceMutation)
	}
}

func mentionsDuplicate(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "exists") || strings.Contains(lower, "duplicate")
}

// AssignPhoto uploads the face image of a user. A face already registered
// to another user is Rejected, carrying that user's id when known.
func (c *Client) AssignPhoto(ctx context.Context, userID int64, data []byte) (Result, error) {
	params := url.Values{}
	params.Set("user_id", strconv.FormatInt(userID, 10))
	params.Set("timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	// match=1 enables the duplicate-face check that reports Face exists
	params.Set("match", "1")

	status, body, err := c.call(ctx, endpointSetImage, params, contentTypeBinary, data)
	if err != nil {
		return Result{Kind: HardFailure}, err
	}
	if status != http.StatusOK {
		return Result{Kind: HardFailure, StatusCode: status, Detail: snippet(body)},
			c.statusError(endpointSetImage, status, body, errors.CategoryDeviceMutation)
	}

	result := classifyPhotoResponse(body)
	result.StatusCode = status

	log := c.log.WithContext(ctx).With(logger.Int64("user_id", userID))
	switch result.Kind {
	case Success:
		log.Info("photo assigned")
	case Rejected:
		log.Warn("photo rejected, face belongs to another user",
			logger.Int64("match_user_id", result.ConflictUserID))
	case HardFailure:
		return result, c.mutationError(fmt.Errorf("photo upload failed: %s", result.Detail), endpointSetImage, body)
	}
	return result, nil
}

// classifyPhotoResponse inspects a 200 response of user_set_image
func classifyPhotoResponse(body []byte) Result {
	if len(bytes.TrimSpace(body)) == 0 {
		return Result{Kind: Success}
	}
	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return Result{Kind: Success}
	}
	if ok, err := obj.GetBoolean("success"); err != nil || ok {
		return Result{Kind: Success}
	}

	entries, _ := obj.GetObjectArray("errors")
	for _, e := range entries {
		code, _ := int64Field(e, "code")
		message := stringField(e, "message")
		if code != faceExistsCode && !strings.Contains(strings.ToLower(message), "face exists") {
			continue
		}
		conflict, _ := e.GetInt64("info", "match_user_id")
		return Result{Kind: Rejected, ConflictUserID: conflict, Detail: message}
	}
	return Result{Kind: HardFailure, Detail: snippet(body)}
}

// snippet trims a response body for logs and issue messages
func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

func (c *Client) authError(err error, start time.Time) error {
	return errors.New(err).
		Component("device").
		Category(errors.CategoryAuth).
		Context("base_url", c.baseURL).
		Context("login", c.settings.Login).
		Timing("device-login", time.Since(start)).
		Build()
}

// networkError leaves already categorized errors untouched
func (c *Client) networkError(err error, endpoint string) error {
	if err == nil {
		return nil
	}
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		return err
	}
	return errors.New(err).
		Component("device").
		Category(errors.CategoryNetwork).
		Context("endpoint", endpoint).
		NetworkContext(c.baseURL, httpclient.DefaultTimeout).
		Build()
}

func (c *Client) statusError(endpoint string, status int, body []byte, category errors.ErrorCategory) error {
	return errors.Newf("%s returned status %d", endpoint, status).
		Component("device").
		Category(category).
		Context("endpoint", endpoint).
		Context("status_code", status).
		Context("body", snippet(body)).
		Build()
}

func (c *Client) mutationError(err error, endpoint string, body []byte) error {
	return errors.New(err).
		Component("device").
		Category(errors.CategoryDeviceMutation).
		Context("endpoint", endpoint).
		Context("body", snippet(body)).
		Build()
}
