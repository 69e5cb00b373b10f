package device

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/httpclient"
	"github.com/wilfranr/control-id-miid/internal/logger"
)

const testBaseURL = "http://device.test"

// fakeDevice is a stateful in-memory device behind an httpmock transport
type fakeDevice struct {
	t         *testing.T
	transport *httpmock.MockTransport

	mu          sync.Mutex
	sessions    int
	valid       map[string]bool
	users       []User
	groups      [][2]int64
	nextID      int64
	logins      int
	calls       map[string]int
	photos      map[int64][]byte
	photoHeader http.Header
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()

	d := &fakeDevice{
		t:         t,
		transport: httpmock.NewMockTransport(),
		nextID:    100,
		valid:     make(map[string]bool),
		calls:     make(map[string]int),
		photos:    make(map[int64][]byte),
	}

	d.transport.RegisterResponder(http.MethodPost, testBaseURL+"/login.fcgi", d.login)
	d.transport.RegisterResponder(http.MethodPost, testBaseURL+"/load_objects.fcgi", d.authed("load", d.load))
	d.transport.RegisterResponder(http.MethodPost, testBaseURL+"/create_objects.fcgi", d.authed("create", d.create))
	d.transport.RegisterResponder(http.MethodPost, testBaseURL+"/create_or_modify_objects.fcgi", d.authed("modify", d.modify))
	d.transport.RegisterResponder(http.MethodPost, testBaseURL+"/user_set_image.fcgi", d.authed("image", d.setImage))
	return d
}

func (d *fakeDevice) client(opts ...Option) *Client {
	opts = append([]Option{WithHTTPClient(httpclient.New(&httpclient.Config{Transport: d.transport}))}, opts...)
	return NewClient(conf.DeviceSettings{
		BaseURL:        testBaseURL + "/",
		Login:          "admin",
		Password:       "admin",
		DefaultGroupID: 2,
	}, logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC), opts...)
}

// expireSession makes the device reject every issued session
func (d *fakeDevice) expireSession() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.valid)
}

func (d *fakeDevice) count(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[name]
}

func (d *fakeDevice) groupCount(userID, groupID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, g := range d.groups {
		if g == [2]int64{userID, groupID} {
			n++
		}
	}
	return n
}

func (d *fakeDevice) login(req *http.Request) (*http.Response, error) {
	var body loginRequest
	require.NoError(d.t, json.NewDecoder(req.Body).Decode(&body))

	d.mu.Lock()
	defer d.mu.Unlock()
	d.logins++
	if body.Login != "admin" || body.Password != "admin" {
		return httpmock.NewStringResponse(http.StatusUnauthorized, `{"error":"invalid credentials"}`), nil
	}
	d.sessions++
	session := "session-" + strconv.Itoa(d.sessions)
	d.valid[session] = true
	return httpmock.NewJsonResponse(http.StatusOK, map[string]string{"session": session})
}

func (d *fakeDevice) authed(name string, next func(*http.Request) (*http.Response, error)) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		d.mu.Lock()
		d.calls[name]++
		valid := d.valid[req.URL.Query().Get("session")]
		d.mu.Unlock()

		if !valid {
			return httpmock.NewStringResponse(http.StatusUnauthorized, `{"error":"session invalid"}`), nil
		}
		return next(req)
	}
}

type rawObjectRequest struct {
	Object string            `json:"object"`
	Values []json.RawMessage `json:"values"`
}

func (d *fakeDevice) decode(req *http.Request) rawObjectRequest {
	var body rawObjectRequest
	require.NoError(d.t, json.NewDecoder(req.Body).Decode(&body))
	return body
}

func (d *fakeDevice) load(req *http.Request) (*http.Response, error) {
	body := d.decode(req)

	d.mu.Lock()
	defer d.mu.Unlock()
	switch body.Object {
	case objectUsers:
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"users": d.users})
	case objectUserGroups:
		rels := make([]map[string]int64, 0, len(d.groups))
		for _, g := range d.groups {
			rels = append(rels, map[string]int64{"user_id": g[0], "group_id": g[1]})
		}
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"user_groups": rels})
	default:
		return httpmock.NewStringResponse(http.StatusBadRequest, `{"error":"unknown object"}`), nil
	}
}

func (d *fakeDevice) create(req *http.Request) (*http.Response, error) {
	body := d.decode(req)
	require.Len(d.t, body.Values, 1)

	d.mu.Lock()
	defer d.mu.Unlock()
	switch body.Object {
	case objectUsers:
		var v userValues
		require.NoError(d.t, json.Unmarshal(body.Values[0], &v))
		d.nextID++
		d.users = append(d.users, User{ID: d.nextID, Name: v.Name, Registration: v.Registration})
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"ids": []int64{d.nextID}})
	case objectUserGroups:
		var v groupValues
		require.NoError(d.t, json.Unmarshal(body.Values[0], &v))
		for _, g := range d.groups {
			if g == [2]int64{v.UserID, v.GroupID} {
				return httpmock.NewStringResponse(http.StatusBadRequest, `{"error":"UNIQUE constraint failed: duplicate entry"}`), nil
			}
		}
		d.groups = append(d.groups, [2]int64{v.UserID, v.GroupID})
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"ids": []int64{int64(len(d.groups))}})
	default:
		return httpmock.NewStringResponse(http.StatusBadRequest, `{"error":"unknown object"}`), nil
	}
}

func (d *fakeDevice) modify(req *http.Request) (*http.Response, error) {
	body := d.decode(req)
	require.Len(d.t, body.Values, 1)

	var v userValues
	require.NoError(d.t, json.Unmarshal(body.Values[0], &v))

	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.users {
		if d.users[i].ID == v.ID {
			d.users[i].Name = v.Name
			d.users[i].Registration = v.Registration
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"ids": []int64{v.ID}})
		}
	}
	return httpmock.NewStringResponse(http.StatusBadRequest, `{"error":"user not found"}`), nil
}

func (d *fakeDevice) setImage(req *http.Request) (*http.Response, error) {
	data, err := io.ReadAll(req.Body)
	require.NoError(d.t, err)

	userID, err := strconv.ParseInt(req.URL.Query().Get("user_id"), 10, 64)
	require.NoError(d.t, err)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.photoHeader = req.Header.Clone()
	for owner, existing := range d.photos {
		if owner != userID && string(existing) == string(data) {
			return httpmock.NewStringResponse(http.StatusOK,
				`{"success":false,"errors":[{"code":3,"message":"Face exists","info":{"match_user_id":`+strconv.FormatInt(owner, 10)+`}}]}`), nil
		}
	}
	d.photos[userID] = data
	return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"success": true})
}
