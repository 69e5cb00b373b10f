// Package photo looks up enrollment face photos through a SQL Server stored
// procedure, downloads them and keeps a local copy per document.
package photo

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/gommon/bytes"
	_ "github.com/microsoft/go-mssqldb" // registers the "sqlserver" driver

	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/httpclient"
	"github.com/wilfranr/control-id-miid/internal/logger"
)

const (
	// DownloadTimeout bounds a single photo download
	DownloadTimeout = 30 * time.Second

	maxPhotoSize = 10 * 1024 * 1024
)

// Asset is a downloaded photo and where it was stored. StoreErr is set when
// the local copy could not be written; Data is still usable.
type Asset struct {
	URL      string
	Path     string
	Data     []byte
	StoreErr error
}

// Opener opens the photo store for one unit of work
type Opener func(ctx context.Context) (*sql.DB, error)

// Source fetches photos for enrollments
type Source struct {
	settings conf.PhotoDBSettings
	storage  conf.StorageSettings
	client   *httpclient.Client
	open     Opener
	log      logger.Logger
}

// Option configures a Source
type Option func(*Source)

// WithOpener replaces the SQL Server connection, for tests
func WithOpener(fn Opener) Option {
	return func(s *Source) {
		s.open = fn
	}
}

// WithHTTPClient sets the client used for downloads
func WithHTTPClient(c *httpclient.Client) Option {
	return func(s *Source) {
		s.client = c
	}
}

// NewSource creates a photo Source for one environment
func NewSource(settings conf.PhotoDBSettings, storage conf.StorageSettings, log logger.Logger, opts ...Option) *Source {
	if log == nil {
		log = logger.Global().Module("photo")
	}
	s := &Source{
		settings: settings,
		storage:  storage,
		log:      log,
	}
	s.open = func(context.Context) (*sql.DB, error) {
		return sql.Open("sqlserver", s.ConnectionString())
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = httpclient.New(&httpclient.Config{DefaultTimeout: DownloadTimeout})
	}
	return s
}

// ConnectionString returns the sqlserver:// URL for the photo store
func (s *Source) ConnectionString() string {
	query := url.Values{}
	query.Set("database", s.settings.Database)
	query.Set("encrypt", "true")
	if s.settings.ConnectTimeout > 0 {
		query.Set("connection timeout", strconv.Itoa(int(s.settings.ConnectTimeout.Seconds())))
	}

	host := s.settings.Server
	if s.settings.Port > 0 {
		host = fmt.Sprintf("%s:%d", host, s.settings.Port)
	}
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(s.settings.User, s.settings.Password),
		Host:     host,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// Fetch looks up the photo of an enrollment and downloads it. A nil Asset
// with a nil error means the enrollment has no photo.
func (s *Source) Fetch(ctx context.Context, externalID int64, businessContext, document string) (*Asset, error) {
	if businessContext == "" {
		businessContext = s.settings.BusinessContext
	}
	log := s.log.WithContext(ctx)

	photoURL, err := s.lookupURL(ctx, externalID, businessContext)
	if err != nil {
		return nil, err
	}
	if photoURL == "" {
		log.Debug("no photo url for enrollment", logger.Int64("external_id", externalID))
		return nil, nil
	}

	data, err := s.download(ctx, photoURL)
	if err != nil {
		return nil, err
	}

	path, err := s.store(document, data)
	if err != nil {
		log.Warn("photo downloaded but not stored locally",
			logger.Int64("external_id", externalID),
			logger.Error(err))
		return &Asset{URL: photoURL, Data: data, StoreErr: err}, nil
	}

	log.Info("photo downloaded",
		logger.Int64("external_id", externalID),
		logger.String("size", bytes.Format(int64(len(data)))),
		logger.String("path", path))

	return &Asset{URL: photoURL, Path: path, Data: data}, nil
}

// Ping checks that the photo store accepts queries
func (s *Source) Ping(ctx context.Context) error {
	start := time.Now()
	db, err := s.open(ctx)
	if err != nil {
		return s.unavailable(err, "ping", start)
	}
	defer s.closeDB(db)

	if _, err := db.ExecContext(ctx, "SELECT 1"); err != nil {
		return s.unavailable(err, "ping", start)
	}
	return nil
}

// lookupURL executes the stored procedure and returns the first url/image
// column of the first row.
func (s *Source) lookupURL(ctx context.Context, externalID int64, businessContext string) (string, error) {
	if !conf.ValidStoredProcedure(s.settings.StoredProcedure) {
		return "", errors.Newf("invalid stored procedure name %q", s.settings.StoredProcedure).
			Component("photo").
			Category(errors.CategoryConfiguration).
			Build()
	}

	start := time.Now()
	db, err := s.open(ctx)
	if err != nil {
		return "", s.unavailable(err, "open", start)
	}
	defer s.closeDB(db)

	query := "EXEC " + s.settings.StoredProcedure + " @LPID = @p1, @BusinessContext = @p2"
	rows, err := db.QueryContext(ctx, query, strconv.FormatInt(externalID, 10), businessContext)
	if err != nil {
		return "", s.unavailable(err, "exec", start)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return "", s.unavailable(err, "columns", start)
	}
	index := urlColumn(columns)
	if index < 0 {
		s.log.WithContext(ctx).Debug("stored procedure returned no url column",
			logger.Any("columns", columns))
		return "", nil
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", s.unavailable(err, "read", start)
		}
		return "", nil
	}

	values := make([]any, len(columns))
	for i := range values {
		values[i] = new(any)
	}
	if err := rows.Scan(values...); err != nil {
		return "", s.unavailable(err, "scan", start)
	}

	return strings.TrimSpace(asString(*(values[index].(*any)))), nil
}

// urlColumn returns the index of the first column whose name mentions url or image
func urlColumn(columns []string) int {
	for i, name := range columns {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "url") || strings.Contains(lower, "image") {
			return i
		}
	}
	return -1
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func (s *Source) download(ctx context.Context, photoURL string) ([]byte, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()

	resp, err := s.client.Get(ctx, photoURL)
	if err != nil {
		return nil, s.photoUnavailable(err, photoURL, start)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, s.photoUnavailable(fmt.Errorf("unexpected status %d", resp.StatusCode), photoURL, start)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoSize+1))
	if err != nil {
		return nil, s.photoUnavailable(err, photoURL, start)
	}
	if len(data) == 0 {
		return nil, s.photoUnavailable(fmt.Errorf("empty photo body"), photoURL, start)
	}
	if len(data) > maxPhotoSize {
		return nil, s.photoUnavailable(fmt.Errorf("photo exceeds %s", bytes.Format(maxPhotoSize)), photoURL, start)
	}
	return data, nil
}

// store writes data to <temp_folder>/<document><extension>, replacing any previous copy
func (s *Source) store(document string, data []byte) (string, error) {
	name := filepath.Base(strings.TrimSpace(document))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", errors.Newf("cannot derive a photo file name from document %q", document).
			Component("photo").
			Category(errors.CategoryValidation).
			Build()
	}

	dir := s.storage.TempFolder
	if dir == "" {
		dir = conf.DefaultTempFolder()
	}
	ext := s.storage.ImageExtension
	if ext == "" {
		ext = conf.DefaultImageExtension
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", errors.New(err).
			Component("photo").
			Category(errors.CategoryFileIO).
			Context("directory", dir).
			Build()
	}

	path := filepath.Join(dir, name+ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", errors.New(err).
			Component("photo").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return path, nil
}

func (s *Source) closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		s.log.Debug("failed to close photo store connection", logger.Error(err))
	}
}

func (s *Source) unavailable(err error, operation string, start time.Time) error {
	return errors.New(err).
		Component("photo").
		Category(errors.CategorySourceUnavailable).
		Context("operation", operation).
		Context("server", s.settings.Server).
		Context("database", s.settings.Database).
		Timing("photo-"+operation, time.Since(start)).
		Build()
}

func (s *Source) photoUnavailable(err error, photoURL string, start time.Time) error {
	return errors.New(err).
		Component("photo").
		Category(errors.CategoryPhotoUnavailable).
		NetworkContext(photoURL, DownloadTimeout).
		Timing("photo-download", time.Since(start)).
		Build()
}
