package enrollment

import (
	"context"
	"database/sql"
	"net"
	"strconv"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/logger"
)

const slowQueryThreshold = 500 * time.Millisecond

const selectEnrollment = `SELECT lpe.LP_ID AS lp_id,
       p.PER_DOCUMENT_NUMBER AS document,
       p.PER_FIRST_NAME AS first_name,
       p.PER_LAST_NAME AS last_name,
       p.PER_ANI_FIRST_NAME AS ani_first_name,
       lpe.LP_CREATION_DATE AS created_at,
       lpe.LP_STATUS_PROCESS AS status
FROM log_process_enroll lpe
JOIN person p ON lpe.PER_ID = p.PER_ID
WHERE lpe.LP_STATUS_PROCESS = ? AND lpe.EC_ID = ?`

const latestOrder = ` ORDER BY lpe.LP_CREATION_DATE DESC LIMIT 1`

// row is the scan target of selectEnrollment
type row struct {
	LPID         int64          `gorm:"column:lp_id"`
	Document     sql.NullString `gorm:"column:document"`
	FirstName    sql.NullString `gorm:"column:first_name"`
	LastName     sql.NullString `gorm:"column:last_name"`
	AniFirstName sql.NullString `gorm:"column:ani_first_name"`
	CreatedAt    sql.NullTime   `gorm:"column:created_at"`
	Status       int            `gorm:"column:status"`
}

func (r *row) toRecord() *Record {
	document := strings.TrimSpace(r.Document.String)
	return &Record{
		ExternalID: r.LPID,
		Document:   document,
		Name:       ResolveName(r.FirstName.String, r.LastName.String, r.AniFirstName.String, document),
		EnrolledAt: r.CreatedAt.Time,
		Status:     r.Status,
	}
}

// DialectorFunc returns the gorm dialector used for one unit of work
type DialectorFunc func() gorm.Dialector

// Source queries the enrollment store. Every call opens its own connection
// and closes it before returning.
type Source struct {
	settings  conf.SourceDBSettings
	dialector DialectorFunc
	log       logger.Logger
}

// Option configures a Source
type Option func(*Source)

// WithDialector replaces the MySQL dialector, for tests
func WithDialector(fn DialectorFunc) Option {
	return func(s *Source) {
		s.dialector = fn
	}
}

// NewSource creates a Source for the given connection settings
func NewSource(settings conf.SourceDBSettings, log logger.Logger, opts ...Option) *Source {
	if log == nil {
		log = logger.Global().Module("enrollment")
	}
	s := &Source{settings: settings, log: log}
	s.dialector = func() gorm.Dialector { return mysql.Open(s.DSN()) }
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DSN returns the go-sql-driver connection string
func (s *Source) DSN() string {
	cfg := mysqldriver.NewConfig()
	cfg.User = s.settings.User
	cfg.Passwd = s.settings.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(s.settings.Host, strconv.Itoa(s.settings.Port))
	cfg.DBName = s.settings.Database
	cfg.ParseTime = true
	cfg.Loc = time.Local
	cfg.Timeout = s.settings.ConnectTimeout
	cfg.ReadTimeout = s.settings.ConnectTimeout
	cfg.WriteTimeout = s.settings.ConnectTimeout
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Latest returns the newest qualifying enrollment, or nil when there is none.
func (s *Source) Latest(ctx context.Context) (*Record, error) {
	return s.queryOne(ctx, "latest", selectEnrollment+latestOrder,
		s.settings.SuccessStatus, s.settings.CategoryID)
}

// ByDocument returns the newest qualifying enrollment of one person, or nil.
func (s *Source) ByDocument(ctx context.Context, document string) (*Record, error) {
	document = strings.TrimSpace(document)
	return s.queryOne(ctx, "by-document", selectEnrollment+` AND p.PER_DOCUMENT_NUMBER = ?`+latestOrder,
		s.settings.SuccessStatus, s.settings.CategoryID, document)
}

// Ping checks that the store accepts connections and queries
func (s *Source) Ping(ctx context.Context) error {
	return s.withDB(ctx, "ping", func(db *gorm.DB) error {
		return db.WithContext(ctx).Exec("SELECT 1").Error
	})
}

func (s *Source) queryOne(ctx context.Context, operation, query string, args ...any) (*Record, error) {
	var rows []row
	err := s.withDB(ctx, operation, func(db *gorm.DB) error {
		return db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	rec := rows[0].toRecord()
	if reason, bad := rec.Invalid(); bad {
		s.log.WithContext(ctx).Warn("enrollment record is incomplete",
			logger.Int64("external_id", rec.ExternalID),
			logger.String("reason", reason))
	}
	return rec, nil
}

// withDB opens a connection, runs fn and closes the connection
func (s *Source) withDB(ctx context.Context, operation string, fn func(db *gorm.DB) error) error {
	start := time.Now()

	db, err := gorm.Open(s.dialector(), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(s.log, slowQueryThreshold),
	})
	if err != nil {
		return s.unavailable(err, operation, start)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				s.log.Debug("failed to close enrollment connection", logger.Error(err))
			}
		}
	}()

	if err := fn(db); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.New(ctxErr).
				Component("enrollment").
				Category(errors.CategoryCancellation).
				Context("operation", operation).
				Build()
		}
		return s.unavailable(err, operation, start)
	}
	return nil
}

func (s *Source) unavailable(err error, operation string, start time.Time) error {
	return errors.New(err).
		Component("enrollment").
		Category(errors.CategorySourceUnavailable).
		Context("operation", operation).
		Context("host", s.settings.Host).
		Context("database", s.settings.Database).
		Timing("enrollment-"+operation, time.Since(start)).
		Build()
}
