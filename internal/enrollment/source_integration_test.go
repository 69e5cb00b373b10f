//go:build integration

package enrollment

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/logger"
)

func TestSourceAgainstMySQL(t *testing.T) {
	ctx := t.Context()

	ctr, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("miid"),
		tcmysql.WithUsername("miid"),
		tcmysql.WithPassword("miid"),
		tcmysql.WithScripts(filepath.Join("testdata", "schema.sql")),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	src := NewSource(conf.SourceDBSettings{
		Host:           host,
		Port:           port.Int(),
		User:           "miid",
		Password:       "miid",
		Database:       "miid",
		CategoryID:     11000,
		SuccessStatus:  1,
		ConnectTimeout: 10 * time.Second,
	}, logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))

	require.NoError(t, src.Ping(ctx))

	latest, err := src.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "1020304050", latest.Document)
	assert.Equal(t, "Ana Pérez", latest.Name)

	// the newer status-0 and other-category rows do not qualify
	carlos, err := src.ByDocument(ctx, "99887766")
	require.NoError(t, err)
	require.NotNil(t, carlos)
	assert.Equal(t, "Carlos", carlos.Name)
	assert.Equal(t, 2024, carlos.EnrolledAt.Year())
	assert.Equal(t, 3, int(carlos.EnrolledAt.Month()))

	missing, err := src.ByDocument(ctx, "00000000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
