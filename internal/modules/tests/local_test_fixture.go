package tests

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/eskrenkovic/price-tracker/db/migrations"
	"github.com/eskrenkovic/price-tracker/internal/sqlmigration"

	"github.com/docker/go-connections/nat"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

const (
	postgresImage = "postgres:16-alpine"
	postgresPort  = nat.Port("5432/tcp")
	postgresUser  = "price_tracker"
	postgresPass  = "price_tracker"
	postgresDB    = "price_tracker"

	minioImage  = "minio/minio:RELEASE.2024-08-03T04-33-23Z"
	minioPort   = nat.Port("9000/tcp")
	MinioAccess = "minioadmin"
	MinioSecret = "minioadmin"

	startupTimeout = 2 * time.Minute
)

// LocalTestFixture runs the infrastructure integration tests talk to. With
// SKIP_INFRASTRUCTURE=true it uses DATABASE_URL and S3_ENDPOINT from the
// environment instead of starting containers.
type LocalTestFixture struct {
	DatabaseURL string
	S3Endpoint  string

	containers []tc.Container
}

func NewLocalTestFixture() *LocalTestFixture {
	return &LocalTestFixture{}
}

func (f *LocalTestFixture) Start(ctx context.Context) error {
	if skip := os.Getenv("SKIP_INFRASTRUCTURE"); skip == "true" {
		f.DatabaseURL = os.Getenv("DATABASE_URL")
		f.S3Endpoint = os.Getenv("S3_ENDPOINT")
		return nil
	}

	postgres, err := f.run(ctx, tc.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{string(postgresPort)},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPass,
			"POSTGRES_DB":       postgresDB,
		},
		WaitingFor: wait.ForSQL(postgresPort, "postgres", postgresURL).
			WithStartupTimeout(startupTimeout),
	})
	if err != nil {
		return err
	}

	f.DatabaseURL, err = endpoint(ctx, postgres, postgresPort, postgresURL)
	if err != nil {
		return err
	}

	minio, err := f.run(ctx, tc.ContainerRequest{
		Image:        minioImage,
		ExposedPorts: []string{string(minioPort)},
		Env: map[string]string{
			"MINIO_ROOT_USER":     MinioAccess,
			"MINIO_ROOT_PASSWORD": MinioSecret,
		},
		Cmd: []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").
			WithPort(minioPort).
			WithStartupTimeout(startupTimeout),
	})
	if err != nil {
		return err
	}

	f.S3Endpoint, err = endpoint(ctx, minio, minioPort, func(host string, port nat.Port) string {
		return fmt.Sprintf("%s:%s", host, port.Port())
	})

	return err
}

func (f *LocalTestFixture) Stop(ctx context.Context) error {
	var errs []error
	for i := len(f.containers) - 1; i >= 0; i-- {
		errs = append(errs, f.containers[i].Terminate(ctx))
	}
	f.containers = nil

	return errors.Join(errs...)
}

// OpenDB connects to the fixture database with every application migration
// applied.
func (f *LocalTestFixture) OpenDB(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", f.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if err := sqlmigration.Run(ctx, db, migrations.FS, zap.NewNop()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func (f *LocalTestFixture) run(ctx context.Context, req tc.ContainerRequest) (tc.Container, error) {
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if container != nil {
		f.containers = append(f.containers, container)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", req.Image, err)
	}

	return container, nil
}

func endpoint(ctx context.Context, container tc.Container, port nat.Port, format func(string, nat.Port) string) (string, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", err
	}

	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		return "", err
	}

	return format(host, mapped), nil
}

func postgresURL(host string, port nat.Port) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(postgresUser, postgresPass),
		Host:     fmt.Sprintf("%s:%s", host, port.Port()),
		Path:     postgresDB,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
