package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eskrenkovic/price-tracker/internal/modules/core"
	"github.com/eskrenkovic/price-tracker/internal/modules/env"
	"github.com/eskrenkovic/price-tracker/internal/modules/storage"
	"github.com/eskrenkovic/price-tracker/internal/modules/submission"

	"go.uber.org/zap"
)

const (
	PortEnv        = "PORT"
	DatabaseUrlEnv = "DATABASE_URL"
	StoreDriverEnv = "STORE_DRIVER"
	LogModeEnv     = "LOG_MODE"

	SessionKeyEnv      = "SESSION_KEY"
	SessionNameEnv     = "SESSION_NAME"
	SessionMaxAgeEnv   = "SESSION_MAX_AGE"
	FormCookieNameEnv  = "FORM_COOKIE_NAME"
	AdminEmailEnv      = "ADMIN_EMAIL"
	AdminPasswordEnv   = "ADMIN_PASSWORD"
	PasswordCostEnv    = "PASSWORD_COST"
	StorageDriverEnv   = "STORAGE_DRIVER"
	S3EndpointEnv      = "S3_ENDPOINT"
	S3AccessKeyIDEnv   = "S3_ACCESS_KEY_ID"
	S3SecretKeyEnv     = "S3_SECRET_ACCESS_KEY"
	S3BucketNameEnv    = "S3_BUCKET_NAME"
	S3RegionEnv        = "S3_REGION"
	S3UseSSLEnv        = "S3_USE_SSL"
	S3PublicBaseURLEnv = "S3_PUBLIC_BASE_URL"
	S3PartSizeEnv      = "S3_PART_SIZE"

	UploadMaxSizeEnv        = "UPLOAD_MAX_SIZE"
	UploadAllowedFormatsEnv = "UPLOAD_ALLOWED_FORMATS"
	FormIdleTTLEnv          = "FORM_IDLE_TTL"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverS3       = "s3"
)

var ErrUnknownDriver = errors.New("unknown driver")

func init() {
	env.SetDefault(PortEnv, 8080)
	env.SetDefault(StoreDriverEnv, DriverPostgres)
	env.SetDefault(StorageDriverEnv, DriverS3)
	env.SetDefault(LogModeEnv, "production")
	env.SetDefault(SessionNameEnv, "price_tracker_session")
	env.SetDefault(FormCookieNameEnv, "price_tracker_form")
	env.SetDefault(SessionMaxAgeEnv, "12h")
	env.SetDefault(PasswordCostEnv, 12)
	env.SetDefault(S3BucketNameEnv, "products")
	env.SetDefault(S3RegionEnv, "us-east-1")
	env.SetDefault(UploadMaxSizeEnv, 10<<20)
	env.SetDefault(FormIdleTTLEnv, "30m")
}

type SessionConfiguration struct {
	Key            []byte
	Name           string
	MaxAge         time.Duration
	FormCookieName string
}

type AdminConfiguration struct {
	Email        string
	Password     string
	PasswordCost int
}

type Config struct {
	Logger *zap.Logger

	Port          int
	DatabaseURL   string
	StoreDriver   string
	StorageDriver string

	Session SessionConfiguration
	Admin   AdminConfiguration

	S3          storage.S3Config
	Upload      submission.Options
	FormIdleTTL time.Duration
}

func Load() (Config, error) {
	logger, err := core.NewLogger(env.GetStringOrDefault(LogModeEnv, "production"))
	if err != nil {
		return Config{}, err
	}

	port, err := env.GetInt(PortEnv)
	if err != nil {
		return Config{}, err
	}

	storeDriver, err := driver(StoreDriverEnv, DriverPostgres, DriverMemory)
	if err != nil {
		return Config{}, err
	}

	storageDriver, err := driver(StorageDriverEnv, DriverS3, DriverMemory)
	if err != nil {
		return Config{}, err
	}

	var dbURL string
	if storeDriver == DriverPostgres {
		dbURL = env.MustGetString(DatabaseUrlEnv)
	}

	session, err := loadSession(logger)
	if err != nil {
		return Config{}, err
	}

	passwordCost, err := env.GetInt(PasswordCostEnv)
	if err != nil {
		return Config{}, err
	}

	s3, err := loadS3(storageDriver)
	if err != nil {
		return Config{}, err
	}

	maxUploadSize, err := env.GetInt64OrDefault(UploadMaxSizeEnv, 10<<20)
	if err != nil {
		return Config{}, err
	}

	formIdleTTL, err := env.GetDurationOrDefault(FormIdleTTLEnv, 30*time.Minute)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Logger:        logger,
		Port:          port,
		DatabaseURL:   dbURL,
		StoreDriver:   storeDriver,
		StorageDriver: storageDriver,
		Session:       session,
		Admin: AdminConfiguration{
			Email:        env.GetStringOrDefault(AdminEmailEnv, ""),
			Password:     env.GetStringOrDefault(AdminPasswordEnv, ""),
			PasswordCost: passwordCost,
		},
		S3: s3,
		Upload: submission.Options{
			MaxUploadSize: maxUploadSize,
			AllowedFormats: env.GetStringSliceOrDefault(
				UploadAllowedFormatsEnv,
				submission.DefaultAllowedFormats,
			),
		},
		FormIdleTTL: formIdleTTL,
	}, nil
}

func driver(key string, allowed ...string) (string, error) {
	value := strings.ToLower(env.GetStringOrDefault(key, allowed[0]))
	for _, a := range allowed {
		if value == a {
			return value, nil
		}
	}

	return "", fmt.Errorf("%s=%s: %w", key, value, ErrUnknownDriver)
}

// loadSession falls back to a random signing key, which signs every viewer
// out on restart.
func loadSession(logger *zap.Logger) (SessionConfiguration, error) {
	maxAge, err := env.GetDurationOrDefault(SessionMaxAgeEnv, 12*time.Hour)
	if err != nil {
		return SessionConfiguration{}, err
	}

	key := []byte(env.GetStringOrDefault(SessionKeyEnv, ""))
	if len(key) == 0 {
		logger.Warn("SESSION_KEY not set, generating an ephemeral signing key")

		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return SessionConfiguration{}, err
		}
	}

	return SessionConfiguration{
		Key:            key,
		Name:           env.GetStringOrDefault(SessionNameEnv, "price_tracker_session"),
		MaxAge:         maxAge,
		FormCookieName: env.GetStringOrDefault(FormCookieNameEnv, "price_tracker_form"),
	}, nil
}

func loadS3(storageDriver string) (storage.S3Config, error) {
	useSSL, err := env.GetBoolOrDefault(S3UseSSLEnv, false)
	if err != nil {
		return storage.S3Config{}, err
	}

	partSize, err := env.GetInt64OrDefault(S3PartSizeEnv, 0)
	if err != nil {
		return storage.S3Config{}, err
	}

	cfg := storage.S3Config{
		Endpoint:      env.GetStringOrDefault(S3EndpointEnv, ""),
		BucketName:    env.GetStringOrDefault(S3BucketNameEnv, "products"),
		Region:        env.GetStringOrDefault(S3RegionEnv, "us-east-1"),
		UseSSL:        useSSL,
		PublicBaseURL: env.GetStringOrDefault(S3PublicBaseURLEnv, ""),
		PartSize:      partSize,
	}

	if storageDriver == DriverS3 {
		cfg.AccessKeyID = env.MustGetString(S3AccessKeyIDEnv)
		cfg.SecretAccessKey = env.MustGetString(S3SecretKeyEnv)
	}

	return cfg, nil
}
