package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setMemoryDrivers(t *testing.T) {
	t.Setenv(StoreDriverEnv, DriverMemory)
	t.Setenv(StorageDriverEnv, DriverMemory)
	t.Setenv(LogModeEnv, "development")
}

func Test_Load_Applies_Defaults_When_Only_Drivers_Are_Set(t *testing.T) {
	// Arrange
	setMemoryDrivers(t)

	// Act
	conf, err := Load()

	// Assert
	require.NoError(t, err)
	require.Equal(t, 8080, conf.Port)
	require.Equal(t, DriverMemory, conf.StoreDriver)
	require.Equal(t, int64(10<<20), conf.Upload.MaxUploadSize)
	require.Equal(t, 30*time.Minute, conf.FormIdleTTL)
	require.Equal(t, 12*time.Hour, conf.Session.MaxAge)
	require.Len(t, conf.Session.Key, 32)
	require.NotNil(t, conf.Logger)
}

func Test_Load_Reads_Values_From_Environment(t *testing.T) {
	// Arrange
	setMemoryDrivers(t)
	t.Setenv(PortEnv, "9090")
	t.Setenv(SessionKeyEnv, "a-very-secret-signing-key")
	t.Setenv(UploadAllowedFormatsEnv, ".png,.webp")
	t.Setenv(FormIdleTTLEnv, "5m")
	t.Setenv(AdminEmailEnv, "admin@example.com")

	// Act
	conf, err := Load()

	// Assert
	require.NoError(t, err)
	require.Equal(t, 9090, conf.Port)
	require.Equal(t, []byte("a-very-secret-signing-key"), conf.Session.Key)
	require.Equal(t, []string{".png", ".webp"}, conf.Upload.AllowedFormats)
	require.Equal(t, 5*time.Minute, conf.FormIdleTTL)
	require.Equal(t, "admin@example.com", conf.Admin.Email)
}

func Test_Load_Returns_Error_When_Driver_Is_Unknown(t *testing.T) {
	// Arrange
	setMemoryDrivers(t)
	t.Setenv(StoreDriverEnv, "mongo")

	// Act
	_, err := Load()

	// Assert
	require.ErrorIs(t, err, ErrUnknownDriver)
}

func Test_Load_Requires_S3_Credentials_For_S3_Driver(t *testing.T) {
	// Arrange
	setMemoryDrivers(t)
	t.Setenv(StorageDriverEnv, DriverS3)

	// Act & Assert
	require.Panics(t, func() {
		_, _ = Load()
	})
}
