package env

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ErrNotFound         = errors.New("environment variable with key not found")
	ErrConversionFailed = errors.New("failed to convert environment variable with key to value")
)

var v = newViper()

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	return v
}

func errNotFound(key string) error {
	return fmt.Errorf("key: %s: %w", key, ErrNotFound)
}

func errConversionFailed(key string, typeName string, err error) error {
	return fmt.Errorf("key: %s type: %s: %w: %s", key, typeName, ErrConversionFailed, err.Error())
}

// SetDefault registers the value returned for key when the environment does
// not set it.
func SetDefault(key string, value interface{}) {
	v.SetDefault(key, value)
}

func lookup(key string) (string, bool) {
	if !v.IsSet(key) {
		return "", false
	}
	return v.GetString(key), true
}

func GetStringOrDefault(key string, defaultVal string) string {
	if val, found := lookup(key); found {
		return val
	}

	return defaultVal
}

func MustGetString(key string) string {
	if val, found := lookup(key); found {
		return val
	}

	panic(errNotFound(key))
}

func GetInt(key string) (int, error) {
	envVal, found := lookup(key)
	if !found {
		return 0, errNotFound(key)
	}

	val, err := strconv.Atoi(strings.TrimSpace(envVal))
	if err != nil {
		return 0, errConversionFailed(key, reflect.TypeOf(val).Name(), err)
	}

	return val, nil
}

func GetInt64OrDefault(key string, defaultVal int64) (int64, error) {
	envVal, found := lookup(key)
	if !found {
		return defaultVal, nil
	}

	val, err := strconv.ParseInt(strings.TrimSpace(envVal), 10, 64)
	if err != nil {
		return 0, errConversionFailed(key, reflect.TypeOf(val).Name(), err)
	}

	return val, nil
}

func GetBoolOrDefault(key string, defaultVal bool) (bool, error) {
	envVal, found := lookup(key)
	if !found {
		return defaultVal, nil
	}

	val, err := strconv.ParseBool(strings.TrimSpace(envVal))
	if err != nil {
		return false, errConversionFailed(key, reflect.TypeOf(val).Name(), err)
	}

	return val, nil
}

func GetDurationOrDefault(key string, defaultVal time.Duration) (time.Duration, error) {
	envVal, found := lookup(key)
	if !found {
		return defaultVal, nil
	}

	val, err := time.ParseDuration(strings.TrimSpace(envVal))
	if err != nil {
		return 0, errConversionFailed(key, reflect.TypeOf(val).Name(), err)
	}

	return val, nil
}

// GetStringSliceOrDefault splits the value on commas and whitespace.
func GetStringSliceOrDefault(key string, defaultVal []string) []string {
	envVal, found := lookup(key)
	if !found {
		return defaultVal
	}

	fields := strings.FieldsFunc(envVal, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return defaultVal
	}

	return fields
}
