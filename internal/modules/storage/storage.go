package storage

import (
	"context"
	"errors"
	"io"
	"math"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const KeyPrefix = "images/"

var ErrObjectNotFound = errors.New("object not found")

type Object struct {
	Key         string
	Body        io.Reader
	Size        int64
	ContentType string
}

// ProgressFunc receives the number of bytes handed to the backend so far and
// the total size. total is zero when the size is unknown. A report equal to
// total is only made once the backend has stored the object.
type ProgressFunc func(transferred, total int64)

type ObjectStorage interface {
	// Upload stores the object and returns the URL it can be downloaded from.
	Upload(ctx context.Context, object Object, progress ProgressFunc) (string, error)
}

// NewKey returns a unique object key that keeps the extension of filename.
func NewKey(filename string) string {
	return KeyPrefix + uuid.NewString() + strings.ToLower(filepath.Ext(filename))
}

// Percent converts a byte count into a percentage in [0, 100], rounded to one
// decimal place.
func Percent(transferred, total int64) float64 {
	if total <= 0 {
		return 0
	}

	p := math.Round(float64(transferred)*1000/float64(total)) / 10
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// holdBack keeps reports short of total, for backends that buffer what they
// read before it reaches the network. The caller reports completion itself.
func holdBack(progress ProgressFunc) ProgressFunc {
	if progress == nil {
		return nil
	}

	return func(transferred, total int64) {
		if total > 0 && transferred >= total {
			transferred = total - 1
		}
		progress(transferred, total)
	}
}

// progressReader reports every read. It deliberately exposes io.Reader only,
// so callers stream from it instead of seeking around it.
type progressReader struct {
	r           io.Reader
	total       int64
	transferred int64
	progress    ProgressFunc
	mu          sync.Mutex
}

func newProgressReader(r io.Reader, total int64, progress ProgressFunc) *progressReader {
	if progress == nil {
		progress = func(int64, int64) {}
	}
	return &progressReader{r: r, total: total, progress: progress}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.transferred += int64(n)
		transferred := p.transferred
		p.mu.Unlock()

		p.progress(transferred, p.total)
	}
	return n, err
}
