package submission

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/eskrenkovic/price-tracker/internal/modules/core"
)

const (
	MessageMissingFields    = "Please fill in all fields."
	MessageInvalidPrice     = "Please enter a valid price."
	MessageSaveFailed       = "Error saving product to database."
	MessageUploadFailed     = "Image upload failed. Please try again."
	MessageFileTooLarge     = "Image is too large."
	MessageUnsupportedImage = "Unsupported image format."
	MessageInFlight         = "A submission is already in progress."
)

var (
	ErrMissingFields      = errors.New("missing fields")
	ErrSubmissionInFlight = errors.New("submission already in flight")
	ErrUploadFailed       = errors.New("upload failed")
	ErrSaveFailed         = errors.New("save failed")
	ErrFileTooLarge       = errors.New("file too large")
	ErrUnsupportedFormat  = errors.New("unsupported file format")
)

var DefaultAllowedFormats = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// Input holds the raw form fields as typed by the viewer.
type Input struct {
	Name     string `json:"name"`
	Price    string `json:"price"`
	ImageURL string `json:"imageUrl"`
}

func (i Input) Validate() error {
	return core.NewValidationError(
		required("name", i.Name),
		required("price", i.Price),
		required("imageUrl", i.ImageURL),
	)
}

// uploadInput is the upload variant of the form, where the image comes from
// a file rather than the URL field.
type uploadInput struct {
	Input
	File File
}

func (i uploadInput) Validate() error {
	var fileErr error
	if strings.TrimSpace(i.File.Filename) == "" || i.File.Body == nil {
		fileErr = fmt.Errorf("%w: image", ErrMissingFields)
	}

	return core.NewValidationError(
		required("name", i.Name),
		required("price", i.Price),
		fileErr,
	)
}

// File is an image picked in the upload variant of the form.
type File struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Options struct {
	MaxUploadSize  int64
	AllowedFormats []string
}

func (o Options) checkFile(f File) error {
	if o.MaxUploadSize > 0 && f.Size > o.MaxUploadSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, f.Size, o.MaxUploadSize)
	}

	formats := o.AllowedFormats
	if len(formats) == 0 {
		formats = DefaultAllowedFormats
	}

	ext := strings.ToLower(filepath.Ext(f.Filename))
	for _, allowed := range formats {
		if ext == strings.ToLower(allowed) {
			return nil
		}
	}

	return fmt.Errorf("%w: '%s'", ErrUnsupportedFormat, ext)
}

// State is what the form shows: the fields, upload progress and the last
// message for the viewer.
type State struct {
	Name       string  `json:"name"`
	Price      string  `json:"price"`
	ImageURL   string  `json:"imageUrl"`
	Progress   float64 `json:"progress"`
	Submitting bool    `json:"submitting"`
	Message    string  `json:"message,omitempty"`
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s", ErrMissingFields, field)
	}
	return nil
}
