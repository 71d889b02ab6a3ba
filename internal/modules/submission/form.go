package submission

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/eskrenkovic/price-tracker/internal/modules/catalog"
	"github.com/eskrenkovic/price-tracker/internal/modules/core"
	"github.com/eskrenkovic/price-tracker/internal/modules/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Form is one viewer's new-product form. At most one submission runs at a
// time; the fields survive a failed submission and are cleared only after
// the product was written.
type Form struct {
	id      uuid.UUID
	store   catalog.Store
	storage storage.ObjectStorage
	opts    Options
	log     *zap.Logger
	now     func() time.Time

	mu         sync.Mutex
	state      State
	lastActive time.Time
	nextWatch  uint64
	watchers   map[uint64]chan struct{}
}

func NewForm(
	id uuid.UUID,
	store catalog.Store,
	objects storage.ObjectStorage,
	opts Options,
	log *zap.Logger,
) *Form {
	return &Form{
		id:         id,
		store:      store,
		storage:    objects,
		opts:       opts,
		log:        log.With(zap.String("form_id", id.String())),
		now:        time.Now,
		lastActive: time.Now(),
		watchers:   make(map[uint64]chan struct{}),
	}
}

func (f *Form) ID() uuid.UUID {
	return f.id
}

// SubmitURL writes a product whose image is an external URL.
func (f *Form) SubmitURL(ctx context.Context, in Input) (uuid.UUID, error) {
	if err := f.begin(in); err != nil {
		return uuid.Nil, err
	}

	if err := core.Validate(in, MessageMissingFields); err != nil {
		return uuid.Nil, f.fail(err)
	}

	price, err := catalog.ParsePrice(in.Price)
	if err != nil {
		return uuid.Nil, f.fail(core.NewCommandError(http.StatusBadRequest, MessageInvalidPrice, err))
	}

	return f.insert(ctx, catalog.Draft{
		Name:     strings.TrimSpace(in.Name),
		Price:    price,
		ImageURL: strings.TrimSpace(in.ImageURL),
	})
}

// SubmitFile uploads the image first and writes the product only once the
// upload produced a download URL.
func (f *Form) SubmitFile(ctx context.Context, in Input, file File) (uuid.UUID, error) {
	in.ImageURL = ""
	if err := f.begin(in); err != nil {
		return uuid.Nil, err
	}

	if err := core.Validate(uploadInput{Input: in, File: file}, MessageMissingFields); err != nil {
		return uuid.Nil, f.fail(err)
	}

	price, err := catalog.ParsePrice(in.Price)
	if err != nil {
		return uuid.Nil, f.fail(core.NewCommandError(http.StatusBadRequest, MessageInvalidPrice, err))
	}

	if err := f.opts.checkFile(file); err != nil {
		status, message := http.StatusBadRequest, MessageUnsupportedImage
		if errors.Is(err, ErrFileTooLarge) {
			status, message = http.StatusRequestEntityTooLarge, MessageFileTooLarge
		}
		return uuid.Nil, f.fail(core.NewCommandError(status, message, err))
	}

	url, err := f.upload(ctx, file)
	if err != nil {
		f.log.Error("image upload failed", zap.String("filename", file.Filename), zap.Error(err))
		return uuid.Nil, f.fail(core.NewCommandError(http.StatusBadGateway, MessageUploadFailed, wrap(ErrUploadFailed, err)))
	}

	return f.insert(ctx, catalog.Draft{
		Name:     strings.TrimSpace(in.Name),
		Price:    price,
		ImageURL: url,
	})
}

func (f *Form) upload(ctx context.Context, file File) (string, error) {
	object := storage.Object{
		Key:         storage.NewKey(file.Filename),
		Body:        file.Body,
		Size:        file.Size,
		ContentType: file.ContentType,
	}

	return f.storage.Upload(context.WithoutCancel(ctx), object, func(transferred, total int64) {
		f.setProgress(transferred, total)
	})
}

func (f *Form) insert(ctx context.Context, d catalog.Draft) (uuid.UUID, error) {
	// The write outlives the screen that started it.
	id, err := f.store.Insert(context.WithoutCancel(ctx), d)
	if err != nil {
		f.log.Error("failed to save product", zap.String("name", d.Name), zap.Error(err))
		return uuid.Nil, f.fail(core.NewCommandError(http.StatusInternalServerError, MessageSaveFailed, wrap(ErrSaveFailed, err)))
	}

	f.mu.Lock()
	f.state = State{}
	f.lastActive = f.now()
	f.mu.Unlock()
	f.notify()

	f.log.Info("product submitted", zap.String("product_id", id.String()))

	return id, nil
}

func (f *Form) begin(in Input) error {
	f.mu.Lock()
	f.lastActive = f.now()

	if f.state.Submitting {
		f.mu.Unlock()
		return core.NewCommandError(http.StatusConflict, MessageInFlight, ErrSubmissionInFlight)
	}

	f.state = State{
		Name:       in.Name,
		Price:      in.Price,
		ImageURL:   in.ImageURL,
		Submitting: true,
	}
	f.mu.Unlock()

	f.notify()

	return nil
}

// fail ends the running submission, keeps the fields and shows the message
// carried by err.
func (f *Form) fail(err error) error {
	f.mu.Lock()
	f.state.Submitting = false
	f.state.Progress = 0
	f.state.Message = messageFor(err)
	f.lastActive = f.now()
	f.mu.Unlock()
	f.notify()

	return err
}

// Reject shows the message carried by err for a request that was turned away
// before it could be submitted. A running submission keeps its state.
func (f *Form) Reject(err error) error {
	f.mu.Lock()
	f.lastActive = f.now()
	if f.state.Submitting {
		f.mu.Unlock()
		return err
	}
	f.state.Message = messageFor(err)
	f.mu.Unlock()
	f.notify()

	return err
}

func messageFor(err error) string {
	var commandErr core.CommandError
	if errors.As(err, &commandErr) {
		return commandErr.Message
	}
	return MessageSaveFailed
}

func (f *Form) setProgress(transferred, total int64) {
	f.mu.Lock()
	if !f.state.Submitting {
		f.mu.Unlock()
		return
	}
	progress := storage.Percent(transferred, total)
	if progress == f.state.Progress {
		f.mu.Unlock()
		return
	}
	f.state.Progress = progress
	f.mu.Unlock()

	f.notify()
}

func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Watch returns a channel that is signalled after every state change.
// Signals coalesce.
func (f *Form) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	f.mu.Lock()
	id := f.nextWatch
	f.nextWatch++
	f.watchers[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.watchers, id)
			f.lastActive = f.now()
			f.mu.Unlock()
		})
	}
}

func (f *Form) notify() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// idleSince reports how long the form has gone untouched and whether it is
// busy. A form is busy while a submission runs or a viewer is watching it.
func (f *Form) idleSince(now time.Time) (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return now.Sub(f.lastActive), f.state.Submitting || len(f.watchers) > 0
}

func (f *Form) touch() {
	f.mu.Lock()
	f.lastActive = f.now()
	f.mu.Unlock()
}

func wrap(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}
