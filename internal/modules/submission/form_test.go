package submission

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eskrenkovic/price-tracker/internal/modules/catalog"
	"github.com/eskrenkovic/price-tracker/internal/modules/core"
	"github.com/eskrenkovic/price-tracker/internal/modules/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingStore struct {
	*catalog.MemoryStore

	mu        sync.Mutex
	inserts   []catalog.Draft
	insertErr error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: catalog.NewMemoryStore()}
}

func (s *recordingStore) Insert(ctx context.Context, d catalog.Draft) (uuid.UUID, error) {
	s.mu.Lock()
	s.inserts = append(s.inserts, d)
	s.mu.Unlock()

	if s.insertErr != nil {
		return uuid.Nil, s.insertErr
	}

	return s.MemoryStore.Insert(ctx, d)
}

func (s *recordingStore) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserts)
}

// failingStorage reads the body and gives up once failAt percent of it went
// through.
type failingStorage struct {
	failAt     float64
	onProgress func(percent float64)
}

func (s *failingStorage) Upload(_ context.Context, object storage.Object, progress storage.ProgressFunc) (string, error) {
	buf := make([]byte, 256*1024)
	var transferred int64

	for {
		n, err := object.Body.Read(buf)
		transferred += int64(n)
		progress(transferred, object.Size)

		percent := storage.Percent(transferred, object.Size)
		if s.onProgress != nil {
			s.onProgress(percent)
		}

		if percent >= s.failAt {
			return "", errors.New("connection reset by peer")
		}

		if errors.Is(err, io.EOF) {
			return "", errors.New("unexpected end of body")
		}
	}
}

// blockingStorage holds the upload until release is closed.
type blockingStorage struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingStorage) Upload(context.Context, storage.Object, storage.ProgressFunc) (string, error) {
	close(s.started)
	<-s.release
	return "https://cdn.example.com/images/blocked.png", nil
}

func newTestForm(store catalog.Store, objects storage.ObjectStorage) *Form {
	return NewForm(uuid.New(), store, objects, Options{MaxUploadSize: 20 << 20}, zap.NewNop())
}

func Test_Form_SubmitURL_Creates_One_Record(t *testing.T) {
	// Arrange
	store := newRecordingStore()
	form := newTestForm(store, storage.NewMemoryStorage("/uploads"))

	input := Input{Name: "Milo 1kg", Price: "12.90", ImageURL: "https://img.example.com/milo.jpg"}

	// Act
	id, err := form.SubmitURL(context.Background(), input)

	// Assert
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)
	require.Equal(t, 1, store.insertCount())

	draft := store.inserts[0]
	require.Equal(t, "Milo 1kg", draft.Name)
	require.True(t, draft.Price.Equal(decimal.RequireFromString("12.90")))
	require.Equal(t, "https://img.example.com/milo.jpg", draft.ImageURL)

	require.Equal(t, State{}, form.State())
}

func Test_Form_SubmitURL_Makes_No_Write_When_Field_Is_Missing(t *testing.T) {
	inputs := []Input{
		{Name: "", Price: "12.90", ImageURL: "https://img.example.com/milo.jpg"},
		{Name: "Milo 1kg", Price: " ", ImageURL: "https://img.example.com/milo.jpg"},
		{Name: "Milo 1kg", Price: "12.90", ImageURL: ""},
	}

	for _, input := range inputs {
		// Arrange
		store := newRecordingStore()
		form := newTestForm(store, storage.NewMemoryStorage("/uploads"))

		// Act
		_, err := form.SubmitURL(context.Background(), input)

		// Assert
		require.ErrorIs(t, err, ErrMissingFields)
		require.Zero(t, store.insertCount())

		state := form.State()
		require.Equal(t, MessageMissingFields, state.Message)
		require.False(t, state.Submitting)
		require.Equal(t, input.Name, state.Name)
	}
}

func Test_Form_SubmitURL_Returns_Error_When_Price_Is_Not_A_Number(t *testing.T) {
	// Arrange
	store := newRecordingStore()
	form := newTestForm(store, storage.NewMemoryStorage("/uploads"))

	// Act
	_, err := form.SubmitURL(context.Background(), Input{Name: "Milo 1kg", Price: "cheap", ImageURL: "https://x/milo.jpg"})

	// Assert
	require.ErrorIs(t, err, catalog.ErrInvalidPrice)
	require.Zero(t, store.insertCount())
	require.Equal(t, MessageInvalidPrice, form.State().Message)
}

func Test_Form_SubmitURL_Keeps_Fields_When_Save_Fails(t *testing.T) {
	// Arrange
	store := newRecordingStore()
	store.insertErr = errors.New("connection refused")
	form := newTestForm(store, storage.NewMemoryStorage("/uploads"))

	input := Input{Name: "Milo 1kg", Price: "12.90", ImageURL: "https://x/milo.jpg"}

	// Act
	_, err := form.SubmitURL(context.Background(), input)

	// Assert
	require.ErrorIs(t, err, ErrSaveFailed)

	var commandErr core.CommandError
	require.True(t, errors.As(err, &commandErr))
	require.Equal(t, http.StatusInternalServerError, commandErr.StatusCode)

	state := form.State()
	require.Equal(t, MessageSaveFailed, state.Message)
	require.Equal(t, input.Name, state.Name)
	require.Equal(t, input.Price, state.Price)
	require.Equal(t, input.ImageURL, state.ImageURL)
	require.False(t, state.Submitting)
}

func Test_Form_SubmitFile_Makes_No_Write_When_Upload_Fails(t *testing.T) {
	// Arrange
	store := newRecordingStore()
	objects := &failingStorage{failAt: 40}
	form := newTestForm(store, objects)

	var peak float64
	objects.onProgress = func(float64) {
		if p := form.State().Progress; p > peak {
			peak = p
		}
	}

	size := 10 << 20
	file := File{
		Filename:    "milo.png",
		ContentType: "image/png",
		Size:        int64(size),
		Body:        bytes.NewReader(make([]byte, size)),
	}

	// Act
	_, err := form.SubmitFile(context.Background(), Input{Name: "Milo 1kg", Price: "12.90"}, file)

	// Assert
	require.ErrorIs(t, err, ErrUploadFailed)
	require.Zero(t, store.insertCount())
	require.GreaterOrEqual(t, peak, 40.0)
	require.Less(t, peak, 50.0)

	state := form.State()
	require.Zero(t, state.Progress)
	require.Equal(t, MessageUploadFailed, state.Message)
	require.Equal(t, "Milo 1kg", state.Name)
	require.False(t, state.Submitting)
}

func Test_Form_SubmitFile_Inserts_Download_URL_After_Upload(t *testing.T) {
	// Arrange
	store := newRecordingStore()
	form := newTestForm(store, storage.NewMemoryStorage("http://localhost:8080/uploads"))

	data := []byte("not really a png")
	file := File{Filename: "Milo.PNG", ContentType: "image/png", Size: int64(len(data)), Body: bytes.NewReader(data)}

	// Act
	_, err := form.SubmitFile(context.Background(), Input{Name: "Milo 1kg", Price: "12.90"}, file)

	// Assert
	require.NoError(t, err)
	require.Equal(t, 1, store.insertCount())

	url := store.inserts[0].ImageURL
	require.True(t, strings.HasPrefix(url, "http://localhost:8080/uploads/images/"))
	require.True(t, strings.HasSuffix(url, ".png"))

	require.Equal(t, State{}, form.State())
}

func Test_Form_SubmitFile_Returns_Error_When_Format_Is_Not_Allowed(t *testing.T) {
	// Arrange
	store := newRecordingStore()
	form := newTestForm(store, storage.NewMemoryStorage("/uploads"))

	file := File{Filename: "milo.exe", Size: 3, Body: strings.NewReader("abc")}

	// Act
	_, err := form.SubmitFile(context.Background(), Input{Name: "Milo 1kg", Price: "12.90"}, file)

	// Assert
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	require.Zero(t, store.insertCount())
}

func Test_Form_SubmitFile_Returns_Error_When_File_Is_Too_Large(t *testing.T) {
	// Arrange
	store := newRecordingStore()
	form := NewForm(uuid.New(), store, storage.NewMemoryStorage("/uploads"), Options{MaxUploadSize: 2}, zap.NewNop())

	file := File{Filename: "milo.png", Size: 3, Body: strings.NewReader("abc")}

	// Act
	_, err := form.SubmitFile(context.Background(), Input{Name: "Milo 1kg", Price: "12.90"}, file)

	// Assert
	require.ErrorIs(t, err, ErrFileTooLarge)
	require.Equal(t, MessageFileTooLarge, form.State().Message)
}

func Test_Form_SubmitFile_Returns_Error_When_File_Is_Missing(t *testing.T) {
	// Arrange
	store := newRecordingStore()
	form := newTestForm(store, storage.NewMemoryStorage("/uploads"))

	// Act
	_, err := form.SubmitFile(context.Background(), Input{Name: "Milo 1kg", Price: "12.90"}, File{})

	// Assert
	require.ErrorIs(t, err, ErrMissingFields)
	require.Zero(t, store.insertCount())
}

func Test_Form_Rejects_Second_Submit_While_One_Is_In_Flight(t *testing.T) {
	// Arrange
	store := newRecordingStore()
	objects := &blockingStorage{started: make(chan struct{}), release: make(chan struct{})}
	form := newTestForm(store, objects)

	input := Input{Name: "Milo 1kg", Price: "12.90"}
	file := File{Filename: "milo.png", Size: 3, Body: strings.NewReader("abc")}

	done := make(chan error, 1)
	go func() {
		_, err := form.SubmitFile(context.Background(), input, file)
		done <- err
	}()

	<-objects.started

	// Act
	_, err := form.SubmitURL(context.Background(), Input{Name: "Rice", Price: "1", ImageURL: "https://x/r.png"})

	// Assert
	require.ErrorIs(t, err, ErrSubmissionInFlight)

	var commandErr core.CommandError
	require.True(t, errors.As(err, &commandErr))
	require.Equal(t, http.StatusConflict, commandErr.StatusCode)
	require.True(t, form.State().Submitting)

	close(objects.release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("first submission did not finish")
	}

	require.Equal(t, 1, store.insertCount())
	require.Equal(t, "Milo 1kg", store.inserts[0].Name)
}

func Test_Form_Write_Survives_Cancelled_Request(t *testing.T) {
	// Arrange
	store := newRecordingStore()
	form := newTestForm(store, storage.NewMemoryStorage("/uploads"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Act
	_, err := form.SubmitURL(ctx, Input{Name: "Milo 1kg", Price: "12.90", ImageURL: "https://x/milo.jpg"})

	// Assert
	require.NoError(t, err)
	require.Equal(t, 1, store.insertCount())
}

func Test_Form_Watch_Signals_State_Changes(t *testing.T) {
	// Arrange
	form := newTestForm(newRecordingStore(), storage.NewMemoryStorage("/uploads"))
	changes, stop := form.Watch()
	defer stop()

	// Act
	_, _ = form.SubmitURL(context.Background(), Input{})

	// Assert
	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("expected a state change")
	}
}

func Test_Form_Reject_Keeps_Running_Submission_Untouched(t *testing.T) {
	// Arrange
	objects := &blockingStorage{started: make(chan struct{}), release: make(chan struct{})}
	form := newTestForm(newRecordingStore(), objects)

	file := File{Filename: "milo.png", ContentType: "image/png", Size: 4, Body: bytes.NewReader([]byte("png!"))}
	done := make(chan error, 1)
	go func() {
		_, err := form.SubmitFile(context.Background(), Input{Name: "Milo 1kg", Price: "12.90"}, file)
		done <- err
	}()
	<-objects.started

	// Act
	err := form.Reject(core.NewCommandError(http.StatusRequestEntityTooLarge, MessageFileTooLarge, ErrFileTooLarge))

	// Assert
	require.ErrorIs(t, err, ErrFileTooLarge)
	state := form.State()
	require.True(t, state.Submitting)
	require.Empty(t, state.Message)

	close(objects.release)
	require.NoError(t, <-done)
}

func Test_Form_Reject_Shows_Message_When_Idle(t *testing.T) {
	// Arrange
	form := newTestForm(newRecordingStore(), storage.NewMemoryStorage("/uploads"))
	changes, stop := form.Watch()
	defer stop()

	// Act
	err := form.Reject(core.NewCommandError(http.StatusRequestEntityTooLarge, MessageFileTooLarge, ErrFileTooLarge))

	// Assert
	require.Error(t, err)
	require.Equal(t, MessageFileTooLarge, form.State().Message)

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("expected watchers to be told")
	}
}
