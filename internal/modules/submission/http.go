package submission

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/eskrenkovic/price-tracker/internal/modules/core"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

const (
	ProgressEvent     = "progress"
	formIDKey         = "form_id"
	multipartMemory   = 32 << 20
	multipartOverhead = 1 << 20
	streamKeepAlive   = 25 * time.Second
)

type SubmissionHTTPHandler struct {
	registry   *Registry
	cookies    sessions.Store
	cookieName string
	opts       Options
}

func NewSubmissionHTTPHandler(
	registry *Registry,
	cookies sessions.Store,
	cookieName string,
	opts Options,
) *SubmissionHTTPHandler {
	return &SubmissionHTTPHandler{
		registry:   registry,
		cookies:    cookies,
		cookieName: cookieName,
		opts:       opts,
	}
}

// FormFor returns the form bound to the viewer's form cookie, issuing a new
// cookie when there is none. It must run before anything is written to w.
func (h *SubmissionHTTPHandler) FormFor(w http.ResponseWriter, r *http.Request) *Form {
	session, err := h.cookies.Get(r, h.cookieName)
	if err != nil {
		core.Logger(r.Context()).Debug("discarding unreadable form cookie", zap.Error(err))
	}

	if raw, ok := session.Values[formIDKey].(string); ok {
		if id, err := uuid.Parse(raw); err == nil {
			return h.registry.Get(id)
		}
	}

	id := uuid.New()
	session.Values[formIDKey] = id.String()
	if err := session.Save(r, w); err != nil {
		core.LogError(r.Context(), "failed to save form cookie", zap.Error(err))
	}

	return h.registry.Get(id)
}

func (h *SubmissionHTTPHandler) HandleSubmitURL(w http.ResponseWriter, r *http.Request) {
	form := h.FormFor(w, r)

	input, err := readInput(r)
	if err != nil {
		h.respond(w, r, uuid.Nil, form.Reject(core.NewCommandError(http.StatusBadRequest, MessageMissingFields, err)))
		return
	}

	id, err := form.SubmitURL(r.Context(), input)
	h.respond(w, r, id, err)
}

func (h *SubmissionHTTPHandler) HandleSubmitFile(w http.ResponseWriter, r *http.Request) {
	form := h.FormFor(w, r)

	if h.opts.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadSize+multipartOverhead)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.respond(w, r, uuid.Nil, form.Reject(core.NewCommandError(http.StatusRequestEntityTooLarge, MessageFileTooLarge, ErrFileTooLarge)))
			return
		}
		h.respond(w, r, uuid.Nil, form.Reject(core.NewCommandError(http.StatusBadRequest, MessageMissingFields, err)))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	input := Input{
		Name:  r.PostFormValue("name"),
		Price: r.PostFormValue("price"),
	}

	var file File
	f, header, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		h.respond(w, r, uuid.Nil, form.Reject(core.NewCommandError(http.StatusBadRequest, MessageMissingFields, err)))
		return
	default:
		defer f.Close()
		file = fileFromHeader(f, header)
	}

	id, err := form.SubmitFile(r.Context(), input, file)
	h.respond(w, r, id, err)
}

func (h *SubmissionHTTPHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	form := h.FormFor(w, r)
	core.WriteOK(w, r, form.State())
}

// HandleStreamState pushes the form state, upload progress included, every
// time it changes.
func (h *SubmissionHTTPHandler) HandleStreamState(w http.ResponseWriter, r *http.Request) {
	form := h.FormFor(w, r)

	es, err := core.NewEventStream(w)
	if err != nil {
		core.WriteInternalServerError(w, r, err)
		return
	}

	changes, stop := form.Watch()
	defer stop()

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()

	if err := es.Send(ProgressEvent, form.State()); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := es.Comment("keep-alive"); err != nil {
				return
			}
		case <-changes:
			if err := es.Send(ProgressEvent, form.State()); err != nil {
				return
			}
		}
	}
}

// respond sends browsers posting the plain form back to the list, where the
// form state shows the outcome. Scripts get JSON.
func (h *SubmissionHTTPHandler) respond(w http.ResponseWriter, r *http.Request, id uuid.UUID, err error) {
	if core.WantsHTML(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	if err != nil {
		core.WriteCommandError(w, r, err)
		return
	}

	core.WriteCreated(w, r, "/api/products/"+id.String(), map[string]string{"id": id.String()})
}

func readInput(r *http.Request) (Input, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return core.RequestBody[Input](r)
	}

	if err := r.ParseForm(); err != nil {
		return Input{}, err
	}

	return Input{
		Name:     r.PostFormValue("name"),
		Price:    r.PostFormValue("price"),
		ImageURL: r.PostFormValue("imageUrl"),
	}, nil
}

func fileFromHeader(f multipart.File, header *multipart.FileHeader) File {
	return File{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        f,
	}
}
