package cmshttp

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/keithlinneman/linnemanlabs-cms/internal/log"
	"github.com/keithlinneman/linnemanlabs-cms/internal/media"
	"github.com/keithlinneman/linnemanlabs-cms/internal/store"
	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

const uploadField = "file"

type mediaView struct {
	store.Media
	URL string `json:"url"`
}

type mediaList struct {
	Media []mediaView `json:"media"`
}

func (a *API) view(r *http.Request, m store.Media) (mediaView, error) {
	u, err := a.opts.Media.URL(r.Context(), m.Key)
	if err != nil {
		return mediaView{}, err
	}
	return mediaView{Media: m, URL: u}, nil
}

func (a *API) handleListMedia(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, err := a.opts.Content.ListMedia(r.Context(), limit, offset)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := mediaList{Media: make([]mediaView, 0, len(items))}
	for _, m := range items {
		v, err := a.view(r, m)
		if err != nil {
			fail(w, r, err)
			return
		}
		out.Media = append(out.Media, v)
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (a *API) handleGetMedia(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	m, err := a.opts.Content.MediaByID(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	v, err := a.view(r, *m)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, v)
}

// handleUpload streams the "file" part of a multipart form into the media store.
// Identical content resolves to the existing record.
func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	part, err := filePart(r)
	if err != nil {
		a.opts.Metrics.ObserveMediaUpload("rejected", 0)
		fail(w, r, err)
		return
	}
	defer part.Close()

	obj, err := a.opts.Media.Put(ctx, part.FileName(), part)
	if err != nil {
		a.opts.Metrics.ObserveMediaUpload(uploadOutcome(err), 0)
		fail(w, r, err)
		return
	}

	status := http.StatusCreated
	rec, err := a.opts.Content.MediaByKey(ctx, obj.Key)
	switch {
	case err == nil:
		status = http.StatusOK
	case errors.Is(err, xerrors.ErrNotFound):
		rec = &store.Media{
			Key:         obj.Key,
			Filename:    part.FileName(),
			ContentType: obj.ContentType,
			Size:        obj.Size,
			SHA256:      obj.SHA256,
			UploadedBy:  ClaimsFromContext(ctx).Subject,
		}
		if err := a.opts.Content.CreateMedia(ctx, rec); err != nil {
			a.opts.Metrics.ObserveMediaUpload("error", 0)
			fail(w, r, err)
			return
		}
	default:
		a.opts.Metrics.ObserveMediaUpload("error", 0)
		fail(w, r, err)
		return
	}

	a.opts.Metrics.ObserveMediaUpload("success", obj.Size)
	log.FromContext(ctx).Info(ctx, "media uploaded", "media_id", rec.ID, "key", rec.Key, "deduplicated", status == http.StatusOK)

	v, err := a.view(r, *rec)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, status, v)
}

type namedPart interface {
	io.ReadCloser
	FileName() string
}

func filePart(r *http.Request) (namedPart, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, xerrors.Mark(xerrors.ErrInvalid, "expected multipart/form-data upload")
	}
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, xerrors.Mark(xerrors.ErrInvalid, "missing %q form field", uploadField)
		}
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				return nil, err
			}
			return nil, xerrors.Mark(xerrors.ErrInvalid, "malformed multipart body")
		}
		if p.FormName() == uploadField {
			return p, nil
		}
		_ = p.Close()
	}
}

func uploadOutcome(err error) string {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, media.ErrTooLarge), errors.As(err, &tooBig),
		errors.Is(err, media.ErrUnsupportedType), errors.Is(err, media.ErrEmpty):
		return "rejected"
	default:
		return "error"
	}
}

func (a *API) handleDeleteMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := idParam(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	m, err := a.opts.Content.DeleteMedia(ctx, id)
	if err != nil {
		fail(w, r, err)
		return
	}
	// the record is gone either way; a failed object delete leaves an orphan to clean up
	if err := a.opts.Media.Delete(ctx, m.Key); err != nil {
		log.FromContext(ctx).Error(ctx, err, "delete media object", "key", m.Key)
	}
	log.FromContext(ctx).Info(ctx, "media deleted", "media_id", id, "key", m.Key)
	w.WriteHeader(http.StatusNoContent)
}
