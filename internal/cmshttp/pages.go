package cmshttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-cms/internal/log"
	"github.com/keithlinneman/linnemanlabs-cms/internal/store"
)

type pageRequest struct {
	Title  *string `json:"title"`
	Slug   *string `json:"slug"`
	Body   *string `json:"body"`
	Status *string `json:"status"`
}

type pageList struct {
	Pages []store.Page `json:"pages"`
}

func (a *API) handleListPages(w http.ResponseWriter, r *http.Request) {
	pages, err := a.opts.Content.ListPages(r.Context(), !canSeeDrafts(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	if pages == nil {
		pages = []store.Page{}
	}
	writeJSON(w, r, http.StatusOK, pageList{Pages: pages})
}

func (a *API) handleGetPage(w http.ResponseWriter, r *http.Request) {
	p, err := a.opts.Content.PageBySlug(r.Context(), chi.URLParam(r, "slug"), !canSeeDrafts(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

func (a *API) handleGetPageByID(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	p, err := a.opts.Content.PageByID(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

func (a *API) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req pageRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	p := &store.Page{AuthorID: ClaimsFromContext(ctx).Subject}
	if req.Title != nil {
		p.Title = *req.Title
	}
	if req.Slug != nil {
		p.Slug = *req.Slug
	}
	if req.Body != nil {
		p.Body = a.opts.Sanitizer.Sanitize(*req.Body)
	}
	if req.Status != nil {
		p.Status = *req.Status
	}
	if err := a.opts.Content.CreatePage(ctx, p); err != nil {
		fail(w, r, err)
		return
	}
	log.FromContext(ctx).Info(ctx, "page created", "page_id", p.ID, "slug", p.Slug)
	writeJSON(w, r, http.StatusCreated, p)
}

func (a *API) handleUpdatePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := idParam(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req pageRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.Body != nil {
		clean := a.opts.Sanitizer.Sanitize(*req.Body)
		req.Body = &clean
	}
	p, err := a.opts.Content.UpdatePage(ctx, id, store.PageUpdate{
		Title:  req.Title,
		Slug:   req.Slug,
		Body:   req.Body,
		Status: req.Status,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	log.FromContext(ctx).Info(ctx, "page updated", "page_id", p.ID, "slug", p.Slug)
	writeJSON(w, r, http.StatusOK, p)
}

func (a *API) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := idParam(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := a.opts.Content.DeletePage(ctx, id); err != nil {
		fail(w, r, err)
		return
	}
	log.FromContext(ctx).Info(ctx, "page deleted", "page_id", id)
	w.WriteHeader(http.StatusNoContent)
}
