package cmshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-cms/internal/log"
	"github.com/keithlinneman/linnemanlabs-cms/internal/store"
)

type navItem struct {
	Label    string    `json:"label"`
	Href     string    `json:"href"`
	Children []navItem `json:"children,omitempty"`
}

type navigation struct {
	Items []navItem `json:"items"`
}

func toNavItems(in []store.NavItem) []navItem {
	out := make([]navItem, 0, len(in))
	for _, it := range in {
		out = append(out, navItem{Label: it.Label, Href: it.Href, Children: toNavItems(it.Children)})
	}
	return out
}

func fromNavItems(in []navItem) []store.NavItem {
	out := make([]store.NavItem, 0, len(in))
	for _, it := range in {
		out = append(out, store.NavItem{Label: it.Label, Href: it.Href, Children: fromNavItems(it.Children)})
	}
	return out
}

func (a *API) handleGetNavigation(w http.ResponseWriter, r *http.Request) {
	flat, err := a.opts.Content.ListNavigation(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, navigation{Items: toNavItems(store.NavigationTree(flat))})
}

func (a *API) handleReplaceNavigation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req navigation
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if err := a.opts.Content.ReplaceNavigation(ctx, fromNavItems(req.Items)); err != nil {
		fail(w, r, err)
		return
	}
	log.FromContext(ctx).Info(ctx, "navigation replaced", "top_level_items", len(req.Items))
	a.handleGetNavigation(w, r)
}
