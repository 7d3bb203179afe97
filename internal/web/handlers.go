package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/skim/internal/control"
	"github.com/hpungsan/skim/internal/errors"
)

// Handlers contains HTTP route handlers for the web control surface.
type Handlers struct {
	surface  *control.Surface
	renderer *Renderer
	logger   *zap.Logger
}

// HandleList handles GET /summaries: the saved summaries, newest first.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	st := h.surface.State()
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{
			"enabled":   st.Enabled,
			"summaries": st.Summaries,
		})
		return
	}
	h.renderer.renderPage(w, "list", ListPageData{
		PageData:  h.renderer.page("Summaries", "summaries", st),
		Enabled:   st.Enabled,
		Summaries: st.Summaries,
	})
}

// HandleDetail handles GET /summaries/{id}: one saved summary.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("summary ID is required"))
		return
	}

	st := h.surface.State()
	item, ok := st.Summaries.Find(id)
	if !ok {
		h.renderer.renderError(w, r, errors.NewNotFound(id))
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, item)
		return
	}

	title := item.Title
	if title == "" {
		title = host(item.URL)
	}
	h.renderer.renderPage(w, "detail", DetailPageData{
		PageData:     h.renderer.page(title, "summaries", st),
		Summary:      item,
		RenderedHTML: renderMarkdown(item.Text),
	})
}

// HandleDelete handles DELETE /summaries/{id} and the form fallback
// POST /summaries/{id}/delete.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("summary ID is required"))
		return
	}

	if err := h.surface.DeleteSummary(r.Context(), id); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{
			"deleted": true,
			"id":      id,
		})
		return
	}
	http.Redirect(w, r, "/summaries", http.StatusSeeOther)
}

// HandleSettings handles GET /settings: toggle and credential.
func (h *Handlers) HandleSettings(w http.ResponseWriter, r *http.Request) {
	st := h.surface.State()
	h.renderer.renderPage(w, "settings", SettingsPageData{
		PageData:         h.renderer.page("Settings", "settings", st),
		Enabled:          st.Enabled,
		HasCredential:    st.HasCredential,
		MaskedCredential: st.MaskedCredential,
	})
}

// HandleSetEnabled handles POST /settings/enabled with form field enabled.
// A missing field flips the current value.
func (h *Handlers) HandleSetEnabled(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	var enabled bool
	raw := strings.TrimSpace(r.FormValue("enabled"))
	if raw == "" {
		v, err := h.surface.Toggle(r.Context())
		if err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		enabled = v
	} else {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("enabled must be true or false"))
			return
		}
		if err := h.surface.SetEnabled(r.Context(), v); err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		enabled = v
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"enabled": enabled})
		return
	}
	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}

// HandleSetCredential handles POST /settings/credential with form field api_key.
func (h *Handlers) HandleSetCredential(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	if err := h.surface.SetCredential(r.Context(), r.FormValue("api_key")); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{
			"status":            control.StatusCredentialSaved,
			"masked_credential": h.surface.MaskedCredential(),
		})
		return
	}
	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}

// HandleRemoveCredential handles POST /settings/credential/delete.
func (h *Handlers) HandleRemoveCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.surface.RemoveCredential(r.Context()); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"status": control.StatusCredentialRemoved})
		return
	}
	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}

// HandleState handles GET /state: the surface state as JSON.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, h.surface.State())
}

// HandleEvents handles GET /events: a server-sent event per state change.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.renderer.renderError(w, r, errors.NewInternal(fmt.Errorf("streaming unsupported")))
		return
	}

	states, cancel := h.surface.Observe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			data, err := json.Marshal(st)
			if err != nil {
				h.logger.Warn("encode state", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
