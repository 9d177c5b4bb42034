// Package api exposes the settings engine over HTTP and MCP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mvail/prefd/internal/settings"
)

const maxRequestBodySize = 1 << 20 // 1MB

// NewHandler returns the HTTP API. When token is non-empty, every route
// except /health requires Bearer authentication.
func NewHandler(m *settings.Manager, token string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if token != "" {
			r.Use(BearerAuth(token))
		}
		r.Get("/settings", handleListSettings(m))
		r.Get("/settings/{group}/{key}", handleGetSetting(m))
		r.Put("/settings/{group}/{key}", handlePutSetting(m))
		r.Delete("/settings/{group}/{key}", handleResetSetting(m))
		r.Patch("/settings", handlePatchSettings(m))
		r.Post("/reset", handleReset(m))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// settingView is the wire shape of one setting plus its current value.
type settingView struct {
	Key              string `json:"key"`
	Type             string `json:"type"`
	Value            any    `json:"value"`
	Default          any    `json:"default"`
	UserConfigurable bool   `json:"userConfigurable"`
	Validator        any    `json:"validator,omitempty"`
}

func viewOf(groupKey string, s *settings.Setting, current settings.Value) settingView {
	v := settingView{
		Key:              groupKey + "." + s.Key,
		Type:             s.Type.String(),
		Value:            current.Interface(),
		Default:          s.Default.Interface(),
		UserConfigurable: s.UserConfigurable,
	}
	if s.Validator != nil {
		v.Validator = s.Validator.Map()
	}
	return v
}

func handleListSettings(m *settings.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views := []settingView{}
		for _, g := range m.Groups() {
			for _, s := range g.Settings() {
				current, err := g.Get(s.Key)
				if err != nil {
					settingsError(w, err)
					return
				}
				views = append(views, viewOf(g.Key(), s, current))
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

func handleGetSetting(m *settings.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupKey := chi.URLParam(r, "group")
		key := chi.URLParam(r, "key")

		g, err := m.Group(groupKey)
		if err != nil {
			settingsError(w, err)
			return
		}
		var target *settings.Setting
		for _, s := range g.Settings() {
			if s.Key == key {
				target = s
				break
			}
		}
		if target == nil {
			settingsError(w, settings.ErrNotFound)
			return
		}

		current, err := g.Get(key)
		if err != nil {
			settingsError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(viewOf(groupKey, target, current))
	}
}

func handlePutSetting(m *settings.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupKey := chi.URLParam(r, "group")
		key := chi.URLParam(r, "key")
		qualified := groupKey + "." + key

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req putSettingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := req.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		v, err := decodeValue(m, qualified, req.Value)
		if err != nil {
			settingsError(w, err)
			return
		}
		if err := m.Set(r.Context(), qualified, v); err != nil {
			settingsError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"key": qualified, "value": v.Interface()})
	}
}

func handleResetSetting(m *settings.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qualified := chi.URLParam(r, "group") + "." + chi.URLParam(r, "key")
		if err := m.ResetSetting(r.Context(), qualified); err != nil {
			settingsError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"key": qualified, "status": "reset"})
	}
}

func handlePatchSettings(m *settings.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req patchSettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := req.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		values := make(map[string]settings.Value, len(req.Values))
		for key, raw := range req.Values {
			v, err := decodeValue(m, key, raw)
			if err != nil {
				settingsError(w, err)
				return
			}
			values[key] = v
		}

		if err := m.SetMultiple(r.Context(), values); err != nil {
			settingsError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "updated", "count": len(values)})
	}
}

func handleReset(m *settings.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req resetRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
		}
		if err := req.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		var err error
		if req.Group != "" {
			err = m.ResetGroup(r.Context(), req.Group)
		} else {
			err = m.ResetAll(r.Context())
		}
		if err != nil {
			settingsError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "reset"})
	}
}

// errBadValue marks a request value that could not be converted to the
// setting's declared type.
var errBadValue = errors.New("bad value")

// decodeValue converts a raw JSON value into a typed settings value using the
// declared type of the target setting.
func decodeValue(m *settings.Manager, qualified string, raw any) (settings.Value, error) {
	current, err := m.Get(qualified)
	if err != nil {
		return settings.Value{}, err
	}
	v, err := settings.FromInterface(current.Type(), raw)
	if err != nil {
		return settings.Value{}, fmt.Errorf("%w for %q: %v", errBadValue, qualified, err)
	}
	return v, nil
}

// settingsError translates engine errors into HTTP responses.
func settingsError(w http.ResponseWriter, err error) {
	var verr *settings.ValidationError
	var tmerr *settings.TypeMismatchError
	switch {
	case errors.Is(err, settings.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, settings.ErrInvalidKey), errors.Is(err, errBadValue):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, settings.ErrNotConfigurable):
		httpError(w, http.StatusForbidden, "not_configurable", "%v", err)
	case errors.As(err, &verr):
		httpError(w, http.StatusUnprocessableEntity, "validation_error", "%v", err)
	case errors.As(err, &tmerr):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, settings.ErrNotReady), errors.Is(err, settings.ErrDisposed):
		httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
	case errors.Is(err, settings.ErrLockTimeout):
		httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
