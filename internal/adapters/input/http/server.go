package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"crestron-home-bridge/internal/domain/entity"
	"crestron-home-bridge/internal/domain/model"
	"crestron-home-bridge/internal/domain/service"
	"crestron-home-bridge/internal/ports"
	"github.com/amimof/huego"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type Server struct {
	bridge ports.BridgePort
	log    logrus.FieldLogger
}

func NewServer(bridge ports.BridgePort, log logrus.FieldLogger) *Server {
	return &Server{bridge: bridge, log: log}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/", s.handleRegister)
		r.Route("/{user}", func(r chi.Router) {
			r.Get("/", s.handleFullState)
			r.Get("/lights", s.handleGetLights)
			r.Get("/lights/{id}", s.handleGetLight)
			r.Put("/lights/{id}/state", s.handleSetLightState)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/options", s.handleGetOptions)
		r.Post("/options", s.handleUpdateOptions)
		r.Get("/entities", s.handleEntities)
		r.Post("/scenes/{id}/activate", s.handleActivateScene)
		r.Post("/services/{service}", s.handleCallService)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("HTTP server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.bridge.Health(r.Context())
	status := http.StatusOK
	if !h.LastUpdateSuccess {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []map[string]any{{"success": map[string]string{"username": "admin"}}})
}

func hueLight(l *entity.Light) *huego.Light {
	lightType, modelID := "On/Off plug-in unit", "LOM001"
	if l.SupportsTransition() {
		lightType, modelID = "Dimmable light", "LWB010"
	}
	return &huego.Light{
		Name:             l.Name(),
		Type:             lightType,
		State:            l.HueState(),
		ModelID:          modelID,
		UniqueID:         l.UniqueID(),
		ManufacturerName: entity.Manufacturer,
	}
}

func (s *Server) lightsByID(ctx context.Context) map[string]*huego.Light {
	lights := make(map[string]*huego.Light)
	for _, l := range s.bridge.Lights(ctx) {
		lights[strconv.Itoa(l.ID())] = hueLight(l)
	}
	return lights
}

func (s *Server) handleFullState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"lights": s.lightsByID(r.Context()),
		"groups": map[string]any{},
		"config": map[string]any{
			"name":       "Crestron Home Bridge",
			"apiversion": "1.11.0",
			"modelid":    "BSB002",
		},
	})
}

func (s *Server) handleGetLights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.lightsByID(r.Context()))
}

func (s *Server) lightFromPath(w http.ResponseWriter, r *http.Request) (*entity.Light, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid light id", http.StatusBadRequest)
		return nil, false
	}
	l, err := s.bridge.Light(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return l, true
}

func (s *Server) handleGetLight(w http.ResponseWriter, r *http.Request) {
	l, ok := s.lightFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, hueLight(l))
}

type hueStateUpdate struct {
	On             *bool   `json:"on"`
	Bri            *uint8  `json:"bri"`
	TransitionTime *uint16 `json:"transitiontime"`
}

func (s *Server) handleSetLightState(w http.ResponseWriter, r *http.Request) {
	l, ok := s.lightFromPath(w, r)
	if !ok {
		return
	}

	var update hueStateUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if update.On == nil && update.Bri == nil {
		http.Error(w, "on or bri is required", http.StatusBadRequest)
		return
	}

	// a brightness without "on" turns the light on
	on := update.On == nil || *update.On
	var transition time.Duration
	if update.TransitionTime != nil {
		// hue transition times are in tenths of a second
		transition = time.Duration(*update.TransitionTime) * 100 * time.Millisecond
	}

	if err := l.ApplyHue(r.Context(), on, update.Bri, transition); err != nil {
		s.log.Errorf("Failed to set light %d: %v", l.ID(), err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	prefix := fmt.Sprintf("/lights/%d/state/", l.ID())
	resp := []map[string]any{}
	if update.On != nil {
		resp = append(resp, map[string]any{"success": map[string]any{prefix + "on": *update.On}})
	}
	if update.Bri != nil {
		resp = append(resp, map[string]any{"success": map[string]any{prefix + "bri": *update.Bri}})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := s.bridge.GetOptions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

// handleUpdateOptions applies a partial options document over the current
// options. Failures are reported as a form error key only.
func (s *Server) handleUpdateOptions(w http.ResponseWriter, r *http.Request) {
	current, err := s.bridge.GetOptions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	opts := *current
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.bridge.UpdateOptions(r.Context(), &opts); err != nil {
		s.log.Warnf("Options update rejected: %v", err)
		status := http.StatusBadGateway
		if errors.Is(err, model.ErrInvalidOptions) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]any{"errors": map[string]string{"base": service.FormErrorKey(err)}})
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Entities(r.Context()))
}

func (s *Server) handleActivateScene(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid scene id", http.StatusBadRequest)
		return
	}
	if err := s.bridge.ActivateScene(r.Context(), id); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.bridge.CallService(r.Context(), chi.URLParam(r, "service"), data); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrUnknownService):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidServiceData):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrCrestron):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
