package service

import (
	"context"
	"errors"
	"fmt"

	"crestron-home-bridge/internal/domain/model"
	"crestron-home-bridge/internal/ports"
	"github.com/sirupsen/logrus"
)

var (
	ErrCannotConnect = errors.New("cannot connect")
	ErrInvalidAuth   = errors.New("invalid authentication")
)

// Form error keys shown to the user by the options flow.
const (
	FormErrorCannotConnect = "cannot_connect"
	FormErrorInvalidAuth   = "invalid_auth"
	FormErrorUnknown       = "unknown"
)

// ValidationResult describes a hub that accepted the submitted options.
type ValidationResult struct {
	Title       string `json:"title"`
	LightsCount int    `json:"lights_count"`
}

// ValidateInput checks that the options reach a hub and authenticate,
// using a client separate from the running one.
func ValidateInput(ctx context.Context, newClient ports.CrestronFactory, opts model.Options, log logrus.FieldLogger) (ValidationResult, error) {
	if err := opts.Validate(); err != nil {
		return ValidationResult{}, err
	}

	api := newClient(opts.Host, opts.APIToken)
	defer api.Close()

	if err := api.Authenticate(ctx); err != nil {
		return ValidationResult{}, classify(err, log)
	}
	lights, err := api.GetLights(ctx)
	if err != nil {
		return ValidationResult{}, classify(err, log)
	}
	return ValidationResult{
		Title:       fmt.Sprintf("Crestron Home (%s)", opts.Host),
		LightsCount: len(lights),
	}, nil
}

func classify(err error, log logrus.FieldLogger) error {
	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		log.Errorf("Authentication error: %v", err)
		return fmt.Errorf("%w: %w", ErrInvalidAuth, err)
	}
	log.Errorf("Error connecting to Crestron Home: %v", err)
	return fmt.Errorf("%w: %w", ErrCannotConnect, err)
}

// FormErrorKey maps a validation failure to the key reported under
// errors.base. Raw error text never reaches the form.
func FormErrorKey(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAuth):
		return FormErrorInvalidAuth
	case errors.Is(err, ErrCannotConnect):
		return FormErrorCannotConnect
	}
	return FormErrorUnknown
}

// OptionsService persists options and pushes them to a running coordinator.
type OptionsService struct {
	repo      ports.OptionsRepository
	newClient ports.CrestronFactory
	log       logrus.FieldLogger

	coordinator *Coordinator
}

func NewOptionsService(repo ports.OptionsRepository, newClient ports.CrestronFactory, log logrus.FieldLogger) *OptionsService {
	return &OptionsService{repo: repo, newClient: newClient, log: log}
}

// Attach binds the coordinator that receives applied options.
func (s *OptionsService) Attach(c *Coordinator) {
	s.coordinator = c
}

func (s *OptionsService) GetOptions(ctx context.Context) (*model.Options, error) {
	return s.repo.Get(ctx)
}

// UpdateOptions validates against the hub, saves, then applies.
func (s *OptionsService) UpdateOptions(ctx context.Context, opts *model.Options) error {
	if _, err := ValidateInput(ctx, s.newClient, *opts, s.log); err != nil {
		return err
	}
	if err := s.repo.Save(ctx, opts); err != nil {
		return err
	}
	return s.Apply(ctx, *opts)
}

// Apply pushes already-persisted options to the coordinator, as when the
// options file changes on disk.
func (s *OptionsService) Apply(ctx context.Context, opts model.Options) error {
	if s.coordinator == nil {
		return nil
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	diff := s.coordinator.ApplyOptions(ctx, opts)
	if len(diff.Added)+len(diff.Removed) > 0 {
		s.log.Infof("Scene entities updated: %d added, %d removed", len(diff.Added), len(diff.Removed))
	}
	return nil
}
