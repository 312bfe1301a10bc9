package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"soulcrush/internal/common"
	"soulcrush/internal/metrics"
	"soulcrush/internal/model"
	"soulcrush/internal/refresh"
)

// ApplicationStore is the persistence the service needs. *store.Store
// implements it.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, req model.CreateCompanyRequest, status model.Status) (model.ApplicationResponse, error)
	ListApplications(ctx context.Context) ([]model.ApplicationResponse, error)
	DeleteApplication(ctx context.Context, id uuid.UUID) (int64, error)
	UpdateApplicationStatus(ctx context.Context, id uuid.UUID, status model.Status) (int64, error)
	AdvanceApplicationStatus(ctx context.Context, id uuid.UUID) (model.Status, bool, error)
}

// Recorder is told about every committed mutation. *refresh.Controller
// implements it.
type Recorder interface {
	Record(ctx context.Context, k refresh.Kind) refresh.Versions
}

// ApplicationService validates requests, performs the store writes and
// records each committed mutation so the list view refreshes.
type ApplicationService interface {
	ListApplications(ctx context.Context) ([]model.ApplicationResponse, error)
	CreateApplication(ctx context.Context, req model.CreateApplicationRequest) (model.ApplicationResponse, refresh.Versions, error)
	DeleteApplication(ctx context.Context, id uuid.UUID) (refresh.Versions, error)
	UpdateApplicationStatus(ctx context.Context, id uuid.UUID, status model.Status) (refresh.Versions, error)
	AdvanceApplicationStatus(ctx context.Context, id uuid.UUID) (model.Status, refresh.Versions, error)
}

type applicationService struct {
	store    ApplicationStore
	recorder Recorder
	logger   *slog.Logger
	validate *validator.Validate
}

// NewApplicationService wires a service over st. Mutations are reported
// to rec after they commit and never before.
func NewApplicationService(st ApplicationStore, rec Recorder, logger *slog.Logger) ApplicationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &applicationService{
		store:    st,
		recorder: rec,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *applicationService) ListApplications(ctx context.Context) ([]model.ApplicationResponse, error) {
	return s.store.ListApplications(ctx)
}

// companyInput mirrors CreateCompanyRequest with validation rules.
type companyInput struct {
	Name     string `validate:"required"`
	Website  string `validate:"required,http_url"`
	CEO      string `validate:"required"`
	Industry string `validate:"required"`
}

func (s *applicationService) validateCreate(req model.CreateApplicationRequest) (model.CreateCompanyRequest, model.Status, error) {
	in := companyInput{
		Name:     strings.TrimSpace(req.Company.Name),
		Website:  strings.TrimSpace(req.Company.Website),
		CEO:      strings.TrimSpace(req.Company.CEO),
		Industry: strings.TrimSpace(req.Company.Industry),
	}

	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fieldMessage(fe))
			}
			return model.CreateCompanyRequest{}, "", common.ValidationError(strings.Join(msgs, "; "))
		}
		return model.CreateCompanyRequest{}, "", common.ValidationError(err.Error())
	}

	status := model.DefaultStatus
	if req.Status != "" {
		parsed, err := model.ParseStatus(req.Status)
		if err != nil {
			return model.CreateCompanyRequest{}, "", err
		}
		status = parsed
	}

	return model.CreateCompanyRequest{
		Name:     in.Name,
		Website:  in.Website,
		CEO:      in.CEO,
		Industry: in.Industry,
	}, status, nil
}

func fieldMessage(fe validator.FieldError) string {
	field := "company." + strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "http_url":
		return field + " must be an absolute http(s) URL"
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}

func (s *applicationService) CreateApplication(ctx context.Context, req model.CreateApplicationRequest) (model.ApplicationResponse, refresh.Versions, error) {
	company, status, err := s.validateCreate(req)
	if err != nil {
		metrics.RecordMutation(refresh.KindCreate.String(), false)
		return model.ApplicationResponse{}, refresh.Versions{}, err
	}

	s.logger.Info("creating application", "company", company.Name, "status", status)
	created, err := s.store.CreateApplication(ctx, company, status)
	if err != nil {
		metrics.RecordMutation(refresh.KindCreate.String(), false)
		return model.ApplicationResponse{}, refresh.Versions{}, err
	}

	metrics.RecordMutation(refresh.KindCreate.String(), true)
	key := s.recorder.Record(ctx, refresh.KindCreate)
	s.logger.Info("application created", "application_id", created.ID, "company", company.Name, "key", key.String())
	return created, key, nil
}

func (s *applicationService) DeleteApplication(ctx context.Context, id uuid.UUID) (refresh.Versions, error) {
	s.logger.Info("deleting application", "application_id", id)
	n, err := s.store.DeleteApplication(ctx, id)
	if err != nil {
		metrics.RecordMutation(refresh.KindDelete.String(), false)
		return refresh.Versions{}, err
	}
	if n == 0 {
		s.logger.Debug("delete matched no application", "application_id", id)
	}

	metrics.RecordMutation(refresh.KindDelete.String(), true)
	return s.recorder.Record(ctx, refresh.KindDelete), nil
}

func (s *applicationService) UpdateApplicationStatus(ctx context.Context, id uuid.UUID, status model.Status) (refresh.Versions, error) {
	if _, err := model.ParseStatus(status.String()); err != nil {
		metrics.RecordMutation(refresh.KindUpdate.String(), false)
		return refresh.Versions{}, err
	}

	s.logger.Info("updating application status", "application_id", id, "status", status)
	n, err := s.store.UpdateApplicationStatus(ctx, id, status)
	if err != nil {
		metrics.RecordMutation(refresh.KindUpdate.String(), false)
		return refresh.Versions{}, err
	}
	if n == 0 {
		s.logger.Debug("status update matched no application", "application_id", id)
	}

	metrics.RecordMutation(refresh.KindUpdate.String(), true)
	return s.recorder.Record(ctx, refresh.KindUpdate), nil
}

// AdvanceApplicationStatus moves the application one step along the
// status cycle. An absent id is a no-op that still reports success; the
// returned status is then empty.
func (s *applicationService) AdvanceApplicationStatus(ctx context.Context, id uuid.UUID) (model.Status, refresh.Versions, error) {
	s.logger.Info("advancing application status", "application_id", id)
	next, found, err := s.store.AdvanceApplicationStatus(ctx, id)
	if err != nil {
		metrics.RecordMutation(refresh.KindUpdate.String(), false)
		return "", refresh.Versions{}, err
	}
	if !found {
		s.logger.Debug("advance matched no application", "application_id", id)
	}

	metrics.RecordMutation(refresh.KindUpdate.String(), true)
	return next, s.recorder.Record(ctx, refresh.KindUpdate), nil
}
