package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/log"
)

// CreateAssistant stores an assistant that binds a registered graph to a
// config. Ids taken by the graph catalog are refused.
func (s *Service) CreateAssistant(ctx context.Context, principal string, req domain.CreateAssistantRequest) (*domain.Assistant, error) {
	switch req.IfExists {
	case "", "raise", "do_nothing":
	default:
		return nil, fmt.Errorf("if_exists must be raise or do_nothing: %w", domain.ErrInvalidArgument)
	}
	a := &domain.Assistant{
		AssistantID: strings.TrimSpace(req.AssistantID),
		GraphID:     req.GraphID,
		Name:        req.Name,
		Description: req.Description,
		Owner:       principal,
		Config:      req.Config,
		Metadata:    req.Metadata,
	}
	if err := s.validateAssistant(a); err != nil {
		return nil, err
	}
	if a.AssistantID != "" && s.graphs.Has(a.AssistantID) {
		return nil, fmt.Errorf("assistant %s is defined by the graph catalog: %w", a.AssistantID, domain.ErrInvalidState)
	}

	err := s.backend.CreateAssistant(ctx, a)
	if errors.Is(err, domain.ErrConstraint) {
		if req.IfExists == "do_nothing" {
			return s.assistant(ctx, principal, a.AssistantID, actionRead)
		}
		return nil, fmt.Errorf("assistant %s already exists: %w", a.AssistantID, domain.ErrInvalidState)
	}
	if err != nil {
		return nil, fmt.Errorf("create assistant: %w", err)
	}
	log.Infof("assistant %s: created on graph %s", a.AssistantID, a.GraphID)
	return a, nil
}

// GetAssistant returns a stored assistant at its current version.
func (s *Service) GetAssistant(ctx context.Context, principal, assistantID string) (*domain.Assistant, error) {
	return s.assistant(ctx, principal, assistantID, actionRead)
}

// ListAssistants lists stored assistants visible to principal, newest first.
func (s *Service) ListAssistants(ctx context.Context, principal, graphID string, limit, offset int) ([]domain.Assistant, error) {
	assistants, err := s.backend.ListAssistants(ctx, principal, graphID, limit, offset)
	if err != nil {
		return nil, err
	}
	visible := assistants[:0]
	for _, a := range assistants {
		if err := s.authorize(ctx, principal, a.Owner, actionRead, "assistant "+a.AssistantID); err == nil {
			visible = append(visible, a)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return visible, nil
}

// UpdateAssistant writes a new version. Fields left empty keep their value.
// Runs already started keep the graph they resolved.
func (s *Service) UpdateAssistant(ctx context.Context, principal, assistantID string, req domain.UpdateAssistantRequest) (*domain.Assistant, error) {
	a, err := s.assistant(ctx, principal, assistantID, actionWrite)
	if err != nil {
		return nil, err
	}
	if req.GraphID != "" {
		a.GraphID = req.GraphID
	}
	if req.Name != "" {
		a.Name = req.Name
	}
	if req.Description != "" {
		a.Description = req.Description
	}
	if len(req.Config) > 0 {
		a.Config = req.Config
	}
	if len(req.Metadata) > 0 {
		a.Metadata = req.Metadata
	}
	if err := s.validateAssistant(a); err != nil {
		return nil, err
	}
	if err := s.backend.UpdateAssistant(ctx, a); err != nil {
		return nil, err
	}
	log.Infof("assistant %s: version %d", a.AssistantID, a.Version)
	return a, nil
}

// SetAssistantVersion makes a stored version current again.
func (s *Service) SetAssistantVersion(ctx context.Context, principal, assistantID string, req domain.SetAssistantVersionRequest) (*domain.Assistant, error) {
	if req.Version <= 0 {
		return nil, fmt.Errorf("version must be positive: %w", domain.ErrInvalidArgument)
	}
	if _, err := s.assistant(ctx, principal, assistantID, actionWrite); err != nil {
		return nil, err
	}
	return s.backend.SetAssistantVersion(ctx, assistantID, req.Version)
}

// ListAssistantVersions lists an assistant's versions, newest first.
func (s *Service) ListAssistantVersions(ctx context.Context, principal, assistantID string, limit int) ([]domain.AssistantVersion, error) {
	if _, err := s.assistant(ctx, principal, assistantID, actionRead); err != nil {
		return nil, err
	}
	return s.backend.ListAssistantVersions(ctx, assistantID, limit)
}

// DeleteAssistant removes a stored assistant and its versions.
func (s *Service) DeleteAssistant(ctx context.Context, principal, assistantID string) error {
	if _, err := s.assistant(ctx, principal, assistantID, actionWrite); err != nil {
		return err
	}
	return s.backend.DeleteAssistant(ctx, assistantID)
}

// validateAssistant checks the JSON fields and that the graph builds.
func (s *Service) validateAssistant(a *domain.Assistant) error {
	if a.GraphID == "" {
		return fmt.Errorf("graph_id is required: %w", domain.ErrInvalidArgument)
	}
	if len(a.Config) > 0 && !isJSONObject(a.Config) {
		return fmt.Errorf("config must be a JSON object: %w", domain.ErrInvalidArgument)
	}
	if len(a.Metadata) > 0 && !isJSONObject(a.Metadata) {
		return fmt.Errorf("metadata must be a JSON object: %w", domain.ErrInvalidArgument)
	}
	_, err := s.graphs.Build(a)
	return err
}

func (s *Service) assistant(ctx context.Context, principal, assistantID, action string) (*domain.Assistant, error) {
	a, err := s.backend.GetAssistant(ctx, assistantID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, principal, a.Owner, action, "assistant "+assistantID); err != nil {
		return nil, err
	}
	return a, nil
}
