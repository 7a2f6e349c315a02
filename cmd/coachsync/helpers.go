package main

import (
	"fmt"
	"os"

	coachsync "github.com/fitversal/coachsync"
	"go.uber.org/zap"
)

// resolved holds the effective settings after merging the config file with
// environment overrides (COACHSYNC_API_URL, COACHSYNC_WS_URL,
// COACHSYNC_TOKEN, COACHSYNC_SELF_ID).
type resolved struct {
	BaseURL string
	PushURL string
	Token   string
	UserID  string
}

func resolveConfig() (*resolved, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	r := &resolved{
		BaseURL: cfg.API.BaseURL,
		PushURL: cfg.API.PushURL,
		Token:   cfg.Auth.Token,
		UserID:  cfg.Auth.UserID,
	}
	if v := os.Getenv("COACHSYNC_API_URL"); v != "" {
		r.BaseURL = v
	}
	if v := os.Getenv("COACHSYNC_WS_URL"); v != "" {
		r.PushURL = v
	}
	if v := os.Getenv("COACHSYNC_TOKEN"); v != "" {
		r.Token = v
	}
	if v := os.Getenv("COACHSYNC_SELF_ID"); v != "" {
		r.UserID = v
	}
	if r.BaseURL == "" {
		return nil, fmt.Errorf("no API base URL configured; set api.base_url or COACHSYNC_API_URL")
	}
	if r.Token == "" {
		return nil, fmt.Errorf("no session token; run 'coachsync init <token>' or set COACHSYNC_TOKEN")
	}
	return r, nil
}

func newLogger() *zap.Logger {
	if verbose {
		log, err := zap.NewDevelopment()
		if err == nil {
			return log
		}
	}
	return zap.NewNop()
}

// getClient creates an API client from the resolved configuration.
func getClient() (*coachsync.Client, *resolved, error) {
	r, err := resolveConfig()
	if err != nil {
		return nil, nil, err
	}
	client := coachsync.NewClient(r.BaseURL, r.Token,
		coachsync.WithClientLogger(newLogger()))
	return client, r, nil
}

// getCoordinator creates a full engine session (HTTP + push channel).
func getCoordinator(onUpdate func(roomID string)) (*coachsync.Coordinator, error) {
	r, err := resolveConfig()
	if err != nil {
		return nil, err
	}
	if r.PushURL == "" {
		return nil, fmt.Errorf("no push URL configured; set api.push_url or COACHSYNC_WS_URL")
	}
	log := newLogger()
	client := coachsync.NewClient(r.BaseURL, r.Token, coachsync.WithClientLogger(log))
	return coachsync.NewCoordinator(client, coachsync.Config{
		PushURL:  r.PushURL,
		Token:    r.Token,
		SelfID:   r.UserID,
		Logger:   log,
		OnUpdate: onUpdate,
	}), nil
}
