package main

import (
	"fmt"

	"github.com/rmezapi/prototipo-cassa-gpt/internal/config"
	"github.com/rmezapi/prototipo-cassa-gpt/internal/gateway"
)

// newClient builds a gateway client from config. Declared as a var so
// tests can point commands at an httptest server.
var newClient = func() (*gateway.Client, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	baseURL := cfg.Backend.BaseURL
	if backendFlag != "" {
		baseURL = backendFlag
	}
	return gateway.New(baseURL), cfg, nil
}
