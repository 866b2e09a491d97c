// Package config reads the JSON configuration of the contingency service.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ohowland/cgc_contingency/internal/lib/engine/natsengine"
	"github.com/ohowland/cgc_contingency/internal/lib/engine/virtualengine"
	"github.com/ohowland/cgc_contingency/internal/pkg/datastreams/mongodb"
	"github.com/ohowland/cgc_contingency/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/cgc_contingency/internal/pkg/datastreams/sqldb"
	"github.com/ohowland/cgc_contingency/internal/pkg/retention"
	"github.com/ohowland/cgc_contingency/internal/pkg/runner"
	"github.com/ohowland/cgc_contingency/internal/pkg/webservice"
)

// ErrInvalid is returned for a configuration that cannot start the service.
var ErrInvalid = errors.New("invalid configuration")

// Engine types.
const (
	EngineNATS    = "nats"
	EngineVirtual = "virtual"
)

// Engine selects how the simulation engine is reached.
type Engine struct {
	Type    string                `json:"Type"`
	NATS    natsengine.Config     `json:"NATS"`
	Virtual *virtualengine.Config `json:"Virtual"`
	// VirtualPath is read instead of Virtual when set.
	VirtualPath string `json:"VirtualPath"`
}

// Config is the whole service configuration. Nil stream sections are
// disabled.
type Config struct {
	Engine     Engine               `json:"Engine"`
	Cases      runner.ServiceConfig `json:"Cases"`
	Runner     runner.Config        `json:"Runner"`
	Retention  retention.Config     `json:"Retention"`
	Webservice webservice.Config    `json:"Webservice"`
	MongoDB    *mongodb.Config      `json:"MongoDB"`
	SQL        *sqldb.Config        `json:"SQL"`
	NATS       *natshandler.Config  `json:"NATS"`
}

// Load reads and validates the configuration at configPath.
func Load(configPath string) (Config, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", configPath, err)
	}
	if cfg.Engine.Type == "" {
		cfg.Engine.Type = EngineNATS
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", configPath, err)
	}
	return cfg, nil
}

// Validate checks the settings without which no run can start.
func (c Config) Validate() error {
	switch {
	case c.Cases.CasesPath == "":
		return fmt.Errorf("%w: Cases.CasesPath is required", ErrInvalid)
	case c.Retention.Dir == "":
		return fmt.Errorf("%w: Retention.Dir is required", ErrInvalid)
	case c.Cases.Window.Start < 0:
		return fmt.Errorf("%w: Cases.Window.Start is negative", ErrInvalid)
	case len([]rune(c.Cases.Delimiter)) > 1:
		return fmt.Errorf("%w: Cases.Delimiter must be a single character", ErrInvalid)
	}
	switch c.Engine.Type {
	case EngineNATS, EngineVirtual:
	default:
		return fmt.Errorf("%w: unknown Engine.Type %q", ErrInvalid, c.Engine.Type)
	}
	return nil
}
