package extraction

import (
	"fmt"
	"net/http"

	"github.com/JaimeStill/assay/internal/audits"
)

// NewEngine creates the engine selected by cfg.Engine.
func NewEngine(cfg *Config, client *http.Client) (Engine, error) {
	switch cfg.Engine {
	case EngineStub:
		grade, err := audits.ParseGrade(cfg.StubGrade)
		if err != nil {
			return nil, err
		}
		return Stub{Grade: grade}, nil
	case EngineHTTP:
		return NewHTTPEngine(cfg.Endpoint, cfg.Token, client)
	default:
		return nil, fmt.Errorf("unknown extraction engine: %q", cfg.Engine)
	}
}
