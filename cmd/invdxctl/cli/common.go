package cli

import (
	"fmt"

	"github.com/go-mizu/invfts/config"
	"github.com/go-mizu/invfts/unit"
)

func loadConfig() (config.Options, error) {
	if configPath == "" {
		return config.Defaults(), nil
	}
	return config.Load(configPath)
}

func openUnit() (*unit.Unit, error) {
	if unitDir == "" {
		return nil, fmt.Errorf("--unit is required")
	}
	opts, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	u, err := unit.Open(unitDir, opts, nil)
	if err != nil {
		return nil, fmt.Errorf("open unit %s: %w", unitDir, err)
	}
	return u, nil
}
