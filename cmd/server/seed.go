package main

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ayushsreejith06/MAX-sub002/internal/config"
	"github.com/ayushsreejith06/MAX-sub002/internal/engine"
	"github.com/ayushsreejith06/MAX-sub002/internal/logging"
	"github.com/ayushsreejith06/MAX-sub002/internal/models"
	"github.com/ayushsreejith06/MAX-sub002/internal/storage"
)

// seedFile is the YAML shape of engine.seed_file: an initial account
// balance, sectors with their rosters, and optional confidence rules.
type seedFile struct {
	Account struct {
		Balance decimal.Decimal `yaml:"balance"`
	} `yaml:"account"`
	Sectors []seedSector  `yaml:"sectors"`
	Rules   []models.Rule `yaml:"rules"`
}

type seedSector struct {
	Name           string          `yaml:"name"`
	Symbol         string          `yaml:"symbol"`
	Mode           string          `yaml:"mode"`
	InitialPrice   float64         `yaml:"initialPrice"`
	Balance        decimal.Decimal `yaml:"balance"`
	Volatility     float64         `yaml:"volatility"`
	TrendFactor    float64         `yaml:"trendFactor"`
	RiskScore      int             `yaml:"riskScore"`
	AllowedSymbols []string        `yaml:"allowedSymbols"`
	Agents         []seedAgent     `yaml:"agents"`
}

type seedAgent struct {
	Name   string `yaml:"name"`
	Role   string `yaml:"role"`
	Morale int    `yaml:"morale"`
}

// applySeed populates an empty store from the configured seed file and
// rules file. A store that already holds sectors is left untouched, so
// restarts never duplicate seed data.
func applySeed(ctx context.Context, cfg *config.Config, orch *engine.Orchestrator,
	repos *storage.Repos, logger *logging.StandardLogger) error {

	if cfg.Engine.RulesFile != "" {
		if err := seedRules(ctx, cfg.Engine.RulesFile, repos, logger); err != nil {
			return err
		}
	}
	if cfg.Engine.SeedFile == "" {
		return nil
	}

	existing, err := repos.Sectors.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logger.Debug("store already populated, skipping seed",
			zap.Int("sectors", len(existing)))
		return nil
	}

	raw, err := os.ReadFile(cfg.Engine.SeedFile)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	if seed.Account.Balance.IsPositive() {
		if err := repos.Account.Update(ctx, func(a *models.Account) error {
			a.Balance = a.Balance.Add(seed.Account.Balance)
			return nil
		}); err != nil {
			return err
		}
	}

	for _, s := range seed.Sectors {
		sector, _, err := orch.CreateSector(ctx, engine.CreateSectorInput{
			Name:           s.Name,
			Symbol:         s.Symbol,
			Mode:           s.Mode,
			InitialPrice:   s.InitialPrice,
			Balance:        s.Balance,
			Volatility:     s.Volatility,
			TrendFactor:    s.TrendFactor,
			RiskScore:      s.RiskScore,
			AllowedSymbols: s.AllowedSymbols,
		})
		if err != nil {
			return fmt.Errorf("seed sector %q: %w", s.Name, err)
		}
		for _, a := range s.Agents {
			if _, err := orch.AddAgent(ctx, sector.ID, engine.AgentInput{
				Name:   a.Name,
				Role:   a.Role,
				Morale: a.Morale,
			}); err != nil {
				return fmt.Errorf("seed agent %q in sector %q: %w", a.Name, s.Name, err)
			}
		}
	}

	if len(seed.Rules) > 0 {
		if err := repos.Rules.Replace(ctx, seed.Rules); err != nil {
			return err
		}
	}

	logger.Info("seed data applied",
		zap.Int("sectors", len(seed.Sectors)),
		zap.Int("rules", len(seed.Rules)))
	return nil
}

// seedRules loads confidence rules from a standalone YAML file, only
// when the rules collection is still empty.
func seedRules(ctx context.Context, path string, repos *storage.Repos, logger *logging.StandardLogger) error {
	existing, err := repos.Rules.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}
	var rules []models.Rule
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return fmt.Errorf("parse rules file: %w", err)
	}
	if len(rules) == 0 {
		return nil
	}
	if err := repos.Rules.Replace(ctx, rules); err != nil {
		return err
	}
	logger.Info("confidence rules seeded", zap.Int("rules", len(rules)), zap.String("path", path))
	return nil
}
