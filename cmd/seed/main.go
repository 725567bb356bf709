package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"complyflow/backend/internal/apperr"
	"complyflow/backend/internal/auth"
	"complyflow/backend/internal/config"
	"complyflow/backend/internal/logging"
	"complyflow/backend/internal/repository"
	"complyflow/backend/internal/services"
	"complyflow/backend/pkg/models"
)

//go:embed seed.yaml
var defaultSeed []byte

func main() {
	var configPath, seedPath, domain string
	cmd := &cobra.Command{
		Use:          "complyflow-seed",
		Short:        "Load workflow templates into the database",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, seedPath, domain)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file (default ./config.yaml)")
	cmd.Flags().StringVar(&seedPath, "file", "", "seed YAML file (default: built-in templates)")
	cmd.Flags().StringVar(&domain, "domain", "localhost", "email domain of the organization to seed")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, seedPath, domain string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Pretty).With("domain", domain)

	data := defaultSeed
	if seedPath != "" {
		if data, err = os.ReadFile(seedPath); err != nil {
			return fmt.Errorf("read seed file: %w", err)
		}
	}
	seed, err := parseSeed(data)
	if err != nil {
		return err
	}

	if cfg.DB.Driver != config.DriverPostgres {
		return fmt.Errorf("seeding requires db.driver=%s", config.DriverPostgres)
	}
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN())
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// 1. Ensure the tenant exists
	tenant, err := store.GetTenantByDomain(ctx, domain)
	switch {
	case apperr.IsNotFound(err):
		logger.Info("Creating default tenant", "domain", domain)
		tenant = &models.Tenant{Name: "Local Dev Tenant", Domain: domain}
		if err := store.CreateTenant(ctx, tenant); err != nil {
			return fmt.Errorf("failed to create tenant: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to look up tenant: %w", err)
	default:
		logger.Info("Found existing tenant", "id", tenant.ID)
	}

	actor := &models.Actor{
		UserID: "seed-script",
		OrgID:  tenant.ID,
		Scopes: auth.AllScopes,
	}
	templates := services.NewTemplateService(store, repository.NewPostgresDirectory(pool), nil, nil, logger)
	return seedTemplates(ctx, templates, actor, seed, logger)
}

// seedTemplates creates every template in seed whose name is not taken yet.
func seedTemplates(ctx context.Context, templates *services.TemplateService, actor *models.Actor,
	seed *seedFile, logger *logging.Logger) error {
	// 2. Skip templates that already exist
	existing, err := templates.List(ctx, actor, models.TemplateFilter{})
	if err != nil {
		return fmt.Errorf("failed to list existing templates: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t.Name] = true
	}

	// 3. Create seed templates
	for _, t := range seed.Templates {
		if seen[t.Name] {
			logger.Info("Skipping existing template", "name", t.Name)
			continue
		}
		in, err := t.input()
		if err != nil {
			return fmt.Errorf("template %q: %w", t.Name, err)
		}
		tpl, err := templates.Create(ctx, actor, in)
		if err != nil {
			return fmt.Errorf("failed to create template %q: %w", t.Name, err)
		}
		seen[t.Name] = true
		logger.Info("Seeded template", "name", t.Name, "id", tpl.ID, "steps", len(tpl.Steps))
	}
	logger.Info("Seeding complete!")
	return nil
}
