// Command seed_templates loads the platform's default notification
// templates (a welcome email in English and Spanish, plus an English
// password-reset email and an English order-shipped push notification) into
// the template service's Postgres store. It is idempotent by default:
// re-running it skips any (code, language) pair that already exists.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/platform/internal/infrastructure/template"
)

var (
	dsn   = flag.String("dsn", "", "Database connection string")
	clean = flag.Bool("clean", false, "Delete existing default templates before seeding")
)

type seedTemplate struct {
	code        string
	typ         template.Type
	language    string
	content     map[string]string
	variables   []string
	description string
}

func defaultTemplates() []seedTemplate {
	return []seedTemplate{
		{
			code:        "welcome",
			typ:         template.TypeEmail,
			language:    "en",
			content:     map[string]string{"subject": "Welcome, {{name}}!", "body": "Hi {{name}}, thanks for signing up."},
			variables:   []string{"name"},
			description: "Sent once after a new account is created.",
		},
		{
			code:        "welcome",
			typ:         template.TypeEmail,
			language:    "es",
			content:     map[string]string{"subject": "¡Bienvenido, {{name}}!", "body": "Hola {{name}}, gracias por registrarte."},
			variables:   []string{"name"},
			description: "Sent once after a new account is created.",
		},
		{
			code:        "password_reset",
			typ:         template.TypeEmail,
			language:    "en",
			content:     map[string]string{"subject": "Reset your password", "body": "Use this code to reset your password: {{code}}"},
			variables:   []string{"code"},
			description: "Sent when a user requests a password reset.",
		},
		{
			code:        "order_shipped",
			typ:         template.TypePush,
			language:    "en",
			content:     map[string]string{"body": "Your order {{order_id}} has shipped!"},
			variables:   []string{"order_id"},
			description: "Sent when an order transitions to shipped.",
		},
	}
}

func main() {
	flag.Parse()

	if *dsn == "" {
		log.Fatal("Error: -dsn flag is required\nUsage: go run ./cmd/seed -dsn 'postgres://...'")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	repo, err := template.NewTemplateRepository(pool, logger)
	if err != nil {
		log.Fatalf("Failed to create repository: %v", err)
	}

	templates := defaultTemplates()

	if *clean {
		fmt.Println("Cleaning existing default templates...")
		for _, t := range templates {
			if err := repo.Delete(ctx, t.code, t.language, true); err != nil && err != template.ErrTemplateNotFound {
				log.Printf("warning: failed to delete %s/%s: %v", t.code, t.language, err)
			}
		}
	}

	fmt.Println("Seeding default templates...")
	seeded := 0
	for _, t := range templates {
		if err := seedOne(ctx, repo, t); err != nil {
			log.Printf("warning: failed to seed %s/%s: %v", t.code, t.language, err)
			continue
		}
		fmt.Printf("  seeded %s/%s\n", t.code, t.language)
		seeded++
	}

	fmt.Printf("Done: %d/%d templates seeded.\n", seeded, len(templates))
}

func seedOne(ctx context.Context, repo template.TemplateRepository, t seedTemplate) error {
	exists, err := repo.Exists(ctx, t.code, t.language)
	if err != nil {
		return fmt.Errorf("checking existence: %w", err)
	}
	if exists {
		return nil
	}

	return repo.Create(ctx, &template.Template{
		Code:        t.code,
		Type:        t.typ,
		Language:    t.language,
		Version:     1,
		Content:     t.content,
		Variables:   t.variables,
		Description: t.description,
		CreatedBy:   "seed-script",
	})
}
