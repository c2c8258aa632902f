package seed

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/saldiviabuses/erp-server/config"
	"github.com/saldiviabuses/erp-server/internal/api"
	"github.com/saldiviabuses/erp-server/internal/api/auth"
)

// Seeder writes the startup dataset. The break-glass identity is always
// upserted so token resolution and storage stay consistent; the demo dataset
// is only written when enabled in configuration.
type Seeder struct {
	logger *slog.Logger
	pgpool api.PgxPool
	cfg    *config.Config
}

func New(pgpool api.PgxPool, cfg *config.Config, logger *slog.Logger) *Seeder {
	return &Seeder{logger: logger, pgpool: pgpool, cfg: cfg}
}

func (s *Seeder) Run(ctx context.Context) error {
	if err := s.seedBreakglass(ctx); err != nil {
		return fmt.Errorf("seed break-glass identity: %w", err)
	}
	if s.cfg.Auth.SeedDemoData {
		if err := s.seedDemoData(ctx); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}
	return nil
}

// seedBreakglass upserts the reserved identity under its fixed IDs so audit
// rows and sessions created for it reference a real user row whenever the
// database is reachable.
func (s *Seeder) seedBreakglass(ctx context.Context) error {
	bg := s.cfg.Auth.Breakglass
	if bg.Username == "" || bg.Password == "" {
		s.logger.Warn("Break-glass identity not configured, skipping seed")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(bg.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, err = s.pgpool.Exec(ctx, `
        INSERT INTO users (id, username, email, password_hash, first_name, last_name, active)
        VALUES ($1, $2, $3, $4, $5, $6, TRUE)
        ON CONFLICT (id) DO UPDATE SET
            username = EXCLUDED.username,
            email = EXCLUDED.email,
            password_hash = EXCLUDED.password_hash,
            active = TRUE,
            updated_at = NOW()`,
		auth.BreakglassUserID, bg.Username, bg.Email, string(hash), bg.FirstName, bg.LastName)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	_, err = s.pgpool.Exec(ctx, `
        INSERT INTO profiles (id, user_id, name, description, permissions, phone, department, position)
        VALUES ($1, $2, 'Administrador', 'Acceso total al sistema', '["all"]'::jsonb, $3, $4, $5)
        ON CONFLICT (id) DO UPDATE SET
            permissions = EXCLUDED.permissions,
            updated_at = NOW()`,
		auth.BreakglassProfileID, auth.BreakglassUserID, bg.Phone, bg.Department, bg.Position)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}

	s.logger.Info("Break-glass identity seeded", slog.String("username", bg.Username))
	return nil
}

type demoUser struct {
	username   string
	email      string
	password   string
	firstName  string
	lastName   string
	department string
	position   string
	profile    string
	active     bool
}

func (s *Seeder) seedDemoData(ctx context.Context) error {
	templates := []struct {
		name        string
		description string
		permissions string
	}{
		{"Administrador", "Acceso total al sistema", `["all"]`},
		{"Contador", "Contabilidad y bancos", `["accounting", "banks", "reports"]`},
		{"Vendedor", "Ventas y clientes", `["sales", "customers"]`},
	}
	for _, t := range templates {
		_, err := s.pgpool.Exec(ctx, `
            INSERT INTO profiles (name, description, permissions)
            SELECT $1, $2, $3::jsonb
            WHERE NOT EXISTS (
                SELECT 1 FROM profiles WHERE name = $1 AND user_id IS NULL
            )`,
			t.name, t.description, t.permissions)
		if err != nil {
			return fmt.Errorf("template %s: %w", t.name, err)
		}
	}

	users := []demoUser{
		{"admin", "admin@saldiviabuses.com.ar", "admin123", "Ana", "Administradora", "Sistemas", "Administradora", "Administrador", true},
		{"contador", "contador@saldiviabuses.com.ar", "conta123", "Carlos", "Cuentas", "Contabilidad", "Contador", "Contador", true},
		{"vendedor", "vendedor@saldiviabuses.com.ar", "venta123", "Victoria", "Ventas", "Comercial", "Vendedora", "Vendedor", true},
		{"inactivo", "inactivo@saldiviabuses.com.ar", "inactivo123", "Ignacio", "Baja", "Comercial", "Vendedor", "Vendedor", false},
	}
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", u.username, err)
		}
		tag, err := s.pgpool.Exec(ctx, `
            INSERT INTO users (username, email, password_hash, first_name, last_name, active)
            VALUES ($1, $2, $3, $4, $5, $6)
            ON CONFLICT (username) DO NOTHING`,
			u.username, u.email, string(hash), u.firstName, u.lastName, u.active)
		if err != nil {
			return fmt.Errorf("user %s: %w", u.username, err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		_, err = s.pgpool.Exec(ctx, `
            INSERT INTO profiles (user_id, name, description, permissions, department, position)
            SELECT u.id, p.name, p.description, p.permissions, $3, $4
            FROM users u, profiles p
            WHERE u.username = $1 AND p.name = $2 AND p.user_id IS NULL`,
			u.username, u.profile, u.department, u.position)
		if err != nil {
			return fmt.Errorf("profile for %s: %w", u.username, err)
		}
	}

	s.logger.Info("Demo dataset seeded", slog.Int("users", len(users)))
	return nil
}
