package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Migration is one schema step. Up holds the DDL for each dialect; statements
// are separated by semicolons.
type Migration struct {
	Version     string
	Description string
	Up          map[Dialect]string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version:     "1.0.0",
		Description: "catalog and orders",
		Up: map[Dialect]string{
			Postgres: catalogOrdersPostgres,
			MySQL:    catalogOrdersMySQL,
			SQLite:   catalogOrdersSQLite,
		},
	},
	{
		Version:     "1.1.0",
		Description: "stock alerts",
		Up: map[Dialect]string{
			Postgres: stockAlertsPostgres,
			MySQL:    stockAlertsMySQL,
			SQLite:   stockAlertsSQLite,
		},
	},
}

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version VARCHAR(32) PRIMARY KEY,
    description VARCHAR(200) NOT NULL,
    applied_at TIMESTAMP NOT NULL
)`

const catalogOrdersPostgres = `
CREATE TABLE IF NOT EXISTS categories (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(100) NOT NULL UNIQUE,
    description TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    category_id BIGINT NOT NULL REFERENCES categories(id),
    cost_price NUMERIC(10,2) NOT NULL CHECK (cost_price > 0),
    selling_price NUMERIC(10,2) CHECK (selling_price > 0),
    quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
    sold_quantity INTEGER NOT NULL DEFAULT 0 CHECK (sold_quantity >= 0),
    low_stock_threshold INTEGER NOT NULL DEFAULT 10 CHECK (low_stock_threshold >= 0),
    description TEXT,
    sku VARCHAR(100) UNIQUE,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    UNIQUE (name, category_id),
    CHECK (sold_quantity <= quantity)
);

CREATE INDEX IF NOT EXISTS idx_products_category ON products(category_id);

CREATE TABLE IF NOT EXISTS orders (
    id BIGSERIAL PRIMARY KEY,
    order_date TIMESTAMPTZ NOT NULL,
    total_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
    total_profit NUMERIC(12,2) NOT NULL DEFAULT 0,
    notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_orders_date ON orders(order_date);

CREATE TABLE IF NOT EXISTS order_items (
    id BIGSERIAL PRIMARY KEY,
    order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    product_id BIGINT NOT NULL REFERENCES products(id),
    quantity INTEGER NOT NULL CHECK (quantity >= 1),
    unit_price NUMERIC(10,2) NOT NULL,
    unit_cost NUMERIC(10,2) NOT NULL,
    UNIQUE (order_id, product_id)
);

CREATE INDEX IF NOT EXISTS idx_order_items_product ON order_items(product_id)
`

const catalogOrdersMySQL = `
CREATE TABLE IF NOT EXISTS categories (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    name VARCHAR(100) NOT NULL UNIQUE,
    description TEXT,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL
) ENGINE=InnoDB;

CREATE TABLE IF NOT EXISTS products (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    category_id BIGINT NOT NULL,
    cost_price DECIMAL(10,2) NOT NULL,
    selling_price DECIMAL(10,2),
    quantity INT NOT NULL DEFAULT 0,
    sold_quantity INT NOT NULL DEFAULT 0,
    low_stock_threshold INT NOT NULL DEFAULT 10,
    description TEXT,
    sku VARCHAR(100) UNIQUE,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    UNIQUE KEY uq_products_name_category (name, category_id),
    INDEX idx_products_category (category_id),
    CONSTRAINT fk_products_category FOREIGN KEY (category_id) REFERENCES categories(id),
    CONSTRAINT chk_products_stock CHECK (quantity >= 0 AND sold_quantity >= 0 AND sold_quantity <= quantity)
) ENGINE=InnoDB;

CREATE TABLE IF NOT EXISTS orders (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    order_date DATETIME(6) NOT NULL,
    total_amount DECIMAL(12,2) NOT NULL DEFAULT 0,
    total_profit DECIMAL(12,2) NOT NULL DEFAULT 0,
    notes TEXT,
    INDEX idx_orders_date (order_date)
) ENGINE=InnoDB;

CREATE TABLE IF NOT EXISTS order_items (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    order_id BIGINT NOT NULL,
    product_id BIGINT NOT NULL,
    quantity INT NOT NULL,
    unit_price DECIMAL(10,2) NOT NULL,
    unit_cost DECIMAL(10,2) NOT NULL,
    UNIQUE KEY uq_order_items_order_product (order_id, product_id),
    INDEX idx_order_items_product (product_id),
    CONSTRAINT fk_order_items_order FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE,
    CONSTRAINT fk_order_items_product FOREIGN KEY (product_id) REFERENCES products(id)
) ENGINE=InnoDB
`

// Money is stored as TEXT so decimal values round-trip exactly.
const catalogOrdersSQLite = `
CREATE TABLE IF NOT EXISTS categories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    description TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    category_id INTEGER NOT NULL REFERENCES categories(id),
    cost_price TEXT NOT NULL,
    selling_price TEXT,
    quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
    sold_quantity INTEGER NOT NULL DEFAULT 0 CHECK (sold_quantity >= 0),
    low_stock_threshold INTEGER NOT NULL DEFAULT 10 CHECK (low_stock_threshold >= 0),
    description TEXT,
    sku TEXT UNIQUE,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    UNIQUE (name, category_id),
    CHECK (sold_quantity <= quantity)
);

CREATE INDEX IF NOT EXISTS idx_products_category ON products(category_id);

CREATE TABLE IF NOT EXISTS orders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    order_date DATETIME NOT NULL,
    total_amount TEXT NOT NULL DEFAULT '0',
    total_profit TEXT NOT NULL DEFAULT '0',
    notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_orders_date ON orders(order_date);

CREATE TABLE IF NOT EXISTS order_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    product_id INTEGER NOT NULL REFERENCES products(id),
    quantity INTEGER NOT NULL CHECK (quantity >= 1),
    unit_price TEXT NOT NULL,
    unit_cost TEXT NOT NULL,
    UNIQUE (order_id, product_id)
);

CREATE INDEX IF NOT EXISTS idx_order_items_product ON order_items(product_id)
`

const stockAlertsPostgres = `
CREATE TABLE IF NOT EXISTS processed_events (
    event_id VARCHAR(64) PRIMARY KEY,
    event_type VARCHAR(64) NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS stock_alerts (
    id BIGSERIAL PRIMARY KEY,
    event_id VARCHAR(64) NOT NULL UNIQUE,
    product_id BIGINT NOT NULL,
    product_name VARCHAR(200) NOT NULL,
    available_quantity INTEGER NOT NULL,
    threshold INTEGER NOT NULL,
    order_id BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stock_alerts_created ON stock_alerts(created_at)
`

const stockAlertsMySQL = `
CREATE TABLE IF NOT EXISTS processed_events (
    event_id VARCHAR(64) PRIMARY KEY,
    event_type VARCHAR(64) NOT NULL,
    processed_at DATETIME(6) NOT NULL
) ENGINE=InnoDB;

CREATE TABLE IF NOT EXISTS stock_alerts (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    event_id VARCHAR(64) NOT NULL UNIQUE,
    product_id BIGINT NOT NULL,
    product_name VARCHAR(200) NOT NULL,
    available_quantity INT NOT NULL,
    threshold INT NOT NULL,
    order_id BIGINT NOT NULL,
    created_at DATETIME(6) NOT NULL,
    INDEX idx_stock_alerts_created (created_at)
) ENGINE=InnoDB
`

const stockAlertsSQLite = `
CREATE TABLE IF NOT EXISTS processed_events (
    event_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    processed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS stock_alerts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL UNIQUE,
    product_id INTEGER NOT NULL,
    product_name TEXT NOT NULL,
    available_quantity INTEGER NOT NULL,
    threshold INTEGER NOT NULL,
    order_id INTEGER NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stock_alerts_created ON stock_alerts(created_at)
`

// SchemaVersion returns the newest applied migration version, or "" when
// the schema has not been initialised.
func (s *Store) SchemaVersion(ctx context.Context) (string, error) {
	if _, err := s.db.ExecContext(ctx, schemaVersionTable); err != nil {
		return "", fmt.Errorf("failed to create schema_version: %w", err)
	}

	var versions []string
	if err := s.db.SelectContext(ctx, &versions, "SELECT version FROM schema_version"); err != nil {
		return "", fmt.Errorf("failed to read schema_version: %w", err)
	}

	var newest *semver.Version
	for _, v := range versions {
		parsed, err := semver.NewVersion(v)
		if err != nil {
			return "", fmt.Errorf("invalid schema version %q: %w", v, err)
		}
		if newest == nil || parsed.GreaterThan(newest) {
			newest = parsed
		}
	}
	if newest == nil {
		return "", nil
	}
	return newest.Original(), nil
}

// ApplyMigrations applies every migration newer than the current schema
// version. It returns the versions it applied.
func (s *Store) ApplyMigrations(ctx context.Context) ([]string, error) {
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}

	var currentVersion *semver.Version
	if current != "" {
		if currentVersion, err = semver.NewVersion(current); err != nil {
			return nil, err
		}
	}

	var applied []string
	for _, m := range AllMigrations {
		version, err := semver.NewVersion(m.Version)
		if err != nil {
			return applied, fmt.Errorf("invalid migration version %q: %w", m.Version, err)
		}
		if currentVersion != nil && !version.GreaterThan(currentVersion) {
			continue
		}

		ddl, ok := m.Up[s.dialect]
		if !ok {
			return applied, fmt.Errorf("migration %s has no %s variant", m.Version, s.dialect)
		}

		if err := s.applyMigration(ctx, m, ddl); err != nil {
			return applied, fmt.Errorf("migration %s (%s) failed: %w", m.Version, m.Description, err)
		}
		applied = append(applied, m.Version)
	}

	return applied, nil
}

func (s *Store) applyMigration(ctx context.Context, m Migration, ddl string) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(ddl) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w\n%s", err, stmt)
		}
	}

	if _, err := tx.ExecContext(ctx,
		tx.Rebind("INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)"),
		m.Version, m.Description, nowUTC()); err != nil {
		return err
	}

	return tx.Commit()
}

func splitStatements(ddl string) []string {
	var out []string
	for _, stmt := range strings.Split(ddl, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
