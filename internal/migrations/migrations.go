package migrations

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Run creates the database schema required by the stock core.
func Run(db *sqlx.DB) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.DriverName() != "sqlite" {
		pk = "BIGSERIAL PRIMARY KEY"
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS medicines (
            id ` + pk + `,
            name TEXT NOT NULL,
            quantity BIGINT NOT NULL DEFAULT 0 CHECK (quantity >= 0),
            cost_price NUMERIC(12,2) NOT NULL DEFAULT 0,
            selling_price NUMERIC(12,2) NOT NULL DEFAULT 0,
            expiry_date TIMESTAMP,
            manufacturing_date TIMESTAMP,
            updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS inventory (
            id ` + pk + `,
            medicine_id BIGINT NOT NULL REFERENCES medicines(id),
            batch_number TEXT NOT NULL UNIQUE,
            quantity BIGINT NOT NULL CHECK (quantity >= 0),
            unit_price NUMERIC(12,2) NOT NULL DEFAULT 0,
            selling_price NUMERIC(12,2) NOT NULL DEFAULT 0,
            expiry_date TIMESTAMP,
            purchase_date TIMESTAMP NOT NULL,
            status TEXT NOT NULL,
            updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS stock_adjustments (
            id ` + pk + `,
            inventory_id BIGINT NOT NULL REFERENCES inventory(id),
            adjustment_type TEXT NOT NULL,
            quantity_change BIGINT NOT NULL,
            reason TEXT NOT NULL,
            adjusted_by BIGINT,
            adjustment_date TIMESTAMP NOT NULL,
            notes TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS sales (
            id ` + pk + `,
            sale_number TEXT NOT NULL UNIQUE,
            sale_date TIMESTAMP NOT NULL,
            customer_name TEXT,
            customer_phone TEXT,
            total_amount NUMERIC(12,2) NOT NULL,
            discount NUMERIC(12,2) NOT NULL DEFAULT 0,
            tax NUMERIC(12,2) NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS sale_items (
            id ` + pk + `,
            sale_id BIGINT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
            medicine_id BIGINT NOT NULL REFERENCES medicines(id),
            quantity BIGINT NOT NULL CHECK (quantity > 0),
            unit_price NUMERIC(12,2) NOT NULL,
            discount NUMERIC(12,2) NOT NULL DEFAULT 0,
            total_price NUMERIC(12,2) NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS purchase_orders (
            id ` + pk + `,
            order_number TEXT NOT NULL UNIQUE,
            supplier_id BIGINT NOT NULL,
            status TEXT NOT NULL,
            order_date TIMESTAMP NOT NULL,
            expected_delivery_date TIMESTAMP,
            received_date TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS purchase_order_items (
            id ` + pk + `,
            purchase_order_id BIGINT NOT NULL REFERENCES purchase_orders(id) ON DELETE CASCADE,
            medicine_id BIGINT NOT NULL REFERENCES medicines(id),
            quantity BIGINT NOT NULL CHECK (quantity > 0)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items(sale_id);`,
		`CREATE INDEX IF NOT EXISTS idx_po_items_order ON purchase_order_items(purchase_order_id);`,
		`CREATE INDEX IF NOT EXISTS idx_adjustments_date ON stock_adjustments(adjustment_date);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
