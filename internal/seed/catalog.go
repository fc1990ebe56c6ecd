// Package seed loads the initial medicine catalogue from CSV.
package seed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agrivet/m/domain"
	"agrivet/m/internal/logging"
)

const dateLayout = "2006-01-02"

var header = []string{"id", "name", "quantity", "cost_price", "selling_price", "expiry_date", "manufacturing_date"}

// LoadMedicinesFile opens path and loads it with LoadMedicines. A missing
// file is not an error: the catalogue is optional.
func LoadMedicinesFile(db *sqlx.DB, path string, log *zap.Logger) (int, error) {
	log = logging.OrNop(log)
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Info("medicine catalog not found, skipping seed", zap.String("path", path))
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open medicine catalog %s: %w", path, err)
	}
	defer file.Close()
	return LoadMedicines(db, file, log)
}

// LoadMedicines ingests CSV rows into the medicines table in one
// transaction. Rows whose id already exists are left untouched, so the
// load can run on every start. Malformed rows are logged and skipped.
func LoadMedicines(db *sqlx.DB, r io.Reader, log *zap.Logger) (int, error) {
	log = logging.OrNop(log)
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	first, err := reader.Read()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read medicine header: %w", err)
	}
	if err := checkHeader(first); err != nil {
		return 0, err
	}

	tx, err := db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("begin medicine seed: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Preparex(`INSERT INTO medicines (id, name, quantity, cost_price, selling_price, expiry_date, manufacturing_date, updated_at)
                VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
                ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare medicine insert: %w", err)
	}
	defer stmt.Close()

	rows, line := 0, 1
	now := time.Now().UTC()
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			log.Warn("unable to read medicine row", zap.Int("line", line), zap.Error(err))
			continue
		}
		med, err := parseRow(record)
		if err != nil {
			log.Warn("skipping medicine row", zap.Int("line", line), zap.Error(err))
			continue
		}
		res, err := stmt.Exec(med.ID, med.Name, med.Quantity, med.CostPrice, med.SellingPrice, med.ExpiryDate, med.ManufacturingDate, now)
		if err != nil {
			return rows, fmt.Errorf("insert medicine %d: %w", med.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			rows += int(n)
		}
	}

	if db.DriverName() != "sqlite" {
		// Explicit ids bypass the serial sequence; move it past them.
		if _, err := tx.Exec(`SELECT setval(pg_get_serial_sequence('medicines', 'id'), COALESCE(MAX(id), 1)) FROM medicines`); err != nil {
			return rows, fmt.Errorf("advance medicine id sequence: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return rows, fmt.Errorf("commit medicine seed: %w", err)
	}
	log.Info("seeded medicine catalog", zap.Int("rows", rows))
	return rows, nil
}

func checkHeader(got []string) error {
	if len(got) < len(header) {
		return fmt.Errorf("medicine catalog header: want %s", strings.Join(header, ","))
	}
	for i, col := range header {
		if !strings.EqualFold(strings.TrimSpace(got[i]), col) {
			return fmt.Errorf("medicine catalog header: column %d is %q, want %q", i+1, got[i], col)
		}
	}
	return nil
}

func parseRow(record []string) (domain.Medicine, error) {
	var med domain.Medicine
	if len(record) < len(header) {
		return med, fmt.Errorf("want %d columns, got %d", len(header), len(record))
	}
	for i := range record {
		record[i] = strings.TrimSpace(record[i])
	}

	id, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil || id <= 0 {
		return med, fmt.Errorf("invalid id %q", record[0])
	}
	if record[1] == "" {
		return med, fmt.Errorf("medicine %d has no name", id)
	}
	qty, err := strconv.ParseInt(record[2], 10, 64)
	if err != nil || qty < 0 {
		return med, fmt.Errorf("invalid quantity %q", record[2])
	}
	cost, err := parsePrice(record[3])
	if err != nil {
		return med, err
	}
	selling, err := parsePrice(record[4])
	if err != nil {
		return med, err
	}
	expiry, err := parseDate(record[5])
	if err != nil {
		return med, err
	}
	manufactured, err := parseDate(record[6])
	if err != nil {
		return med, err
	}

	return domain.Medicine{
		ID:                id,
		Name:              record[1],
		Quantity:          qty,
		CostPrice:         cost,
		SellingPrice:      selling,
		ExpiryDate:        expiry,
		ManufacturingDate: manufactured,
	}, nil
}

func parsePrice(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid price %q", s)
	}
	return d.Round(2), nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q", s)
	}
	return &t, nil
}
