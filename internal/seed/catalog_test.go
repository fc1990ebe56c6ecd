package seed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrivet/m/internal/testutil"
)

const catalog = `id,name,quantity,cost_price,selling_price,expiry_date,manufacturing_date
1,Ivermectin 1%,40,120.50,150.00,2026-03-01,2024-03-01
2,Oxytetracycline,0,80,95.5,,
bad,Broken,1,1,1,,
3,,5,1,1,,
4,Negative,-1,1,1,,
5,Albendazole,12,30,45,2026-13-01,
`

func TestLoadMedicines(t *testing.T) {
	db := testutil.NewDB(t)

	n, err := LoadMedicines(db, strings.NewReader(catalog), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	med := testutil.Medicine(t, db, 1)
	assert.Equal(t, "Ivermectin 1%", med.Name)
	assert.Equal(t, int64(40), med.Quantity)
	assert.True(t, decimal.RequireFromString("120.50").Equal(med.CostPrice))
	require.NotNil(t, med.ExpiryDate)
	assert.Equal(t, testutil.Date(2026, 3, 1), med.ExpiryDate.UTC())

	empty := testutil.Medicine(t, db, 2)
	assert.Nil(t, empty.ExpiryDate)
	assert.Nil(t, empty.ManufacturingDate)
}

func TestLoadMedicinesIsRepeatable(t *testing.T) {
	db := testutil.NewDB(t)
	_, err := LoadMedicines(db, strings.NewReader(catalog), nil)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE medicines SET quantity = 7 WHERE id = 1`)
	require.NoError(t, err)

	n, err := LoadMedicines(db, strings.NewReader(catalog), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(7), testutil.Quantity(t, db, 1))

	// New rows still get ids past the seeded ones.
	id := testutil.SeedMedicine(t, db, testutil.MedicineSeed{Name: "Later"})
	assert.Greater(t, id, int64(2))
}

func TestLoadMedicinesRejectsWrongHeader(t *testing.T) {
	db := testutil.NewDB(t)
	_, err := LoadMedicines(db, strings.NewReader("brand_id,brand_name\n1,x\n"), nil)
	assert.Error(t, err)
}

func TestLoadMedicinesFile(t *testing.T) {
	db := testutil.NewDB(t)

	n, err := LoadMedicinesFile(db, filepath.Join(t.TempDir(), "missing.csv"), nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	path := filepath.Join(t.TempDir(), "medicines.csv")
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o600))
	n, err = LoadMedicinesFile(db, path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
