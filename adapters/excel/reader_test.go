package excel

import (
	"os"
	"path/filepath"
	"testing"

	"tenderwatch/domain/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T, rows [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}

	path := filepath.Join(t.TempDir(), "tenders.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestReadTendersFromWorkbook(t *testing.T) {
	path := writeWorkbook(t, [][]interface{}{
		{"tender_id", "single_bidder", "num_bidders", "risk_score", "buyer_name"},
		{"T-001", 1, 1, 65.5, "Ministry"},
		{"T-002", 0, 4, "", "Municipality"},
		{"", 1, 1, 90, "no id"},
	})

	reader := NewFeatureSheetReader(path, "", features.DefaultModel())
	tenders, err := reader.ReadTenders()
	require.NoError(t, err)
	require.Len(t, tenders, 2)

	assert.Equal(t, "T-001", tenders[0].ID)
	assert.Equal(t, features.Vector{"single_bidder": 1, "num_bidders": 1}, tenders[0].Features)
	require.NotNil(t, tenders[0].Score)
	assert.Equal(t, 65.5, *tenders[0].Score)

	assert.Equal(t, "T-002", tenders[1].ID)
	assert.Nil(t, tenders[1].Score)
	assert.Equal(t, 4.0, tenders[1].Features["num_bidders"])
}

func TestReadTendersFromCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenders.csv")
	content := "Tender_ID,price_anomaly,procedure_type,notes\nT-9,42.5,2,n/a\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tenders, err := NewFeatureSheetReader(path, "", features.DefaultModel()).ReadTenders()
	require.NoError(t, err)
	require.Len(t, tenders, 1)
	assert.Equal(t, features.Vector{"price_anomaly": 42.5, "procedure_type": 2}, tenders[0].Features)
}

func TestReadTendersSkipsNonFiniteCells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenders.csv")
	content := "tender_id,price_anomaly,estimated_value_mkd,single_bidder,risk_score\nT1,Inf,NaN,1,-Inf\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tenders, err := NewFeatureSheetReader(path, "", features.DefaultModel()).ReadTenders()
	require.NoError(t, err)
	require.Len(t, tenders, 1)
	assert.Equal(t, features.Vector{"single_bidder": 1}, tenders[0].Features)
	assert.Nil(t, tenders[0].Score)
}

func TestReadTendersErrors(t *testing.T) {
	_, err := NewFeatureSheetReader(filepath.Join(t.TempDir(), "missing.xlsx"), "", nil).ReadTenders()
	assert.Error(t, err)

	noID := writeWorkbook(t, [][]interface{}{{"single_bidder"}, {1}})
	_, err = NewFeatureSheetReader(noID, "", nil).ReadTenders()
	assert.ErrorContains(t, err, "tender_id")

	headerOnly := writeWorkbook(t, [][]interface{}{{"tender_id"}})
	_, err = NewFeatureSheetReader(headerOnly, "", nil).ReadTenders()
	assert.Error(t, err)
}
