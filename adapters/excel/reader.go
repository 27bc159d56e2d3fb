package excel

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tenderwatch/domain/features"

	"github.com/xuri/excelize/v2"
)

const (
	// DefaultSheet is read when no sheet name is given.
	DefaultSheet = "Sheet1"
	// IDColumn holds the tender identifier.
	IDColumn = "tender_id"
	// ScoreColumn optionally holds the tender's current risk score.
	ScoreColumn = "risk_score"
)

// FeatureSheetReader reads tender feature vectors from an .xlsx or .csv export.
// Columns named after model features become vector entries; other columns are ignored.
type FeatureSheetReader struct {
	filePath  string
	fileType  string // "xlsx" or "csv"
	sheetName string
	model     *features.Model
}

// NewFeatureSheetReader creates a reader. An empty sheetName reads DefaultSheet.
func NewFeatureSheetReader(filePath, sheetName string, model *features.Model) *FeatureSheetReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	if sheetName == "" {
		sheetName = DefaultSheet
	}
	return &FeatureSheetReader{filePath: filePath, fileType: fileType, sheetName: sheetName, model: model}
}

// ReadTenders returns one Tender per data row.
func (r *FeatureSheetReader) ReadTenders() ([]features.Tender, error) {
	log.Printf("[FeatureSheetReader] Reading %s file: %s", r.fileType, r.filePath)

	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	var (
		rows [][]string
		err  error
	)
	switch r.fileType {
	case "csv":
		rows, err = r.readCSVRows()
	default:
		rows, err = r.readExcelRows()
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s file must have at least a header row and one data row", strings.ToUpper(r.fileType))
	}
	return r.processRows(rows)
}

func (r *FeatureSheetReader) readExcelRows() ([][]string, error) {
	startTime := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(r.sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", r.sheetName, err)
	}
	log.Printf("[FeatureSheetReader] Sheet %s read in %.2fms (%d rows)",
		r.sheetName, float64(time.Since(startTime).Nanoseconds())/1e6, len(rows))
	return rows, nil
}

func (r *FeatureSheetReader) readCSVRows() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

// processRows converts raw string rows into tenders
func (r *FeatureSheetReader) processRows(rows [][]string) ([]features.Tender, error) {
	headers := make([]string, len(rows[0]))
	idCol := -1
	for i, header := range rows[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(header))
		if headers[i] == IDColumn {
			idCol = i
		}
	}
	if idCol < 0 {
		return nil, fmt.Errorf("missing %s column", IDColumn)
	}

	var tenders []features.Tender
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if idCol >= len(row) || strings.TrimSpace(row[idCol]) == "" {
			log.Printf("[FeatureSheetReader] Skipping row %d: no tender id", i+1)
			continue
		}

		tender := features.Tender{ID: strings.TrimSpace(row[idCol]), Features: features.Vector{}}
		for j, cell := range row {
			if j >= len(headers) || j == idCol {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			value, err := strconv.ParseFloat(cell, 64)
			if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
				log.Printf("[FeatureSheetReader] Row %d column %s: ignoring non-numeric value %q", i+1, headers[j], cell)
				continue
			}

			switch {
			case headers[j] == ScoreColumn:
				score := value
				tender.Score = &score
			case r.model == nil:
				tender.Features[headers[j]] = value
			default:
				if _, known := r.model.Lookup(headers[j]); known {
					tender.Features[headers[j]] = value
				}
			}
		}
		tenders = append(tenders, tender)
	}

	log.Printf("[FeatureSheetReader] %s file processed (%d columns, %d tenders)",
		strings.ToUpper(r.fileType), len(headers), len(tenders))
	return tenders, nil
}
