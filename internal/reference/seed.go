package reference

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// CatalogSink persists code catalog rows.
type CatalogSink interface {
	SaveCPTCode(ctx context.Context, code *domain.CPTCode) error
	SaveICD10Code(ctx context.Context, code *domain.ICD10Code) error
	SaveBundlingEdit(ctx context.Context, edit *domain.BundlingEdit) error
}

// SeedCounts reports how many rows each table received.
type SeedCounts struct {
	CPT   int `json:"cpt_codes"`
	ICD10 int `json:"icd10_codes"`
	Edits int `json:"ncci_edits"`
}

// Seed imports cpt_codes.csv, icd10_codes.csv and ncci_edits.csv from dir.
// Rows are upserted by code. A missing file is skipped.
func Seed(ctx context.Context, dst CatalogSink, dir string) (SeedCounts, error) {
	var counts SeedCounts
	var err error

	counts.ICD10, err = importCSV(ctx, filepath.Join(dir, "icd10_codes.csv"), func(r row) error {
		var err error
		code := &domain.ICD10Code{
			Code:              r.str("code"),
			Description:       r.str("description"),
			Category:          r.str("category"),
			GenderRestriction: r.str("gender_restriction"),
		}
		if code.AgeMin, err = r.optInt("age_min"); err != nil {
			return err
		}
		if code.AgeMax, err = r.optInt("age_max"); err != nil {
			return err
		}
		return dst.SaveICD10Code(ctx, code)
	})
	if err != nil {
		return counts, err
	}

	counts.CPT, err = importCSV(ctx, filepath.Join(dir, "cpt_codes.csv"), func(r row) error {
		var err error
		code := &domain.CPTCode{
			Code:              r.str("code"),
			Description:       r.str("description"),
			Category:          r.str("category"),
			ComplexityLevel:   r.str("complexity_level"),
			RequiresDiagnosis: true,
		}
		if code.TimeMinutes, err = r.optInt("time_minutes"); err != nil {
			return err
		}
		if code.AvgCharge, err = r.optFloat("avg_charge"); err != nil {
			return err
		}
		if v := r.str("requires_diagnosis"); v != "" {
			if code.RequiresDiagnosis, err = strconv.ParseBool(v); err != nil {
				return fmt.Errorf("requires_diagnosis: %w", err)
			}
		}
		return dst.SaveCPTCode(ctx, code)
	})
	if err != nil {
		return counts, err
	}

	counts.Edits, err = importCSV(ctx, filepath.Join(dir, "ncci_edits.csv"), func(r row) error {
		return dst.SaveBundlingEdit(ctx, &domain.BundlingEdit{
			Column1:           r.str("column1_code"),
			Column2:           r.str("column2_code"),
			ModifierIndicator: r.str("modifier_indicator"),
		})
	})
	return counts, err
}

type row struct {
	header map[string]int
	fields []string
}

func (r row) str(col string) string {
	i, ok := r.header[col]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

func (r row) optInt(col string) (*int, error) {
	v := r.str(col)
	if v == "" {
		return nil, nil
	}
	// Tolerate "12.0" from spreadsheet exports.
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", col, err)
	}
	n := int(f)
	return &n, nil
}

func (r row) optFloat(col string) (*float64, error) {
	v := r.str(col)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", col, err)
	}
	return &f, nil
}

func importCSV(ctx context.Context, path string, fn func(row) error) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("seed file not found, skipping", "path", path)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	head, err := reader.Read()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	header := make(map[string]int, len(head))
	for i, h := range head {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}

	n := 0
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		if err := fn(row{header: header, fields: rec}); err != nil {
			return n, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		n++
	}

	slog.Info("seeded reference table", "path", path, "rows", n)
	return n, nil
}
