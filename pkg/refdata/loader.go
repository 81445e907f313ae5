package refdata

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// LoadBonds reads the bond universe from a CSV file with a header row:
// isin,alias,issue_dt,dated_dt,maturity_dt,cpn,freq_months,outstanding,class
func LoadBonds(path string) ([]BulletBond, error) {
	rows, err := readCSV(path, 9)
	if err != nil {
		return nil, err
	}

	bonds := make([]BulletBond, 0, len(rows))
	for i, row := range rows {
		b, err := parseBond(row)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		bonds = append(bonds, b)
	}
	return bonds, nil
}

// LoadBondFuts reads the listed futures from a CSV file with a header row:
// exchange,alias,bbg_code,first_trading_dt,first_dlv_dt,last_dlv_dt,cf
func LoadBondFuts(path string) ([]BondFut, error) {
	rows, err := readCSV(path, 7)
	if err != nil {
		return nil, err
	}

	futs := make([]BondFut, 0, len(rows))
	for i, row := range rows {
		f, err := parseBondFut(row)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		futs = append(futs, f)
	}
	return futs, nil
}

func readCSV(path string, fields int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = fields
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: empty file", path)
	}
	return records[1:], nil // skip header
}

func parseBond(row []string) (BulletBond, error) {
	var (
		b   BulletBond
		err error
	)
	b.ISIN = row[0]
	b.Alias = row[1]
	if b.IssueDate, err = parseDate(row[2]); err != nil {
		return b, err
	}
	if b.DatedDate, err = parseDate(row[3]); err != nil {
		return b, err
	}
	if b.Maturity, err = parseDate(row[4]); err != nil {
		return b, err
	}
	if b.Coupon, err = decimal.NewFromString(row[5]); err != nil {
		return b, fmt.Errorf("bad coupon %q: %w", row[5], err)
	}
	if b.FreqMonths, err = strconv.Atoi(row[6]); err != nil {
		return b, fmt.Errorf("bad frequency %q: %w", row[6], err)
	}
	outstanding := strings.ReplaceAll(row[7], ",", "")
	if b.Outstanding, err = strconv.ParseInt(outstanding, 10, 64); err != nil {
		return b, fmt.Errorf("bad outstanding %q: %w", row[7], err)
	}
	b.Class = row[8]
	return b, nil
}

func parseBondFut(row []string) (BondFut, error) {
	var (
		f   BondFut
		err error
	)
	f.Exchange = row[0]
	f.Alias = row[1]
	f.BBGCode = row[2]
	if f.FirstTradingDate, err = parseDate(row[3]); err != nil {
		return f, err
	}
	if f.FirstDeliveryDt, err = parseDate(row[4]); err != nil {
		return f, err
	}
	if f.LastDeliveryDt, err = parseDate(row[5]); err != nil {
		return f, err
	}
	f.ConversionFactor = row[6]
	return f, nil
}
