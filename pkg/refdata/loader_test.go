package refdata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadBonds(t *testing.T) {
	path := writeTemp(t, "bonds.csv",
		"isin,alias,issue_dt,dated_dt,maturity_dt,cpn,freq_months,outstanding,class\n"+
			"DE0001102341,DBR 2.5 08/46,2014-Aug-15,2014-Aug-15,2046-Aug-15,2.5,12,\"23,000,000,000\",govt\n"+
			"DE0001102317,DBR 1.5 05/23,2013-May-17,2013-May-17,2023-May-15,1.5,12,\"18,000,000,000\",govt\n")

	bonds, err := LoadBonds(path)
	require.NoError(t, err)
	require.Len(t, bonds, 2)

	b := bonds[0]
	assert.Equal(t, "DE0001102341", b.ISIN)
	assert.Equal(t, "DBR 2.5 08/46", b.Alias)
	assert.Equal(t, 2046, b.Maturity.Year())
	assert.Equal(t, "2.5", b.Coupon.String())
	assert.Equal(t, int64(23_000_000_000), b.Outstanding)
}

func TestLoadBonds_BadDate(t *testing.T) {
	path := writeTemp(t, "bonds.csv",
		"isin,alias,issue_dt,dated_dt,maturity_dt,cpn,freq_months,outstanding,class\n"+
			"DE0001102341,DBR 2.5 08/46,15/08/2014,2014-Aug-15,2046-Aug-15,2.5,12,1000,govt\n")

	_, err := LoadBonds(path)
	assert.Error(t, err)
}

func TestLoadBondFuts(t *testing.T) {
	path := writeTemp(t, "bond_futs.csv",
		"exchange,alias,bbg_code,first_trading_dt,first_dlv_dt,last_dlv_dt,cf\n"+
			"EUREX,RXZ6,RXZ6 Comdty,2026-Sep-10,2026-Dec-10,2026-Dec-10,0.731",
	)

	futs, err := LoadBondFuts(path)
	require.NoError(t, err)
	require.Len(t, futs, 1)
	assert.Equal(t, "EUREX", futs[0].Exchange)
	assert.Equal(t, "RXZ6", futs[0].Alias)
}

func TestLoadBonds_MissingFile(t *testing.T) {
	_, err := LoadBonds(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}
