package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToFixed(t *testing.T) {
	v, err := toFixed("collateral", "1.5", 18)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v.String())

	v, err = toFixed("price", "1850.123456789012", 10)
	require.NoError(t, err)
	assert.Equal(t, "18501234567890", v.String())

	_, err = toFixed("collateral", "0", 18)
	assert.Error(t, err)
	_, err = toFixed("collateral", "", 18)
	assert.Error(t, err)
	_, err = toFixed("collateral", "abc", 18)
	assert.Error(t, err)
}

func TestToSigned_Negative(t *testing.T) {
	v, err := toSigned("funding-fee", "-0.25", 18)
	require.NoError(t, err)
	assert.Equal(t, "-250000000000000000", v.String())
}

func TestRunClose_Validates(t *testing.T) {
	err := runClose([]string{"--collateral", "1", "--open-price", "100", "--leverage", "0", "--price", "110"})
	assert.Error(t, err)

	err = runClose([]string{"--collateral", "1", "--open-price", "100", "--leverage", "5", "--price", "110", "--borrowing-fee", "-1"})
	assert.Error(t, err)

	err = runClose([]string{"--collateral", "1", "--open-price", "100", "--leverage", "5", "--price", "110"})
	assert.NoError(t, err)
}

func TestRunBorrowing_RejectsReversedBlocks(t *testing.T) {
	err := runBorrowing([]string{
		"--collateral", "1", "--open-price", "1", "--fee-per-block", "24595", "--max-oi", "10",
		"--from-block", "200", "--to-block", "100",
	})
	assert.Error(t, err)
}
