// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelect(t *testing.T) {
	t.Parallel()

	params, err := Select(false, false, false, false)
	require.NoError(t, err)
	require.Equal(t, "mainnet", params.Name)

	params, err = Select(false, true, false, false)
	require.NoError(t, err)
	require.Equal(t, &RegressionNetParams, params)

	params, err = Select(false, false, false, true)
	require.NoError(t, err)
	require.Equal(t, "signet", params.Name)

	_, err = Select(true, false, true, false)
	require.Error(t, err)
}
