package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSlaveMappingParsesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slaves.ini")
	content := `
[slave:1]
ModuleIndex=0
TotalVoltageMeasurer=true

[slave:2]
ModuleIndex=1
TotalCurrentMeasurer=true

[slave:3]
ModuleIndex=2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	mappings, err := LoadSlaveMapping(path)
	require.NoError(t, err)
	require.Len(t, mappings, 3)

	idx, ok := ModuleIndexForSlave(mappings, 2)
	require.True(t, ok)
	require.Equal(t, 1, idx)

	var total, current int
	for _, m := range mappings {
		if m.IsTotalVoltageSource {
			total++
		}
		if m.IsTotalCurrentSource {
			current++
		}
	}
	require.Equal(t, 1, total)
	require.Equal(t, 1, current)
}

func TestModuleIndexForSlaveUnmapped(t *testing.T) {
	_, ok := ModuleIndexForSlave(nil, 5)
	require.False(t, ok)
}

func TestLoadSlaveMappingIgnoresNonSlaveSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slaves.ini")
	content := `
[DEFAULT]
SomeKey=ignored

[slave:1]
ModuleIndex=0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	mappings, err := LoadSlaveMapping(path)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
}
