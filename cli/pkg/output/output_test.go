package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	oldOut, oldErr, oldNoColor := Out, Err, color.NoColor
	Out, Err, color.NoColor = &out, &errOut, true
	t.Cleanup(func() { Out, Err, color.NoColor = oldOut, oldErr, oldNoColor })
	return &out, &errOut
}

func TestMessages(t *testing.T) {
	out, errOut := capture(t)

	Success("Created %d items", 5)
	Info("Processing %d of %d", 1, 2)
	Warn("Disk usage is %d%%", 95)
	Error("Failed to connect to %s", "server")

	assert.Equal(t, "✓ Created 5 items\nProcessing 1 of 2\n⚠ Disk usage is 95%\n", out.String())
	assert.Equal(t, "✗ Failed to connect to server\n", errOut.String())
}

func TestJSON(t *testing.T) {
	out, _ := capture(t)

	require.NoError(t, JSON(map[string]any{"user": map[string]any{"name": "alice"}}))

	assert.Contains(t, out.String(), "    \"name\": \"alice\"")
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &parsed))
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTableRender(t *testing.T) {
	out, _ := capture(t)

	table := NewTable("Version", "Id")
	table.AddRow("1", "0190a1b2")
	table.AddRow("12")
	table.Render()

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Version  Id        ", lines[0])
	assert.Equal(t, "-------  --------  ", lines[1])
	assert.Equal(t, "1        0190a1b2  ", lines[2])
	assert.Equal(t, "12                 ", lines[3])
}
