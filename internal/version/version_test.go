package version

import (
	"bytes"
	"runtime/debug"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// TestVersionStrings ensures Short and Full return non-empty consistent information.
func TestVersionStrings(t *testing.T) {
	t.Parallel()

	require.NotEmpty(t, Short())
	require.Contains(t, Full(), Short())
}

// TestFromBuildInfo prefers injected values over the VCS stamp.
func TestFromBuildInfo(t *testing.T) {
	t.Parallel()

	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.time", Value: "2024-01-01T10:00:00Z"},
	}

	commit, builtAt := fromBuildInfo(settings, "none", "unknown")
	require.Equal(t, "0123456", commit)
	require.Equal(t, "2024-01-01T10:00:00Z", builtAt)

	commit, builtAt = fromBuildInfo(settings, "abc1234", "2025-05-05")
	require.Equal(t, "abc1234", commit)
	require.Equal(t, "2025-05-05", builtAt)
}

// TestAttachCobraVersionCommand prints the full version.
func TestAttachCobraVersionCommand(t *testing.T) {
	t.Parallel()

	root := &cobra.Command{Use: "alarm-relay"}
	AttachCobraVersionCommand(root)

	var out bytes.Buffer

	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), "alarm-relay "+Short())
}
