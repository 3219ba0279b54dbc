package coredump

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memfault/memfaultd-go/internal/config"
)

func TestGenerateTmpFileNameUsesExtensionForCompression(t *testing.T) {
	assert.Regexp(t, `^core-[0-9a-f-]+\.elf\.gz$`, generateTmpFileName("gzip"))
	assert.Regexp(t, `^core-[0-9a-f-]+\.elf$`, generateTmpFileName("none"))
}

func TestProcessCmdLineReturnsEmptyForUnreadablePid(t *testing.T) {
	assert.Equal(t, "", processCmdLine(-1))
}

func TestProcessCmdLineReadsOwnProcess(t *testing.T) {
	cmdline := processCmdLine(os.Getpid())
	assert.NotEmpty(t, cmdline)
}

func TestCalculateAvailableSpaceCapsToSizeConfig(t *testing.T) {
	dir := t.TempDir()

	h := &Handler{
		cfg: HandlerConfig{
			Disk: config.DiskConfig{
				StagingRoot:      dir,
				MinHeadroomBytes: 0,
			},
			Coredump: config.CoredumpConfig{SizeCapBytes: 1},
		},
	}

	size, err := h.calculateAvailableSpace()
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)
}

func TestCalculateAvailableSpaceReturnsZeroWithoutHeadroom(t *testing.T) {
	dir := t.TempDir()

	h := &Handler{
		cfg: HandlerConfig{
			Disk: config.DiskConfig{
				StagingRoot:      dir,
				MinHeadroomBytes: 1 << 62, // far beyond any real filesystem's free space
			},
			Coredump: config.CoredumpConfig{SizeCapBytes: 1 << 20},
		},
	}

	size, err := h.calculateAvailableSpace()
	require.NoError(t, err)
	assert.EqualValues(t, 0, size)
}

func TestCheckRateLimitUsesConfiguredWindow(t *testing.T) {
	dir := t.TempDir()

	h := &Handler{
		cfg: HandlerConfig{
			Disk:     config.DiskConfig{StagingRoot: dir},
			Coredump: config.CoredumpConfig{RateLimitCount: 1, RateLimitWindow: config.DefaultConfig().Coredump.RateLimitWindow},
		},
	}

	allowed, err := h.checkRateLimit()
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = h.checkRateLimit()
	require.NoError(t, err)
	assert.False(t, allowed)
}
