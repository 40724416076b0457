package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStatusSet(t *testing.T) {
	set, err := ParseStatusSet("container_not_open, CLOSED_CONTAINER_IO,,")
	require.NoError(t, err)
	require.Len(t, set, 2)
	require.True(t, set.Contains(StatusContainerNotOpen))
	require.True(t, set.Contains(StatusClosedContainerIO))
	require.False(t, set.Contains(StatusIOException))

	_, err = ParseStatusSet("CONTAINER_NOT_OPEN,NOT_A_STATUS")
	require.Error(t, err)

	empty, err := ParseStatusSet("")
	require.NoError(t, err)
	require.Len(t, empty, 0)
}

func TestStatusString(t *testing.T) {
	for s, name := range statusNames {
		parsed, err := ParseStatus(name)
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}
	require.Equal(t, "UNKNOWN(99)", Status(99).String())
}

func TestResult(t *testing.T) {
	r := Failure(StatusIOException, "disk %s failed", "sda")
	require.False(t, r.IsSuccess())
	require.Equal(t, "IO_EXCEPTION: disk sda failed", r.String())
	require.True(t, Success([]byte("x")).IsSuccess())
	require.True(t, DefaultRecoverableStatuses().Contains(StatusContainerNotOpen))
}
