// Copyright (C) 2022 K2 Cyber Security Inc.

package arch_test

import (
	"math"
	"testing"

	"github.com/k2io/lochook/internal/arch"
	"github.com/k2io/lochook/internal/status"
	"github.com/stretchr/testify/require"
)

func TestModes(t *testing.T) {
	for _, tc := range []struct {
		name      string
		mode      arch.Mode
		bits      int
		patch     int
		backup    int
		near      bool
		returnLen int
	}{
		{"relative32", arch.Relative32, 32, 5, 8, false, 5},
		{"near64", arch.Absolute64User, 64, 5, 8, true, 13},
		{"absolute64", arch.Absolute64Kernel, 64, 13, 16, false, 13},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.name, tc.mode.Name())
			require.Equal(t, tc.bits, tc.mode.Bits())
			require.Equal(t, tc.patch, tc.mode.PatchSize())
			require.Equal(t, tc.backup, tc.mode.BackupSize())
			require.GreaterOrEqual(t, tc.mode.BackupSize(), tc.mode.PatchSize())
			require.Equal(t, tc.near, tc.mode.NearAllocation())
			require.Equal(t, tc.returnLen, tc.mode.ReturnJumpSize())

			jump, err := tc.mode.EntryJump(0x1000, 0x2000)
			require.NoError(t, err)
			require.Len(t, jump, tc.patch)

			back, err := tc.mode.ReturnJump(0x2000, 0x1008)
			require.NoError(t, err)
			require.Len(t, back, tc.returnLen)
		})
	}
}

func TestRelativeJump(t *testing.T) {
	seq, err := arch.RelativeJump(0x1000, 0x2000)
	require.NoError(t, err)
	require.Equal(t, []byte{0xe9, 0xfb, 0x0f, 0x00, 0x00}, seq)

	seq, err = arch.RelativeJump(0x2000, 0x1000)
	require.NoError(t, err)
	require.Equal(t, []byte{0xe9, 0xfb, 0xef, 0xff, 0xff}, seq)
}

func TestRelativeJumpOutOfRange(t *testing.T) {
	if uint64(^uintptr(0)) == math.MaxUint32 {
		t.Skip("every target is reachable on 32-bit")
	}
	far := uint64(0x100000000)
	_, err := arch.RelativeJump(0x1000, uintptr(far+0x1000))
	require.Error(t, err)
	require.Equal(t, status.NotSupported, status.Code(err))
	require.True(t, arch.OverflowsS32(0x1000, uintptr(far+0x1000)))
	require.False(t, arch.OverflowsS32(uintptr(far+0x1000), uintptr(far)))
}

func TestAbsoluteSequences(t *testing.T) {
	require.Equal(t, []byte{
		0x49, 0xbb, 0x88, 0x77, 0x66, 0x55, 0x00, 0x00, 0x00, 0x00,
		0x41, 0xff, 0xe3,
	}, arch.AbsoluteJump(64, 0x55667788))

	require.Equal(t, []byte{0x41, 0xff, 0xd3}, arch.AbsoluteCall(64, 0x1234)[10:])
	require.Equal(t, []byte{0xb8, 0x34, 0x12, 0x00, 0x00, 0xff, 0xe0}, arch.AbsoluteJump(32, 0x1234))
	require.Equal(t, []byte{0xb8, 0x34, 0x12, 0x00, 0x00, 0xff, 0xd0}, arch.AbsoluteCall(32, 0x1234))
}

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		name, goarch string
		expected     arch.Mode
		code         status.Status
	}{
		{"auto", "amd64", arch.Absolute64User, status.Success},
		{"", "386", arch.Relative32, status.Success},
		{"relative32", "amd64", arch.Absolute64User, status.Success},
		{"near64", "amd64", arch.Absolute64User, status.Success},
		{"near64", "386", nil, status.NotSupported},
		{"absolute64", "amd64", arch.Absolute64Kernel, status.Success},
		{"absolute64", "386", nil, status.NotSupported},
		{"auto", "arm64", nil, status.NotSupported},
		{"sideways", "amd64", nil, status.InvalidParameter},
	} {
		mode, err := arch.Parse(tc.name, tc.goarch)
		require.Equal(t, tc.code, status.Code(err), "%s/%s", tc.name, tc.goarch)
		require.Equal(t, tc.expected, mode)
		if mode != nil {
			// the name of a parsed mode parses back to the same mode
			again, err := arch.Parse(mode.Name(), tc.goarch)
			require.NoError(t, err)
			require.Equal(t, mode, again)
		}
	}
}
