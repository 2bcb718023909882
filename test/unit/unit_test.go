// +build !integration

package unit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Nikitarc/aasun-kernel/kernelcfg"
	"github.com/Nikitarc/aasun-kernel/kernelerr"
)

func TestErrorCodeStringsAreStable(t *testing.T) {
	cases := []struct {
		code kernelerr.Code
		want string
	}{
		{kernelerr.ENONE, "ENONE"},
		{kernelerr.EFAIL, "EFAIL"},
		{kernelerr.EARG, "EARG"},
		{kernelerr.ETIMEOUT, "ETIMEOUT"},
		{kernelerr.EDEPLETED, "EDEPLETED"},
		{kernelerr.ESTATE, "ESTATE"},
		{kernelerr.EWOULDBLOCK, "EWOULDBLOCK"},
		{kernelerr.EFLUSH, "EFLUSH"},
		{kernelerr.ENOTALLOWED, "ENOTALLOWED"},
		{kernelerr.EMEMORY, "EMEMORY"},
		{kernelerr.ENOTFOUND, "ENOTFOUND"},
		{kernelerr.EIO, "EIO"},
		{kernelerr.ECORRUPT, "ECORRUPT"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.code.String())
	}
}

func TestErrorWrapPreservesCode(t *testing.T) {
	inner := kernelerr.New("inner.op", kernelerr.ModuleTLSF, kernelerr.EMEMORY, "out of memory")
	outer := kernelerr.Wrap("outer.op", kernelerr.ModuleMFS, kernelerr.EFAIL, inner)

	require.True(t, kernelerr.IsCode(outer, kernelerr.EFAIL))
	require.ErrorIs(t, outer, inner)
}

func TestDefaultConfigIsInternallyConsistent(t *testing.T) {
	cfg := kernelcfg.DefaultConfig()

	require.Greater(t, cfg.PriorityCount, 0)
	require.Greater(t, cfg.TaskMax, 0)
	require.Equal(t, cfg.TLSF.FLIMaxIndex, 17)
	require.Equal(t, cfg.MFS.BlockSize, uint32(512))
}
