package cachelot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/caidongyun/cachelot/internal/util"
)

type stubError string

func (s stubError) Error() string { return string(s) }

func TestProtocolError_ClientErrorCarriesNoCause(t *testing.T) {
	e := newClientError("bad command line format")
	assert.Equal(t, KindClientError, e.Kind)
	assert.Nil(t, e.Cause())
}

func TestProtocolError_ServerErrorUnwrapsToCause(t *testing.T) {
	root := stubError("disk fell over")
	e := newServerError(root, "storing value")
	assert.Equal(t, KindServerError, e.Kind)

	unwrapped := util.Unwrap(e)
	if assert.NotNil(t, unwrapped) {
		assert.NotEqual(t, e, unwrapped, "Unwrap must peel past the ProtocolError itself")
	}
}

func TestProtocolError_UnwrapPassesThroughPlainErrors(t *testing.T) {
	plain := stubError("no Underlying method here")
	assert.Equal(t, plain, util.Unwrap(plain))
}
