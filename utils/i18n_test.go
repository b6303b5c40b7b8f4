package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindTitle(t *testing.T) {
	assert.Equal(t, "The request is invalid", KindTitle(GetLocalizer("en"), KindValidation))
	assert.Equal(t, "ページが見つかりません", T(GetLocalizer("ja"), "error_404"))
	assert.Equal(t, "missing_id", T(nil, "missing_id"))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindForbidden, KindOf(ForbiddenError("nope", nil)))
	assert.Equal(t, KindInternal, KindOf(assert.AnError))
	assert.Equal(t, 400, ValidationError("bad", nil).Code)
	assert.Equal(t, 502, NetworkError("down", nil).Code)
}
