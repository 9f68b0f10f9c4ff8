package georeference

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("join: %w", newError(KindScheduling, "failed syncing geoserver", cause))

	assert.Equal(t, KindScheduling, KindOf(err))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindInternal, KindOf(cause))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestError_Error(t *testing.T) {
	assert.Equal(t, "failed syncing geoserver: boom",
		newError(KindScheduling, "failed syncing geoserver", errors.New("boom")).Error())
	assert.Equal(t, "dataset not found", newError(KindNotFound, "dataset not found", nil).Error())
	assert.Equal(t, "boom", newError(KindExecution, "", errors.New("boom")).Error())
	assert.Equal(t, "validation", (&Error{Kind: KindValidation}).Error())
}

func TestKind_HTTPStatus(t *testing.T) {
	tests := map[Kind]int{
		KindNotFound:      http.StatusNotFound,
		KindValidation:    http.StatusBadRequest,
		KindStateConflict: http.StatusConflict,
		KindExecution:     http.StatusBadRequest,
		KindMetadata:      http.StatusInternalServerError,
		KindScheduling:    http.StatusServiceUnavailable,
		KindSync:          http.StatusBadGateway,
		KindInternal:      http.StatusInternalServerError,
	}
	for kind, status := range tests {
		assert.Equal(t, status, kind.HTTPStatus(), kind.String())
	}
}
