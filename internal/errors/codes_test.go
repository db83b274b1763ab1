package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrationError_WrapsCause(t *testing.T) {
	cause := stderrors.New("throttled")
	err := fmt.Errorf("get user: %w", TransientDirectory("alice", cause))

	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, ErrCodeTransientDirectory, CodeOf(err))

	me, ok := AsMigrationError(err)
	assert.True(t, ok)
	assert.Equal(t, "alice", me.UserID)
	assert.True(t, me.Retryable())
	assert.Equal(t, "directory unavailable: throttled", me.Error())
}

func TestMigrationError_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, NotFound("a").HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, InvalidArgument("bad").HTTPStatus())
	assert.Equal(t, http.StatusConflict, Conflict("a", "exists").HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, TransientDirectory("a", nil).HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, FatalCreation("a", "create", nil).HTTPStatus())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeOK, CodeOf(nil))
	assert.Equal(t, ErrCodeInternal, CodeOf(stderrors.New("plain")))
	assert.True(t, IsNotFound(NotFound("x")))
	assert.Equal(t, "not found", NotFound("x").Error())
	assert.Equal(t, "PARTIAL_TRANSFER", ErrCodePartialTransfer.String())
}
