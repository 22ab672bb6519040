package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("mark read: %w", State("cannot update own message status"))

	assert.Equal(t, KindState, KindOf(err))
	assert.True(t, HasKind(err, KindState))
	assert.True(t, errors.Is(err, &Error{Kind: KindState}))
	assert.False(t, errors.Is(err, &Error{Kind: KindNotFound}))
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
	assert.Equal(t, "cannot update own message status", Message(err))
}

func TestInternalHidesCause(t *testing.T) {
	err := Internal(errors.New("pq: connection refused"), "store message")

	assert.Equal(t, "internal error", Message(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
	assert.ErrorContains(t, err, "connection refused")
}

func TestUnclassifiedIsInternal(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
	assert.False(t, HasKind(nil, KindInternal))
}

func TestStatusMapping(t *testing.T) {
	cases := map[int]error{
		http.StatusBadRequest: Validation("bad"),
		http.StatusForbidden:  Authorization("no"),
		http.StatusNotFound:   NotFound("gone"),
		http.StatusBadGateway: Transport(errors.New("closed"), "write"),
	}
	for status, err := range cases {
		assert.Equal(t, status, HTTPStatus(err), err.Error())
	}
}
