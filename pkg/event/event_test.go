package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminal(t *testing.T) {
	assert.False(t, NewCreate("c1", "r1").IsTerminal())
	assert.True(t, NewFinish("d1", "r1").IsTerminal())
	assert.True(t, NewFail("d1", "r1", "boom").IsTerminal())
}

func TestNewFailCarriesMessage(t *testing.T) {
	e := NewFail("d1", "r1", "stage exploded")
	assert.Equal(t, Fail, e.Type)
	assert.Equal(t, Failure, e.Status)
	assert.Equal(t, "stage exploded", e.Message)
}
