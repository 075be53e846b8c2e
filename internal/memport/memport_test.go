package memport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessError(t *testing.T) {
	err := ReadError(0x1000, 8, ErrTransient)
	assert.Equal(t, "read 0x1000+8: memport: transient access failure", err.Error())
	assert.True(t, IsTransient(err))
	assert.False(t, IsFatal(err))

	err = fmt.Errorf("walk: %w", LookupError("module", "client.dll", ErrUnavailable))
	assert.Equal(t, "walk: module client.dll: memport: port unavailable", err.Error())
	assert.True(t, IsFatal(err))

	var ae *AccessError
	assert.True(t, errors.As(err, &ae))
	assert.Equal(t, "client.dll", ae.Name)
}

func TestModule_Contains(t *testing.T) {
	m := Module{Base: 0x1000, Size: 0x100}
	assert.True(t, m.Contains(0x1000))
	assert.True(t, m.Contains(0x10FF))
	assert.False(t, m.Contains(0x1100))
	assert.False(t, m.Contains(0xFFF))
	assert.True(t, Module{}.Contains(0xDEAD))
}
