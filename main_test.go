package main

import (
	"testing"

	"allin/cmd"

	"github.com/stretchr/testify/assert"
)

func TestVersion(t *testing.T) {
	assert.Equal(t, "dev", version)
}

func TestSetVersionPropagates(t *testing.T) {
	original := cmd.GetVersion()
	defer cmd.SetVersion(original)

	cmd.SetVersion("2.3.4-beta.1")
	assert.Equal(t, "2.3.4-beta.1", cmd.GetVersion())
}
