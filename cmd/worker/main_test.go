package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bazaar-market/bazaar-admin/internal/app"
	_ "github.com/bazaar-market/bazaar-admin/testing"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	assert.True(t, app.InTestMode())
	assert.NotPanics(t, main)
}
