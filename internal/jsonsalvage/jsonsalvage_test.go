package jsonsalvage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecoverPlainJSON(t *testing.T) {
	got, ok := Recover(`{"role":"operator","confidence":0.8}`)
	assert.True(t, ok)
	assert.JSONEq(t, `{"role":"operator","confidence":0.8}`, got)
}

func TestRecoverFencedBlock(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"role\":\"client\",\"confidence\":0.9}\n```\nThanks."
	got, ok := Recover(raw)
	assert.True(t, ok)
	assert.JSONEq(t, `{"role":"client","confidence":0.9}`, got)
}

func TestRecoverBraceBalanceWithTrailingGarbage(t *testing.T) {
	raw := `noise before {"a": 1, "b": {"c": 2}} noise after {broken`
	got, ok := Recover(raw)
	assert.True(t, ok)
	assert.JSONEq(t, `{"a":1,"b":{"c":2}}`, got)
}

func TestRecoverUnsalvageable(t *testing.T) {
	_, ok := Recover("not json at all, no braces here")
	assert.False(t, ok)
}

func TestExtractObjectsSkipsMalformed(t *testing.T) {
	objs := ExtractObjects(`{"x":1} garbage {not json} {"y":2}`)
	assert.Len(t, objs, 2)
}
