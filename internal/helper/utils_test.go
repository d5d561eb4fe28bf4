package helper

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUID(t *testing.T) {
	id, err := GenerateUUID()
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Spring Promotion":      "spring-promotion",
		"  Acme / Realty & Co ": "acme-realty-co",
		"Café Déjà Vu":          "café-déjà-vu",
		"!!!":                   "untitled",
		"":                      "untitled",
		"req_42":                "req-42",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestShortHash(t *testing.T) {
	assert.Len(t, ShortHash("Spring Promotion"), 8)
	assert.Equal(t, ShortHash("a"), ShortHash("a"))
	assert.NotEqual(t, ShortHash("Spring!"), ShortHash("Spring?"))
}

func TestFprettyPrint(t *testing.T) {
	var buf bytes.Buffer
	FprettyPrint(&buf, map[string]int{"slides": 4})
	assert.Equal(t, "{\n  \"slides\": 4\n}\n", buf.String())

	buf.Reset()
	FprettyPrint(&buf, make(chan int))
	assert.Empty(t, buf.String())
}
