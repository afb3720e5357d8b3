package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "w" + string(rune('a'+i%26))
	}
	return strings.Join(w, " ")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(0, 0)
	assert.Error(t, err)
	_, err = New(10, 10)
	assert.Error(t, err)
	_, err = New(10, -1)
	assert.Error(t, err)

	c, err := New(500, 50)
	require.NoError(t, err)
	assert.Equal(t, 500, c.Size())
	assert.Equal(t, 50, c.Overlap())
}

func TestChunk_EmptyText(t *testing.T) {
	c, _ := New(5, 1)
	for _, in := range []string{"", "   ", "\n\t\r\n"} {
		res := c.Chunk(in, "en")
		assert.Empty(t, res.Passages)
		assert.Equal(t, []Warning{WarnEmptyText}, res.Warnings)
	}
}

func TestChunk_ShortTextYieldsOnePassage(t *testing.T) {
	c, _ := New(500, 50)
	res := c.Chunk("climate  policy\n\nbrief", "en")
	assert.Equal(t, []string{"climate policy brief"}, res.Passages)
	assert.Empty(t, res.Warnings)
}

func TestChunk_ExactlyOneWindow(t *testing.T) {
	c, _ := New(4, 1)
	res := c.Chunk("a b c d", "en")
	assert.Equal(t, []string{"a b c d"}, res.Passages)
}

func TestChunk_OverlapWindows(t *testing.T) {
	c, _ := New(4, 2)
	res := c.Chunk("t1 t2 t3 t4 t5 t6 t7", "en")
	assert.Equal(t, []string{
		"t1 t2 t3 t4",
		"t3 t4 t5 t6",
		"t5 t6 t7",
	}, res.Passages)
}

func TestChunk_LastWindowEndsAtFinalToken(t *testing.T) {
	c, _ := New(500, 50)
	res := c.Chunk(words(1000), "en")

	require.Len(t, res.Passages, 3)
	for _, p := range res.Passages {
		assert.LessOrEqual(t, len(strings.Fields(p)), 500)
	}
	last := strings.Fields(res.Passages[2])
	assert.Len(t, last, 100)
}

func TestChunk_Deterministic(t *testing.T) {
	c, _ := New(7, 3)
	in := words(100)
	assert.Equal(t, c.Chunk(in, "en"), c.Chunk(in, "en"))
}

func TestChunk_Tamil(t *testing.T) {
	c, _ := New(3, 1)
	res := c.Chunk("சுற்றுச்சூழல் கொள்கை  மாற்றம்\nகாலநிலை நீதி", "ta")
	assert.Equal(t, []string{
		"சுற்றுச்சூழல் கொள்கை மாற்றம்",
		"மாற்றம் காலநிலை நீதி",
	}, res.Passages)
}
