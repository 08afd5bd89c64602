package grouping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupKey(t *testing.T) {
	tests := []struct {
		filename string
		expected string
	}{
		{"vestido-azul-1.jpg", "vestido-azul"},
		{"vestido-azul-2.jpg", "vestido-azul"},
		{"vestido_azul_02.png", "vestido_azul"},
		{"camisa3.jpeg", "camisa"},
		{"camisa.jpg", "camisa"},
		{"Blusa-Frente.jpg", "blusa"},
		{"blusa_costas.JPG", "blusa"},
		{"blusa lateral.webp", "blusa"},
		{"saia-detalhe-1.jpg", "saia"},
		{"uploads/2024/calca-1.jpg", "calca"},
		{"C:\\fotos\\calca-2.jpg", "calca"},
		{"frente.jpg", "frente"},
		{"123.jpg", "123"},
		{"noextension", "noextension"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.expected, GroupKey(tt.filename))
		})
	}
}

func TestGroupKey_NeverEmpty(t *testing.T) {
	for _, name := range []string{"", ".jpg", "-1.png", "__.jpg", " ", "-"} {
		key := GroupKey(name)
		assert.NotEmpty(t, key, "filename %q", name)
		assert.Equal(t, key, GroupKey(name), "filename %q", name)
	}
}

func TestGroupFiles_PreservesFirstSeenOrder(t *testing.T) {
	files := []string{"a-1.jpg", "b-1.jpg", "a-2.jpg"}

	groups := GroupFiles(files, func(f string) string { return f })

	require.Len(t, groups, 2)
	assert.Equal(t, "a", groups[0].Key)
	assert.Equal(t, []string{"a-1.jpg", "a-2.jpg"}, groups[0].Files)
	assert.Equal(t, "b", groups[1].Key)
	assert.Equal(t, []string{"b-1.jpg"}, groups[1].Files)
}

func TestGroupFiles_Empty(t *testing.T) {
	groups := GroupFiles([]string{}, func(f string) string { return f })
	assert.Empty(t, groups)
}

func TestProductName(t *testing.T) {
	assert.Equal(t, "Vestido Azul", ProductName("vestido-azul"))
	assert.Equal(t, "Camisa", ProductName("camisa"))
	assert.Equal(t, "Saia Longa Preta", ProductName("saia_longa--preta"))
	assert.Equal(t, "IPhone Case", ProductName("iPhone-case"))
}
