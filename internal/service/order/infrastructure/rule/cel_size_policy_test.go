package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printforge/internal/pkg/config"
	"printforge/internal/service/order/domain"
)

var specs = []config.SizeSpec{
	{Code: "30x40", WidthCM: 30, HeightCM: 40},
	{Code: "50x70", WidthCM: 50, HeightCM: 70},
	{Code: "100x70", WidthCM: 100, HeightCM: 70},
}

func TestCELSizePolicy_LongEdgeRule(t *testing.T) {
	p, err := NewCELSizePolicy("long_edge_cm >= 70.0", specs)
	require.NoError(t, err)

	tests := []struct {
		code    string
		premium bool
	}{
		{"30x40", false},
		{"50x70", true},
		{"100x70", true},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			size, err := p.Resolve(tt.code)
			require.NoError(t, err)
			assert.Equal(t, tt.premium, size.Premium)
			assert.Equal(t, tt.code, size.Code)
		})
	}
}

func TestCELSizePolicy_CodeRule(t *testing.T) {
	p, err := NewCELSizePolicy(`code == "30x40"`, specs)
	require.NoError(t, err)

	size, err := p.Resolve("30x40")
	require.NoError(t, err)
	assert.True(t, size.Premium)

	size, err = p.Resolve("50x70")
	require.NoError(t, err)
	assert.False(t, size.Premium)
}

func TestCELSizePolicy_EmptyRuleMeansNoPremium(t *testing.T) {
	p, err := NewCELSizePolicy("", specs)
	require.NoError(t, err)

	size, err := p.Resolve("100x70")
	require.NoError(t, err)
	assert.False(t, size.Premium)
}

func TestCELSizePolicy_UnknownSize(t *testing.T) {
	p, err := NewCELSizePolicy("false", specs)
	require.NoError(t, err)

	_, err = p.Resolve("A0")
	assert.ErrorIs(t, err, domain.ErrUnknownSize)
}

func TestCELSizePolicy_InvalidRule(t *testing.T) {
	_, err := NewCELSizePolicy("long_edge_cm >=", specs)
	assert.Error(t, err)

	_, err = NewCELSizePolicy("width_cm + 1.0", specs)
	assert.Error(t, err)
}
