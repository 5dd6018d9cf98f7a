package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verigate/internal/lookup/models"
)

type stubProvider struct {
	id    string
	types []models.LookupType
	calls []models.ProviderCall
}

func (p *stubProvider) ID() string { return p.id }

func (p *stubProvider) Capabilities() Capabilities {
	return Capabilities{Protocol: ProtocolHTTP, Types: p.types, Version: "v1"}
}

func (p *stubProvider) Execute(_ context.Context, call models.ProviderCall) (*models.ProviderAnswer, error) {
	p.calls = append(p.calls, call)
	return &models.ProviderAnswer{StatusCode: models.StatusSuccess}, nil
}

func TestRegistry(t *testing.T) {
	uan := &stubProvider{id: "uan", types: []models.LookupType{models.LookupMobile, models.LookupMobileToUAN}}
	pan := &stubProvider{id: "pan", types: []models.LookupType{models.LookupPANVerification}}

	reg := NewRegistry()
	require.NoError(t, reg.Register(uan))
	require.NoError(t, reg.Register(pan))

	t.Run("routes by lookup type", func(t *testing.T) {
		_, err := reg.Execute(context.Background(), models.ProviderCall{LookupType: models.LookupMobile})
		require.NoError(t, err)
		assert.Len(t, uan.calls, 1)
		assert.Empty(t, pan.calls)
	})

	t.Run("unknown type has no executor", func(t *testing.T) {
		_, err := reg.Execute(context.Background(), models.ProviderCall{LookupType: models.LookupUANFullHistory})
		assert.ErrorIs(t, err, ErrNoExecutor)
	})

	t.Run("duplicate id is rejected", func(t *testing.T) {
		err := reg.Register(&stubProvider{id: "uan"})
		assert.ErrorIs(t, err, ErrDuplicateProvider)
	})

	t.Run("type served twice is rejected", func(t *testing.T) {
		err := reg.Register(&stubProvider{id: "other", types: []models.LookupType{models.LookupMobile}})
		assert.ErrorIs(t, err, ErrDuplicateProvider)
		_, ok := reg.Get("other")
		assert.False(t, ok)
	})

	t.Run("lookup by id", func(t *testing.T) {
		p, ok := reg.Get("pan")
		require.True(t, ok)
		assert.Equal(t, "pan", p.ID())
	})
}
