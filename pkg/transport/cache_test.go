package transport

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-ehf/internal/testpki"
	"github.com/sirosfoundation/go-ehf/pkg/token"
)

type stubChannel struct {
	id int
}

func (s *stubChannel) Send(context.Context, *token.Token, *Request) ([]byte, error) {
	return nil, nil
}

func TestChannelCache(t *testing.T) {
	opened := 0
	cache := NewChannelCache(FactoryFunc(func(cfg ChannelConfig) (Channel, error) {
		opened++
		return &stubChannel{id: opened}, nil
	}))

	root := testpki.NewRoot(t, "Root")
	first := root.Leaf(t, "APP_1")
	second := root.Leaf(t, "APP_1")

	a, _ := url.Parse("https://a.example/as")
	b, _ := url.Parse("https://b.example/as")

	ch1, err := cache.Open(ChannelConfig{Address: a, Identity: "APP_1", PeerCertificate: first.Cert})
	require.NoError(t, err)
	ch2, err := cache.Open(ChannelConfig{Address: a, Identity: "app_1", PeerCertificate: first.Cert})
	require.NoError(t, err)
	assert.Same(t, ch1, ch2)
	assert.Equal(t, 1, opened)

	ch3, err := cache.Open(ChannelConfig{Address: a, Identity: "APP_1", PeerCertificate: second.Cert})
	require.NoError(t, err)
	assert.NotSame(t, ch1, ch3)
	assert.Equal(t, 2, opened)
	assert.Equal(t, 1, cache.Len())

	_, err = cache.Open(ChannelConfig{Address: b, Identity: "APP_1", PeerCertificate: first.Cert})
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Len())

	cache.Invalidate(a.String())
	assert.Equal(t, 1, cache.Len())
	ch4, err := cache.Open(ChannelConfig{Address: a, Identity: "APP_1", PeerCertificate: second.Cert})
	require.NoError(t, err)
	assert.NotSame(t, ch3, ch4)
	assert.Equal(t, 4, opened)
}

func TestChannelCache_Errors(t *testing.T) {
	errOpen := errors.New("open failed")
	cache := NewChannelCache(FactoryFunc(func(ChannelConfig) (Channel, error) {
		return nil, errOpen
	}))

	insecure, _ := url.Parse("http://a.example/as")
	_, err := cache.Open(ChannelConfig{Address: insecure, Identity: "APP_1"})
	require.ErrorIs(t, err, ErrInsecureAddress)

	secure, _ := url.Parse("https://a.example/as")
	_, err = cache.Open(ChannelConfig{Address: secure, Identity: "APP_1"})
	require.ErrorIs(t, err, errOpen)
	assert.Equal(t, 0, cache.Len())
}
