package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{"  example.com  ", "example.com"},
		{"EXAMPLE.COM", "example.com"},
		{"https://example.com", "example.com"},
		{"http://example.com/path?q=1", "example.com"},
		{"www.example.com", "example.com"},
		{"WWW.Example.com", "example.com"},
		{"example.com:8080", "example.com"},
		{"https://www.example.com:443/watch", "example.com"},
		{"sub.domain.example.co.uk", "sub.domain.example.co.uk"},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"https://www.Example.com/a", "sub.example.org:9090", "x.y.z.example.net"}
	for _, in := range inputs {
		first, err := Normalize(in)
		require.NoError(t, err)
		second, err := Normalize(first)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestNormalizeRejects(t *testing.T) {
	bad := []string{
		"",
		"   ",
		"https://",
		"exa mple.com",
		".example.com",
		"example.com.",
		"ex..ample.com",
		"-example.com",
		"example-.com",
	}
	for _, in := range bad {
		_, err := Normalize(in)
		assert.ErrorIs(t, err, ErrInvalidDomain, "input %q", in)
	}
}

func TestParents(t *testing.T) {
	assert.Equal(t, []string{"b.example.com", "example.com", "com"}, Parents("a.b.example.com"))
	assert.Equal(t, []string{"com"}, Parents("example.com"))
	assert.Nil(t, Parents("localhost"))
}

func TestIsSystem(t *testing.T) {
	assert.True(t, IsSystem("localhost"))
	assert.True(t, IsSystem("ip6-loopback"))
	assert.False(t, IsSystem("example.com"))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("example.com"))
	assert.False(t, Valid("www.example.com")) // not canonical
	assert.False(t, Valid("Example.com"))
}
