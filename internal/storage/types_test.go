package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSiteHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"news.example.com", "news.example.com"},
		{" News.Example.com. ", "news.example.com"},
		{"https://news.example.com/path?q=1", "news.example.com"},
		{"http://user@video.example.com:8080/", "video.example.com"},
		{"news.example.com/world", "news.example.com"},
		{"news.example.com:443", "news.example.com"},
		{"*.social.example.com", "social.example.com"},
		{"https://[2001:db8::1]:443/", "2001:db8::1"},
		{"https://", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, SiteHost(tt.in))
		})
	}
}

func TestSelectionNormalize(t *testing.T) {
	sel := Selection{
		Apps:  []string{" com.example.Game ", "com.example.Game", ""},
		Sites: []string{"https://news.example.com/", "NEWS.example.com", "video.example.com:443", "https://"},
	}.Normalize()

	// App identifiers keep their case
	require.Equal(t, []string{"com.example.Game"}, sel.Apps)
	require.Equal(t, []string{"news.example.com", "video.example.com"}, sel.Sites)
}
