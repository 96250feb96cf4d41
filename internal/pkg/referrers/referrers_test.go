package referrers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"requestanalytics/internal/pkg/referrers"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		domain string
		name   string
		kind   referrers.Kind
	}{
		{"google.com", "Google", referrers.Search},
		{"www.google.com", "Google", referrers.Search},
		{"GOOGLE.COM", "Google", referrers.Search},
		{"news.ycombinator.com", "Hacker News", referrers.Community},
		{"old.reddit.com", "Reddit", referrers.Community},
		{"m.facebook.com", "Facebook", referrers.Social},
		{"mobile.twitter.com", "X/Twitter", referrers.Social},
		{"mail.google.com", "Gmail", referrers.Email},
		{"t.co", "X/Twitter", referrers.Social},
		{"bit.ly", "Bitly", referrers.Shortener},
		{"www.example.com", "example.com", referrers.Other},
		{"blog.example.io", "blog.example.io", referrers.Other},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			src := referrers.Classify(tt.domain)
			assert.Equal(t, tt.name, src.Name)
			assert.Equal(t, tt.kind, src.Kind)
		})
	}
}

func TestClassifyEmpty(t *testing.T) {
	assert.Equal(t, referrers.Source{}, referrers.Classify(""))
	assert.Equal(t, referrers.Source{}, referrers.Classify("www."))
}
