package provider_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HierarchThurs/Argus/internal/provider"
)

func TestForKind(t *testing.T) {
	tests := []struct {
		name       string
		kind       provider.Kind
		wantHost   string
		requiresID bool
		dialect    provider.SearchDialect
		timeout    time.Duration
		wantErr    bool
	}{
		{
			name:     "qq",
			kind:     provider.KindQQ,
			wantHost: "imap.qq.com",
			dialect:  provider.SequenceThenFetchUID,
			timeout:  30 * time.Second,
		},
		{
			name:       "netease 163 requires id and raw search",
			kind:       provider.KindNetease163,
			wantHost:   "imap.163.com",
			requiresID: true,
			dialect:    provider.RawUIDSearch,
			timeout:    60 * time.Second,
		},
		{
			name:       "netease 126",
			kind:       provider.KindNetease126,
			wantHost:   "imap.126.com",
			requiresID: true,
			dialect:    provider.RawUIDSearch,
			timeout:    60 * time.Second,
		},
		{
			name:    "unknown kind",
			kind:    provider.Kind("GOPHERMAIL"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := provider.ForKind(tt.kind)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, p.Endpoints)
			assert.Equal(t, tt.wantHost, p.Endpoints.IMAPHost)
			assert.Equal(t, 993, p.Endpoints.IMAPPort)
			assert.Equal(t, tt.requiresID, p.RequiresID)
			assert.Equal(t, tt.dialect, p.Dialect)
			assert.Equal(t, tt.timeout, p.Timeout)
		})
	}
}

func TestForAddress(t *testing.T) {
	tests := []struct {
		address string
		want    provider.Kind
	}{
		{"someone@qq.com", provider.KindQQ},
		{"someone@163.com", provider.KindNetease163},
		{"someone@126.com", provider.KindNetease126},
		{"someone@yeah.net", provider.KindNeteaseYeah},
		{"student@hhstu.edu.cn", provider.KindSchool},
		{"Someone@QQ.COM", provider.KindQQ},
		{"someone@example.org", provider.KindCustom},
		{"not-an-address", provider.KindCustom},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			assert.Equal(t, tt.want, provider.ForAddress(tt.address).Kind)
		})
	}
}

func TestCustomHasNoEndpoints(t *testing.T) {
	p, err := provider.ForKind(provider.KindCustom)
	require.NoError(t, err)
	assert.Nil(t, p.Endpoints)
}

func TestIDArguments(t *testing.T) {
	p, err := provider.ForKind(provider.KindNetease163)
	require.NoError(t, err)

	args := p.IDArguments()
	assert.Equal(t, `("name" "argus" "version" "1.0.0" "vendor" "argusmail")`, args)
}

func TestQuoteMailbox(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain name untouched", "INBOX", "INBOX"},
		{"contains space", "Sent Messages", `"Sent Messages"`},
		{"contains quote", `a"b`, `"a\"b"`},
		{"backslash escaped", `a\b c`, `"a\\b c"`},
		{"already quoted", `"Sent Messages"`, `"Sent Messages"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, provider.QuoteMailbox(tt.in))
		})
	}
}
