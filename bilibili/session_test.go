package bilibili

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	tests := []struct {
		name     string
		cookie   string
		wantCSRF string
		wantErr  bool
	}{
		{
			name:     "完整 cookie",
			cookie:   "SESSDATA=abc123; bili_jct=f00dbabe; DedeUserID=10086",
			wantCSRF: "f00dbabe",
		},
		{
			name:     "bili_jct 在末尾",
			cookie:   "SESSDATA=abc123; bili_jct=deadbeef",
			wantCSRF: "deadbeef",
		},
		{
			name:    "缺少 bili_jct",
			cookie:  "SESSDATA=abc123; DedeUserID=10086",
			wantErr: true,
		},
		{
			name:    "bili_jct 为空",
			cookie:  "bili_jct=; SESSDATA=abc",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := NewSession(tt.cookie)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCSRF, session.CSRF)
			assert.True(t, session.Valid())
		})
	}
}

func TestSessionWithIdentity(t *testing.T) {
	session, err := NewSession("bili_jct=token123; SESSDATA=x")
	require.NoError(t, err)
	assert.Equal(t, int64(0), session.Identity())

	withID := session.WithIdentity(10086, "测试账号")
	assert.Equal(t, int64(10086), withID.Identity())
	assert.Equal(t, "测试账号", withID.Username)
	// 原会话不变
	assert.Equal(t, int64(0), session.Identity())
}
