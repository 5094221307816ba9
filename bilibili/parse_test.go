package bilibili

import (
	"testing"
)

func TestParseOID(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		businessID int
		nativeURI  string
		wantOID    int64
		wantType   int
		wantErr    bool
	}{
		{
			name:     "动态内评论",
			uri:      "https://t.bilibili.com/876534210468249617",
			wantOID:  876534210468249617,
			wantType: 17,
		},
		{
			name:       "动态内评论带业务类型",
			uri:        "https://t.bilibili.com/876534210468249617",
			businessID: 33,
			wantOID:    876534210468249617,
			wantType:   33,
		},
		{
			name:     "带图动态内评论",
			uri:      "https://h.bilibili.com/ywh/123456789",
			wantOID:  123456789,
			wantType: 11,
		},
		{
			name:     "专栏内评论",
			uri:      "https://www.bilibili.com/read/cv12345678",
			wantOID:  12345678,
			wantType: 12,
		},
		{
			name:     "opus 动态内评论",
			uri:      "https://www.bilibili.com/opus/912345678901234567",
			wantOID:  912345678901234567,
			wantType: 17,
		},
		{
			name:      "视频内评论",
			uri:       "https://www.bilibili.com/video/BV1xx411c7mD",
			nativeURI: "bilibili://video/170001?comment_root_id=1234",
			wantOID:   170001,
			wantType:  1,
		},
		{
			name:      "番剧内评论",
			uri:       "https://www.bilibili.com/bangumi/play/ep123456",
			nativeURI: "bilibili://video/98765",
			wantOID:   98765,
			wantType:  1,
		},
		{
			name:    "无法识别的链接",
			uri:     "https://live.bilibili.com/12345",
			wantErr: true,
		},
		{
			name:      "视频链接但 native_uri 缺失",
			uri:       "https://www.bilibili.com/video/BV1xx411c7mD",
			nativeURI: "",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oid, tp, err := parseOID(tt.uri, tt.businessID, tt.nativeURI)

			if tt.wantErr {
				if err == nil {
					t.Errorf("期望出错，实际解析出 oid=%d type=%d", oid, tp)
				}
				return
			}
			if err != nil {
				t.Fatalf("解析失败: %v", err)
			}
			if oid != tt.wantOID {
				t.Errorf("oid 解析错误，期望: %d, 实际: %d", tt.wantOID, oid)
			}
			if tp != tt.wantType {
				t.Errorf("type 解析错误，期望: %d, 实际: %d", tt.wantType, tp)
			}
		})
	}
}

func TestExtractCID(t *testing.T) {
	tests := []struct {
		name      string
		nativeURI string
		want      int64
	}{
		{"正常提取", "bilibili://video/170001?cid=279786&dmid=123", 279786},
		{"没有 cid", "bilibili://video/170001", 0},
		{"空串", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractCID(tt.nativeURI); got != tt.want {
				t.Errorf("cid 提取错误，期望: %d, 实际: %d", tt.want, got)
			}
		})
	}
}
