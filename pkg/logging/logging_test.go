package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// TestNew はNew関数を検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		level   string
		want    zapcore.Level
		wantErr bool
	}{
		{name: "空文字列はinfoになること", level: "", want: zapcore.InfoLevel},
		{name: "debugを指定できること", level: "debug", want: zapcore.DebugLevel},
		{name: "errorを指定できること", level: "error", want: zapcore.ErrorLevel},
		{name: "不正なレベルはエラーになること", level: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, err := New(tt.level)
			if tt.wantErr {
				if err == nil {
					t.Fatal("New()がエラーを返すべきだが、nilが返った")
				}
				return
			}
			if err != nil {
				t.Fatalf("New()でエラーが発生: %v", err)
			}
			if !logger.Core().Enabled(tt.want) {
				t.Errorf("レベル %v が有効になっていない", tt.want)
			}
			if tt.want > zapcore.DebugLevel && logger.Core().Enabled(tt.want-1) {
				t.Errorf("レベル %v より下が有効になっている", tt.want)
			}
		})
	}
}
