package dap

import (
	"fmt"
	"testing"
)

func formatConfig(depth int, hideUnmappedFrames bool, substitutePath []string) string {
	return fmt.Sprintf("stackTraceDepth\t%d\nhideUnmappedFrames\t%v\nsubstitutePath\t%v\n", depth, hideUnmappedFrames, substitutePath)
}

func TestListConfig(t *testing.T) {
	tests := []struct {
		name string
		args *attachArgs
		want string
	}{
		{
			name: "empty",
			args: &attachArgs{},
			want: formatConfig(0, false, nil),
		},
		{
			name: "default values",
			args: &defaultArgs,
			want: formatConfig(50, false, nil),
		},
		{
			name: "custom values",
			args: &attachArgs{
				stackTraceDepth:    35,
				hideUnmappedFrames: true,
				substitutePath:     []string{"/home/me/app -> /app"},
			},
			want: formatConfig(35, true, []string{"/home/me/app -> /app"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := listConfig(tt.args); got != tt.want {
				t.Errorf("listConfig() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigureSet(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    attachArgs
		wantErr bool
	}{
		{
			name: "set depth",
			args: "stackTraceDepth 10",
			want: attachArgs{stackTraceDepth: 10},
		},
		{
			name: "hide frames",
			args: "hideUnmappedFrames true",
			want: attachArgs{stackTraceDepth: 50, hideUnmappedFrames: true},
		},
		{
			name:    "list only",
			args:    "stackTraceDepth",
			want:    attachArgs{stackTraceDepth: 50},
			wantErr: false,
		},
		{
			name:    "bad number",
			args:    "stackTraceDepth many",
			want:    attachArgs{stackTraceDepth: 50},
			wantErr: true,
		},
		{
			name:    "read-only",
			args:    "substitutePath /a /b",
			want:    attachArgs{stackTraceDepth: 50},
			wantErr: true,
		},
		{
			name:    "unknown",
			args:    "showGlobalVariables true",
			want:    attachArgs{stackTraceDepth: 50},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := defaultArgs
			_, err := configureSet(&args, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("configureSet() error = %v, wantErr %v", err, tt.wantErr)
			}
			if args.stackTraceDepth != tt.want.stackTraceDepth || args.hideUnmappedFrames != tt.want.hideUnmappedFrames {
				t.Errorf("configureSet() got %#v, want %#v", args, tt.want)
			}
		})
	}
}
